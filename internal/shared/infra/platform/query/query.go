package query

import "math"

// ---------- Paginación / ordenamiento ----------

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// PageParams define valores por defecto y tope de un listado paginado.
type PageParams struct {
	DefaultLimit int
	MaxLimit     int
}

// Normalize ajusta page (mínimo 1) y limit (default si <=0, tope MaxLimit).
func (p PageParams) Normalize(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = p.DefaultLimit
	}
	if p.MaxLimit > 0 && limit > p.MaxLimit {
		limit = p.MaxLimit
	}
	return clampPage(page, limit), limit
}

// clampPage acota page para que (page-1)*limit no desborde int.
func clampPage(page, limit int) int {
	if limit > 0 && page > math.MaxInt/limit {
		return math.MaxInt / limit
	}
	return page
}

// ToOffset convierte page/limit (1-based) en OffsetPagination.
func ToOffset(page, limit int) OffsetPagination {
	if page < 1 {
		page = 1
	}
	if limit < 0 {
		limit = 0
	}
	page = clampPage(page, limit)
	return OffsetPagination{Limit: limit, Offset: (page - 1) * limit}
}
