package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageParams_Normalize(t *testing.T) {
	params := PageParams{DefaultLimit: 20, MaxLimit: 100}

	tests := []struct {
		name                string
		page, limit         int
		wantPage, wantLimit int
	}{
		{"defaults", 0, 0, 1, 20},
		{"negative page", -3, 10, 1, 10},
		{"clamped limit", 2, 500, 2, 100},
		{"negative limit", 1, -5, 1, 20},
		{"passthrough", 3, 50, 3, 50},
		{"huge page", math.MaxInt / 10, 20, math.MaxInt / 20, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := params.Normalize(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestToOffset(t *testing.T) {
	assert.Equal(t, OffsetPagination{Limit: 10, Offset: 10}, ToOffset(2, 10))
	assert.Equal(t, OffsetPagination{Limit: 20, Offset: 0}, ToOffset(1, 20))
}

func TestToOffset_NeverNegative(t *testing.T) {
	params := PageParams{DefaultLimit: 20, MaxLimit: 100}

	for _, page := range []int{500000000000000000, math.MaxInt, math.MaxInt / 2} {
		p, limit := params.Normalize(page, 20)
		off := ToOffset(p, limit)
		assert.GreaterOrEqual(t, off.Offset, 0, "page %d", page)
		assert.Equal(t, 20, off.Limit)
	}

	// Sin pasar por Normalize también se acota
	assert.GreaterOrEqual(t, ToOffset(math.MaxInt, 100).Offset, 0)
	assert.Equal(t, OffsetPagination{Limit: 10, Offset: 0}, ToOffset(-4, 10))
}
