package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Colecciones / tablas persistidas.
const (
	SubmissionsCollection = "submissions"
	DedupeCollection      = "submission_dedupe"
)

// Category es un par {key, score} dentro de una respuesta.
type Category struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Submission es una respuesta de formulario. Una vez creada no se modifica.
type Submission struct {
	ID          uuid.UUID  `json:"id"`
	BusinessID  string     `json:"businessId"`
	FranchiseID string     `json:"franchiseId,omitempty"`
	FormID      string     `json:"formId"`
	Rating      int        `json:"rating"`
	Categories  []Category `json:"categories"`
	Comment     string     `json:"comment,omitempty"`
	StaffID     string     `json:"staffId,omitempty"`
	DeviceID    string     `json:"deviceId,omitempty"`
	IP          string     `json:"ip,omitempty"`
	DedupeKey   string     `json:"dedupeKey"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewSubmission agrupa la entrada de CreateSubmission.
type NewSubmission struct {
	BusinessID  string
	FranchiseID string
	FormID      string
	Rating      int
	Categories  []Category
	Comment     string
	StaffID     string
	DeviceID    string
	IP          string
	CreatedBy   string
}

// Validate comprueba los campos obligatorios y el rango de rating.
func (n NewSubmission) Validate() error {
	var missing []string
	if strings.TrimSpace(n.BusinessID) == "" {
		missing = append(missing, "businessId")
	}
	if strings.TrimSpace(n.FormID) == "" {
		missing = append(missing, "formId")
	}
	if n.Rating == 0 {
		missing = append(missing, "rating")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if n.Rating < MinRating || n.Rating > MaxRating {
		return fmt.Errorf("%w: rating must be between %d and %d", ErrInvalidInput, MinRating, MaxRating)
	}
	return nil
}

// Build materializa la Submission con id, dedupeKey y timestamps.
func (n NewSubmission) Build(now time.Time) *Submission {
	categories := n.Categories
	if categories == nil {
		categories = []Category{}
	}
	return &Submission{
		ID:          uuid.New(),
		BusinessID:  n.BusinessID,
		FranchiseID: n.FranchiseID,
		FormID:      n.FormID,
		Rating:      n.Rating,
		Categories:  categories,
		Comment:     n.Comment,
		StaffID:     n.StaffID,
		DeviceID:    n.DeviceID,
		IP:          n.IP,
		DedupeKey:   BuildDedupeKey(n.FormID, n.DeviceID, n.IP, now),
		CreatedBy:   n.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SubmissionPage es una página del listado por negocio.
type SubmissionPage struct {
	Items []*Submission `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// SubmissionCacheKeyByID es la clave de caché de una submission.
func SubmissionCacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("submission:id:%s", id.String())
}
