package events

import "time"

// Contrato de integración de FormSubmitted. Plano, NO es la entidad de dominio.
type FormSubmitted struct {
	SubmissionID string    `json:"submissionId"`
	BusinessID   string    `json:"businessId"`
	FranchiseID  *string   `json:"franchiseId"`
	FormID       string    `json:"formId"`
	Rating       int       `json:"rating"`
	CreatedAt    time.Time `json:"createdAt"`
}
