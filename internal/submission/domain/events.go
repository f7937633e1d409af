package domain

import (
	"time"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
)

// Tipo de evento emitido al crear una submission.
const FormSubmitted = "FormSubmitted"

// FormSubmittedPayload construye el documento que viaja en el outbox.
func FormSubmittedPayload(s *Submission) map[string]interface{} {
	var franchiseID interface{}
	if s.FranchiseID != "" {
		franchiseID = s.FranchiseID
	}
	return map[string]interface{}{
		"submissionId": s.ID.String(),
		"businessId":   s.BusinessID,
		"franchiseId":  franchiseID,
		"formId":       s.FormID,
		"rating":       s.Rating,
		"createdAt":    s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewFormSubmittedEvent crea el evento de outbox asociado a s.
func NewFormSubmittedEvent(s *Submission) outboxDomain.OutboxEvent {
	return outboxDomain.NewOutboxEvent(FormSubmitted, FormSubmittedPayload(s), s.CreatedAt)
}
