package domain

import (
	"context"

	"github.com/google/uuid"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
)

// SubmissionRepository es el puerto hacia el almacén durable.
//
// Create persiste la submission y su evento de outbox. Reclama antes el
// dedupeKey con un insert-if-absent; si ya estaba reclamado devuelve
// ErrDuplicateSubmission sin escribir nada.
type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission, evt outboxDomain.OutboxEvent) error
	FindByDedupeKey(ctx context.Context, key string) (*Submission, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	ListByBusiness(ctx context.Context, businessID string, p sharedQuery.OffsetPagination) ([]*Submission, int64, error)
}
