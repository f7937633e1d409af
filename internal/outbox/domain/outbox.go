package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus es el estado de entrega de un evento del outbox.
type OutboxStatus string

const (
	StatusPending OutboxStatus = "pending"
	StatusSent    OutboxStatus = "sent"
	StatusFailed  OutboxStatus = "failed"
)

// Colección / tabla donde viven los eventos.
const OutboxCollection = "submission_outbox"

var (
	ErrNoPendingEvents   = errors.New("no pending outbox events")
	ErrEventNotClaimable = errors.New("outbox event is no longer pending")
)

// OutboxEvent representa una notificación de dominio pendiente de despachar.
// Los eventos sent/failed no se vuelven a procesar; se conservan como auditoría.
type OutboxEvent struct {
	ID          uuid.UUID              `json:"id"`
	Type        string                 `json:"type"`
	Payload     map[string]interface{} `json:"payload"`
	Status      OutboxStatus           `json:"status"`
	Attempts    int                    `json:"attempts"`
	LastError   *string                `json:"lastError,omitempty"`
	LockedUntil *time.Time             `json:"-"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// NewOutboxEvent construye un evento en estado pending con attempts=0.
func NewOutboxEvent(eventType string, payload map[string]interface{}, now time.Time) OutboxEvent {
	return OutboxEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PartitionKey usa el submissionId del payload para mantener el orden por envío.
func (e *OutboxEvent) PartitionKey() string {
	if v, ok := e.Payload["submissionId"].(string); ok && v != "" {
		return v
	}
	return e.ID.String()
}

// IsTerminal indica si el evento ya no puede cambiar de estado.
func (e *OutboxEvent) IsTerminal() bool {
	return e.Status == StatusSent || e.Status == StatusFailed
}

// DrainResult resume un drenado manual o de un tick del dispatcher.
type DrainResult struct {
	Count int         `json:"count"`
	IDs   []uuid.UUID `json:"ids"`
}

// OutboxRepository es el contrato que necesitan la cola y el dispatcher.
//
// ClaimNextPending selecciona de forma atómica el evento pending más antiguo sin
// lease vigente, incrementa attempts y fija lockedUntil = now+lease. Dos llamadas
// concurrentes nunca obtienen el mismo evento mientras el lease siga vivo.
// Devuelve ErrNoPendingEvents si no hay nada que reclamar.
//
// MarkSent y MarkFailed solo transicionan eventos en pending; en otro caso
// devuelven ErrEventNotClaimable.
type OutboxRepository interface {
	ClaimNextPending(ctx context.Context, now time.Time, lease time.Duration) (*OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error
	ListPending(ctx context.Context, limit int) ([]OutboxEvent, error)
}
