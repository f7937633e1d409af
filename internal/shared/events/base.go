package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Base de todos los eventos de integración que salen por el bus.
type IntegrationEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Key       string          `json:"key,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"` // contenido específico del evento
}

// PartitionKey mantiene juntos los eventos de una misma submission.
func (e *IntegrationEvent) PartitionKey() string {
	return e.Key
}
