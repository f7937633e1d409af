package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sharedBus "github.com/davicafu/formintake/internal/shared/infra/platform/bus"
)

// InMemoryEventBus reparte eventos serializados a suscriptores locales.
// Es el sustituto del bus real cuando PUBLISHER=log.
type InMemoryEventBus struct {
	subscribers []chan []byte
	mu          sync.RWMutex
	topic       string
}

var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

// ErrSubscriberFull indica que algún suscriptor no tenía hueco para el mensaje.
var ErrSubscriberFull = errors.New("subscriber buffer full")

func NewInMemoryEventBus(topic string) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make([]chan []byte, 0),
		topic:       topic,
	}
}

func (b *InMemoryEventBus) Topic() string { return b.topic }

// Publish envía el evento a todos los suscriptores sin bloquear.
// Si el buffer de alguno está lleno devuelve ErrSubscriberFull para que el
// outbox reintente; los que sí lo recibieron pueden verlo otra vez.
func (b *InMemoryEventBus) Publish(ctx context.Context, event interface{}) error {
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, subChan := range b.subscribers {
		select {
		case subChan <- payloadBytes:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d subscribers", ErrSubscriberFull, dropped, len(b.subscribers))
	}
	return nil
}

// Subscribe registra un nuevo oyente con el buffer indicado.
func (b *InMemoryEventBus) Subscribe(bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	subChan := make(chan []byte, bufferSize)
	b.subscribers = append(b.subscribers, subChan)
	return subChan
}
