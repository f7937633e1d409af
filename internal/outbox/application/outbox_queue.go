package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedEvents "github.com/davicafu/formintake/internal/shared/events"
	sharedBus "github.com/davicafu/formintake/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/formintake/internal/shared/infra/utils"
	"github.com/davicafu/formintake/pkg/metrics"
)

const (
	DefaultDrainLimit   = 10
	MaxDrainLimit       = 100
	DefaultPendingLimit = 50
	MaxPendingLimit     = 100
)

// QueueConfig agrupa los parámetros de despacho.
type QueueConfig struct {
	Lease           time.Duration // lease de un evento reclamado
	PublishAttempts int           // reintentos de publicación dentro de un intento de despacho
	RetryDelay      time.Duration
	Clock           func() time.Time
}

// OutboxQueue drena eventos pendientes hacia el publisher.
// Lo comparten el dispatcher y el endpoint de drenado manual.
type OutboxQueue struct {
	repo      outboxDomain.OutboxRepository
	publisher sharedBus.EventBus
	cfg       QueueConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewOutboxQueue(
	repo outboxDomain.OutboxRepository,
	publisher sharedBus.EventBus,
	cfg QueueConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *OutboxQueue {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &OutboxQueue{repo: repo, publisher: publisher, cfg: cfg, metrics: m, log: log}
}

// DrainOne reclama el evento pending más antiguo, lo publica y lo marca sent
// (o failed si la publicación no fue posible). Devuelve ErrNoPendingEvents si
// no había nada que reclamar.
func (q *OutboxQueue) DrainOne(ctx context.Context) (*outboxDomain.OutboxEvent, error) {
	start := time.Now()
	defer func() { q.metrics.OutboxProcessingLatency.Observe(time.Since(start).Seconds()) }()

	evt, err := q.repo.ClaimNextPending(ctx, q.cfg.Clock(), q.cfg.Lease)
	if err != nil {
		if errors.Is(err, outboxDomain.ErrNoPendingEvents) {
			return nil, err
		}
		q.metrics.ObserveDB("claim_outbox", err)
		return nil, fmt.Errorf("claim outbox event: %w", err)
	}
	q.metrics.ObserveDB("claim_outbox", nil)

	notification, err := toIntegrationEvent(evt)
	if err == nil {
		err = sharedUtils.Retry(ctx, q.cfg.PublishAttempts, q.cfg.RetryDelay, func() error {
			return q.publisher.Publish(ctx, notification)
		})
	}

	if err != nil {
		if ctx.Err() != nil {
			// Se deja en pending: el lease vencerá y otro intento lo recogerá.
			return nil, ctx.Err()
		}
		return q.fail(ctx, evt, err)
	}

	if err := q.repo.MarkSent(ctx, evt.ID, q.cfg.Clock()); err != nil {
		q.metrics.ObserveDB("mark_outbox_sent", err)
		return nil, fmt.Errorf("mark outbox event %s sent: %w", evt.ID, err)
	}
	evt.Status = outboxDomain.StatusSent
	evt.LockedUntil = nil
	q.metrics.OutboxEventsDrained.WithLabelValues(string(outboxDomain.StatusSent)).Inc()
	q.log.Debug("✅ Evento despachado", zap.String("event_id", evt.ID.String()), zap.Int("attempts", evt.Attempts))
	return evt, nil
}

func (q *OutboxQueue) fail(ctx context.Context, evt *outboxDomain.OutboxEvent, cause error) (*outboxDomain.OutboxEvent, error) {
	msg := cause.Error()
	q.log.Warn("⚠️ No se pudo publicar evento",
		zap.String("event_id", evt.ID.String()),
		zap.Int("attempts", evt.Attempts),
		zap.Error(cause),
	)
	if err := q.repo.MarkFailed(ctx, evt.ID, msg, q.cfg.Clock()); err != nil {
		q.metrics.ObserveDB("mark_outbox_failed", err)
		return nil, fmt.Errorf("mark outbox event %s failed: %w", evt.ID, err)
	}
	evt.Status = outboxDomain.StatusFailed
	evt.LastError = &msg
	evt.LockedUntil = nil
	q.metrics.OutboxEventsDrained.WithLabelValues(string(outboxDomain.StatusFailed)).Inc()
	return evt, nil
}

// DrainBatch llama a DrainOne hasta limit veces y se detiene en cuanto no
// queda nada pendiente. Ante un error del store devuelve lo drenado hasta ese momento.
func (q *OutboxQueue) DrainBatch(ctx context.Context, limit int) (outboxDomain.DrainResult, error) {
	limit = clamp(limit, DefaultDrainLimit, MaxDrainLimit)
	result := outboxDomain.DrainResult{IDs: []uuid.UUID{}}

	for i := 0; i < limit; i++ {
		evt, err := q.DrainOne(ctx)
		if errors.Is(err, outboxDomain.ErrNoPendingEvents) {
			break
		}
		if err != nil {
			return result, err
		}
		result.Count++
		result.IDs = append(result.IDs, evt.ID)
	}
	return result, nil
}

// ListPending es de solo lectura, del más antiguo al más nuevo.
func (q *OutboxQueue) ListPending(ctx context.Context, limit int) ([]outboxDomain.OutboxEvent, error) {
	events, err := q.repo.ListPending(ctx, clamp(limit, DefaultPendingLimit, MaxPendingLimit))
	q.metrics.ObserveDB("list_pending_outbox", err)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox: %w", err)
	}
	if events == nil {
		events = []outboxDomain.OutboxEvent{}
	}
	return events, nil
}

func toIntegrationEvent(evt *outboxDomain.OutboxEvent) (*sharedEvents.IntegrationEvent, error) {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	return &sharedEvents.IntegrationEvent{
		ID:        evt.ID,
		Type:      evt.Type,
		Key:       evt.PartitionKey(),
		Timestamp: evt.CreatedAt,
		Data:      data,
	}, nil
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
