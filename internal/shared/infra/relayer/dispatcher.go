package relayer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
)

// Drainer es la parte de la cola de outbox que usa el dispatcher.
type Drainer interface {
	DrainBatch(ctx context.Context, limit int) (outboxDomain.DrainResult, error)
}

// Dispatcher drena el outbox a intervalos fijos mientras viva el proceso.
type Dispatcher struct {
	queue     Drainer
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

func NewDispatcher(queue Drainer, interval time.Duration, batchSize int, log *zap.Logger) *Dispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Dispatcher{queue: queue, interval: interval, batchSize: batchSize, log: log}
}

// Start bloquea hasta que ctx se cancela. Cada tick es independiente: un
// error se registra y el bucle sigue.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info("🚀 Outbox dispatcher iniciado",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("🛑 Outbox dispatcher detenido.")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick ejecuta un drenado de hasta batchSize eventos.
func (d *Dispatcher) Tick(ctx context.Context) {
	result, err := d.queue.DrainBatch(ctx, d.batchSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		d.log.Warn("⚠️ Error al drenar outbox", zap.Int("drained", result.Count), zap.Error(err))
		return
	}
	if result.Count > 0 {
		d.log.Debug("📬 Eventos despachados", zap.Int("count", result.Count))
	}
}
