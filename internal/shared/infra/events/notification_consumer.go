package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/formintake/internal/shared/events"
	sharedUtils "github.com/davicafu/formintake/internal/shared/infra/utils"
)

// FormSubmittedType replica el tipo de evento de dominio para no importar el dominio aquí.
const FormSubmittedType = "FormSubmitted"

// NotificationConsumer es el oyente local de las notificaciones despachadas.
type NotificationConsumer struct {
	log    *zap.Logger
	handle func(sharedEvents.FormSubmitted)
}

// NewNotificationConsumer crea el consumidor. handle es opcional; por defecto solo registra.
func NewNotificationConsumer(log *zap.Logger, handle func(sharedEvents.FormSubmitted)) *NotificationConsumer {
	c := &NotificationConsumer{log: log, handle: handle}
	if c.handle == nil {
		c.handle = func(evt sharedEvents.FormSubmitted) {
			log.Info("📨 Notificación de formulario recibida",
				zap.String("submission_id", evt.SubmissionID),
				zap.String("business_id", evt.BusinessID),
				zap.String("form_id", evt.FormID),
				zap.Int("rating", evt.Rating),
			)
		}
	}
	return c
}

func (c *NotificationConsumer) HandleMessage(ctx context.Context, payload []byte) {
	var base sharedEvents.IntegrationEvent
	if err := json.Unmarshal(payload, &base); err != nil {
		c.log.Warn("Failed to unmarshal integration event", zap.Error(err))
		return
	}

	switch base.Type {
	case FormSubmittedType:
		sharedUtils.UnmarshalAndHandle[sharedEvents.FormSubmitted](c.log, base.Data, c.handle)
	default:
		c.log.Warn("Unknown event type", zap.String("type", base.Type))
	}
}

// BackgroundConsumerChan consume ch hasta que ctx se cancele.
func BackgroundConsumerChan(ctx context.Context, ch <-chan []byte, consumer *NotificationConsumer) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				consumer.log.Info("NotificationConsumer stopped")
				return
			case msg := <-ch:
				consumer.HandleMessage(ctx, msg)
			}
		}
	}()
}
