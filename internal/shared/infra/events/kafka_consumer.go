package events

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler procesa el valor de un mensaje ya leído.
type MessageHandler interface {
	HandleMessage(ctx context.Context, payload []byte)
}

// MessageReader es la parte de *kafka.Reader que usa el adaptador.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// ConsumerAdapter lee del topic y entrega cada mensaje al handler.
type ConsumerAdapter struct {
	reader  MessageReader
	handler MessageHandler
	topic   string
	log     *zap.Logger
}

func NewConsumerAdapter(reader MessageReader, handler MessageHandler, topic string, log *zap.Logger) *ConsumerAdapter {
	return &ConsumerAdapter{reader: reader, handler: handler, topic: topic, log: log}
}

// NewKafkaReader crea un reader de grupo para el topic de notificaciones.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
}

// Start inicia el bucle de consumo en una goroutine y devuelve un canal que se
// cierra cuando el bucle termina.
func (c *ConsumerAdapter) Start(ctx context.Context) <-chan struct{} {
	c.log.Info("🎧 Iniciando consumidor de Kafka...", zap.String("topic", c.topic))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// ReadMessage es una llamada bloqueante.
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				// Si el contexto se cancela, el error es normal y salimos limpiamente.
				if ctx.Err() != nil {
					c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", c.topic))
					return
				}
				c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
				continue
			}

			c.handler.HandleMessage(ctx, msg.Value)
		}
	}()
	return done
}
