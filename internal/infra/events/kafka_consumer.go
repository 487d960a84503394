package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	"github.com/davicafu/hexaevents/internal/shared/infra/utils"
)

// EventHandler recibe los eventos ya decodificados de un topic.
type EventHandler interface {
	HandleEvent(ctx context.Context, event sharedEvents.IntegrationEvent) error
}

// EventHandlerFunc adapta una función a EventHandler.
type EventHandlerFunc func(ctx context.Context, event sharedEvents.IntegrationEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event sharedEvents.IntegrationEvent) error {
	return f(ctx, event)
}

// MessageReader es la parte de *kafka.Reader que usa el consumidor.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

const (
	handlerAttempts   = 3
	handlerRetryDelay = 200 * time.Millisecond
)

// NewKafkaReader crea un reader de grupo para un topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
}

// ConsumerAdapter es el "oído" que escucha en Kafka. El offset se confirma después
// de llamar al handler, así que la entrega es al menos una vez.
type ConsumerAdapter struct {
	reader   MessageReader
	registry *sharedEvents.Registry
	handler  EventHandler
	log      *zap.Logger
}

func NewConsumerAdapter(reader MessageReader, registry *sharedEvents.Registry, handler EventHandler, log *zap.Logger) *ConsumerAdapter {
	return &ConsumerAdapter{
		reader:   reader,
		registry: registry,
		handler:  handler,
		log:      log,
	}
}

// Start lanza Run en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	go func() {
		if err := c.Run(ctx); err != nil {
			c.log.Error("Consumidor de Kafka detenido con error", zap.Error(err))
		}
	}()
}

// Run consume hasta que ctx se cancela. Un mensaje que no se puede decodificar, o
// cuyo handler sigue fallando tras handlerAttempts intentos, se registra y se confirma
// para no bloquear la partición.
func (c *ConsumerAdapter) Run(ctx context.Context) error {
	c.log.Info("🎧 Iniciando consumidor de Kafka...")
	for {
		// FetchMessage es una llamada bloqueante.
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			// Si el contexto se cancela, el error es normal y salimos limpiamente.
			if ctx.Err() != nil {
				c.log.Info("Consumidor de Kafka detenido.")
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}

		event, err := c.registry.DecodeEnvelope(msg.Topic, msg.Value)
		if err != nil {
			c.log.Warn("⚠️ Mensaje de Kafka descartado",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else {
			err := utils.Retry(ctx, handlerAttempts, handlerRetryDelay, func() error {
				return c.handler.HandleEvent(ctx, event)
			}, domain.Retryable)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				c.log.Error("Error procesando evento, se descarta",
					zap.String("type", event.Type),
					zap.String("event_id", event.ID.String()),
					zap.Error(err),
				)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("Error confirmando offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// ConsumeChan es el equivalente para el bus en memoria: entrega cada evento del
// canal al handler hasta que el canal se cierra o ctx se cancela.
func ConsumeChan(ctx context.Context, ch <-chan sharedEvents.IntegrationEvent, handler EventHandler, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := handler.HandleEvent(ctx, event); err != nil {
				log.Error("Error procesando evento en memoria",
					zap.String("type", event.Type),
					zap.String("event_id", event.ID.String()),
					zap.Error(err),
				)
			}
		}
	}
}
