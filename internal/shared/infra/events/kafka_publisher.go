package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	sharedBus "github.com/davicafu/hexaevents/internal/shared/infra/platform/bus"
)

// Cabeceras que acompañan a cada mensaje.
const (
	HeaderEventType     = "event-type"
	HeaderEventID       = "event-id"
	HeaderCorrelationID = "correlation-id"
	HeaderCategory      = "category"
)

// MessageWriter es la parte de *kafka.Writer que usa el publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer       MessageWriter
	defaultTopic string
	log          *zap.Logger
}

// NewKafkaWriter crea un writer sin topic fijo: el topic viaja en cada mensaje.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaPublisher usa defaultTopic para los eventos cuyo registro no define topic.
func NewKafkaPublisher(writer MessageWriter, defaultTopic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, defaultTopic: defaultTopic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event sharedEvents.IntegrationEvent) error {
	msg, err := p.toKafkaMessage(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Error publishing to Kafka",
			zap.String("topic", msg.Topic),
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: kafka topic %s: %w", domain.ErrDelivery, msg.Topic, err)
	}

	p.log.Debug("Event published successfully",
		zap.String("topic", msg.Topic),
		zap.String("type", event.Type),
		zap.String("event_id", event.ID.String()),
	)
	return nil
}

func (p *KafkaPublisher) toKafkaMessage(event sharedEvents.IntegrationEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: marshal %s: %w", domain.ErrSerialization, event.Type, err)
	}

	topic := event.Topic
	if topic == "" {
		topic = p.defaultTopic
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.Type)},
		{Key: HeaderEventID, Value: []byte(event.ID.String())},
	}
	if event.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(event.CorrelationID)})
	}
	if event.Category != "" {
		headers = append(headers, kafka.Header{Key: HeaderCategory, Value: []byte(event.Category)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.PartitionKey()),
		Value:   data,
		Headers: headers,
		Time:    event.Timestamp,
	}, nil
}

// Verificación estática
var _ sharedBus.Publisher = (*KafkaPublisher)(nil)
