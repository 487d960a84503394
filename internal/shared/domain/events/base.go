package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// IntegrationEvent es el sobre que sale hacia los destinos de publicación.
type IntegrationEvent struct {
	ID            uuid.UUID        `json:"id"`
	Type          string           `json:"type"`
	Topic         string           `json:"-"`
	AggregateID   string           `json:"aggregate_id,omitempty"`
	AggregateType string           `json:"aggregate_type,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Category      string           `json:"category,omitempty"`
	RetryCount    int              `json:"retry_count"`
	Data          domain.EventData `json:"data"` // contenido específico del evento
}

// PartitionKey mantiene juntos los eventos de un mismo agregado.
func (e IntegrationEvent) PartitionKey() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID.String()
}

// FromOutbox arma el sobre a partir de un mensaje ya decodificado.
func FromOutbox(msg domain.OutboxMessage, entry Entry, data domain.EventData) IntegrationEvent {
	return IntegrationEvent{
		ID:            msg.ReferenceID,
		Type:          msg.Type,
		Topic:         entry.Topic,
		AggregateID:   msg.AggregateID,
		AggregateType: msg.AggregateType,
		Timestamp:     msg.OccurredAt,
		CorrelationID: msg.CorrelationID,
		Category:      msg.Category,
		RetryCount:    msg.RetryCount,
		Data:          data,
	}
}

// DecodeEnvelope es la inversa del JSON que escriben los publishers: resuelve el
// payload con el registro para que Data vuelva a ser el struct tipado.
func (r *Registry) DecodeEnvelope(topic string, data []byte) (IntegrationEvent, error) {
	var raw struct {
		IntegrationEvent
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return IntegrationEvent{}, fmt.Errorf("%w: decode envelope: %w", domain.ErrSerialization, err)
	}
	payload, err := r.Decode(raw.Type, raw.Data)
	if err != nil {
		return IntegrationEvent{}, err
	}
	evt := raw.IntegrationEvent
	evt.Topic = topic
	evt.Data = payload
	return evt, nil
}
