package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Categorías de mensaje de outbox.
const (
	CategoryDomain      = "domain"
	CategoryIntegration = "integration"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxProcessed  OutboxStatus = "processed"
)

// OutboxMessage representa un evento pendiente de publicar en el broker.
type OutboxMessage struct {
	ID            uuid.UUID `json:"id"`
	ReferenceID   uuid.UUID `json:"reference_id"` // EventID de origen
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"` // ej. "account"
	Type          string    `json:"type"`           // tag del registro, ej. "account.opened"
	Payload       []byte    `json:"payload"`        // JSON
	OccurredAt    time.Time `json:"occurred_at"`

	ProcessingAt *time.Time `json:"processing_at,omitempty"` // marca de claim
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`  // marca terminal
	Error        *string    `json:"error,omitempty"`         // último fallo
	RetryCount   int        `json:"retry_count"`

	Category      string `json:"category"`
	CorrelationID string `json:"correlation_id"`
}

func (m OutboxMessage) Status() OutboxStatus {
	switch {
	case m.ProcessedAt != nil:
		return OutboxProcessed
	case m.ProcessingAt != nil:
		return OutboxProcessing
	default:
		return OutboxPending
	}
}

// NewOutboxMessage construye un mensaje Pending a partir de un evento ya confirmado.
func NewOutboxMessage(aggregateID uuid.UUID, aggregateType string, evt DomainEvent, category string) (OutboxMessage, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("%w: marshal outbox payload %s: %w", ErrSerialization, evt.EventType, err)
	}
	return OutboxMessage{
		ID:            uuid.New(),
		ReferenceID:   evt.EventID,
		AggregateID:   aggregateID.String(),
		AggregateType: aggregateType,
		Type:          evt.EventType,
		Payload:       payload,
		OccurredAt:    evt.OccurredAt,
		Category:      category,
		CorrelationID: evt.CorrelationID(),
	}, nil
}

// NewOutboxMessages es el helper para reenviar los eventos que devuelve AppendAggregate.
func NewOutboxMessages(aggregateID uuid.UUID, aggregateType string, evts []DomainEvent, category string) ([]OutboxMessage, error) {
	out := make([]OutboxMessage, 0, len(evts))
	for _, evt := range evts {
		msg, err := NewOutboxMessage(aggregateID, aggregateType, evt, category)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
