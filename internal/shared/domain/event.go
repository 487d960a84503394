package domain

import (
	"time"

	"github.com/google/uuid"
)

// MetaCorrelationID es la clave de metadata que propaga la correlación hasta la outbox.
const MetaCorrelationID = "correlation_id"

// EventData es el payload concreto de un evento de dominio.
// EventType es el discriminador estable que se persiste junto al payload.
type EventData interface {
	EventType() string
}

// DomainEvent envuelve un payload con su identidad y posición en el stream.
type DomainEvent struct {
	EventID    uuid.UUID
	EventType  string
	OccurredAt time.Time
	// Version la asigna la Event Store al confirmar, no el agregado.
	Version  int64
	Metadata map[string]string
	Payload  EventData
}

type EventOption func(*DomainEvent)

func WithMetadata(key, value string) EventOption {
	return func(e *DomainEvent) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

func WithCorrelationID(id string) EventOption {
	return WithMetadata(MetaCorrelationID, id)
}

// WithEventID fija el id (útil para reenvíos idempotentes del mismo intento).
func WithEventID(id uuid.UUID) EventOption {
	return func(e *DomainEvent) { e.EventID = id }
}

func NewDomainEvent(payload EventData, opts ...EventOption) DomainEvent {
	evt := DomainEvent{
		EventID:    uuid.New(),
		EventType:  payload.EventType(),
		OccurredAt: time.Now().UTC(),
		Metadata:   make(map[string]string),
		Payload:    payload,
	}
	for _, opt := range opts {
		opt(&evt)
	}
	return evt
}

func (e DomainEvent) CorrelationID() string {
	return e.Metadata[MetaCorrelationID]
}

// EventRecord es la forma persistida de un evento.
// (AggregateID, Version) es único y EventID es único en toda la store.
type EventRecord struct {
	EventID       uuid.UUID
	AggregateID   uuid.UUID
	AggregateType string
	EventType     string
	OccurredAt    time.Time
	Version       int64
	Metadata      map[string]string
	Payload       []byte // JSON
}

// SnapshotRecord guarda el estado materializado de un agregado en una versión.
type SnapshotRecord struct {
	AggregateID  uuid.UUID
	SnapshotType string
	Version      int64
	Payload      []byte // JSON
	CreatedAt    time.Time
}
