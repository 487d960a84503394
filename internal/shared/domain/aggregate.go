package domain

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Aggregate es el conjunto de capacidades que la Event Store necesita de un agregado.
// La store nunca inspecciona campos concretos.
type Aggregate interface {
	Root() *AggregateRoot
	AggregateType() string
	// When aplica la transición de estado de un evento. Debe ser pura:
	// no genera eventos nuevos (para eso está RecordEvent).
	When(evt DomainEvent) error
	// ValidateInvariants devuelve error si el estado actual no es válido.
	ValidateInvariants() error
}

// Snapshotter es opcional: los agregados que lo implementan pueden
// reidratarse desde un snapshot en lugar de reproducir todo el historial.
type Snapshotter interface {
	SnapshotState() (any, error)
	RestoreSnapshot(data []byte) error
}

// AggregateRoot se embebe en los agregados concretos y lleva el tracking
// de versión y de eventos pendientes. Todo su estado es privado.
type AggregateRoot struct {
	id              uuid.UUID
	version         int64
	originalVersion int64
	createdAt       time.Time
	updatedAt       time.Time

	uncommitted []DomainEvent
	applied     map[uuid.UUID]struct{}
}

func (r *AggregateRoot) ID() uuid.UUID          { return r.id }
func (r *AggregateRoot) Version() int64         { return r.version }
func (r *AggregateRoot) OriginalVersion() int64 { return r.originalVersion }
func (r *AggregateRoot) CreatedAt() time.Time   { return r.createdAt }
func (r *AggregateRoot) UpdatedAt() time.Time   { return r.updatedAt }

func (r *AggregateRoot) HasUncommittedEvents() bool {
	return len(r.uncommitted) > 0
}

// InitID asigna el id una única vez; después es inmutable.
func (r *AggregateRoot) InitID(id uuid.UUID) error {
	if r.id == uuid.Nil || r.id == id {
		r.id = id
		return nil
	}
	return fmt.Errorf("aggregate id already set to %s", r.id)
}

// InitCreatedAt solo tiene efecto si la fecha de creación aún no existe.
func (r *AggregateRoot) InitCreatedAt(t time.Time) {
	if r.createdAt.IsZero() {
		r.createdAt = t
	}
}

// RestoreTimestamps es para los hooks de snapshot.
func (r *AggregateRoot) RestoreTimestamps(createdAt, updatedAt time.Time) {
	r.createdAt = createdAt
	r.updatedAt = updatedAt
}

// UncommittedEvents devuelve una copia: la lista interna nunca se comparte.
func (r *AggregateRoot) UncommittedEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.uncommitted))
	for i, evt := range r.uncommitted {
		evt.Metadata = maps.Clone(evt.Metadata)
		out[i] = evt
	}
	return out
}

// MarkEventsAsCommitted vacía los eventos pendientes, les asigna su posición
// en el stream y los devuelve para reenviarlos a la outbox.
func (r *AggregateRoot) MarkEventsAsCommitted() []DomainEvent {
	committed := r.UncommittedEvents()
	for i := range committed {
		committed[i].Version = r.originalVersion + int64(i) + 1
	}
	r.uncommitted = nil
	r.originalVersion = r.version
	return committed
}

// MarkEventsAsCommittedAt falla con ErrConcurrency si expected no coincide con OriginalVersion.
func (r *AggregateRoot) MarkEventsAsCommittedAt(expected int64) ([]DomainEvent, error) {
	if expected != r.originalVersion {
		return nil, fmt.Errorf("%w: expected version %d, aggregate at %d", ErrConcurrency, expected, r.originalVersion)
	}
	return r.MarkEventsAsCommitted(), nil
}

func (r *AggregateRoot) hasApplied(id uuid.UUID) bool {
	_, ok := r.applied[id]
	return ok
}

func (r *AggregateRoot) markApplied(evt DomainEvent) {
	if r.applied == nil {
		r.applied = make(map[uuid.UUID]struct{})
	}
	r.applied[evt.EventID] = struct{}{}
	r.version++
	r.InitCreatedAt(evt.OccurredAt)
	r.updatedAt = evt.OccurredAt
}

// RecordEvent aplica un evento nuevo y lo deja pendiente de persistir.
// Un EventID ya visto es un no-op.
func RecordEvent(a Aggregate, evt DomainEvent) error {
	if evt.Payload == nil {
		return errors.New("record event: nil payload")
	}
	r := a.Root()
	if r.hasApplied(evt.EventID) {
		return nil
	}
	if evt.Metadata == nil {
		evt.Metadata = make(map[string]string)
	}

	if err := a.When(evt); err != nil {
		return fmt.Errorf("apply %s: %w", evt.EventType, err)
	}
	if err := a.ValidateInvariants(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariant, err)
	}

	r.uncommitted = append(r.uncommitted, evt)
	r.markApplied(evt)
	return nil
}

// ApplyFromHistory reproduce un evento ya persistido. No lo encola. Idempotente por EventID.
func ApplyFromHistory(a Aggregate, evt DomainEvent) error {
	r := a.Root()
	if r.hasApplied(evt.EventID) {
		return nil
	}
	if err := a.When(evt); err != nil {
		return fmt.Errorf("replay %s v%d: %w", evt.EventType, evt.Version, err)
	}
	r.markApplied(evt)
	return nil
}

// LoadFromHistory reidrata el agregado a partir de una lista ordenada.
func LoadFromHistory(a Aggregate, history []DomainEvent) error {
	for _, evt := range history {
		if err := ApplyFromHistory(a, evt); err != nil {
			return err
		}
	}
	r := a.Root()
	r.originalVersion = r.version
	r.uncommitted = nil
	return nil
}

// RestoreFromSnapshot delega en el hook del agregado y fija la versión observada.
func RestoreFromSnapshot(a Aggregate, payload []byte, version int64) error {
	s, ok := a.(Snapshotter)
	if !ok {
		return fmt.Errorf("%s does not support snapshots", a.AggregateType())
	}
	if err := s.RestoreSnapshot(payload); err != nil {
		return fmt.Errorf("%w: restore snapshot: %w", ErrSerialization, err)
	}

	r := a.Root()
	r.version = version
	r.originalVersion = version
	r.uncommitted = nil
	r.applied = nil
	return nil
}
