package domain

import (
	"context"

	"github.com/google/uuid"
)

// EventRepository es el puerto de almacenamiento del log de eventos.
// El algoritmo de concurrencia vive en la Event Store; aquí solo hay I/O.
type EventRepository interface {
	// LastVersion devuelve 0 si el stream no existe.
	LastVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error)
	// LoadEvents devuelve los eventos con version > after (y <= upTo si upTo > 0), en orden ascendente.
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, after, upTo int64) ([]EventRecord, error)
	// InsertEvents inserta el lote entero o nada. Devuelve ErrDuplicate si algún registro
	// choca con (AggregateID, Version) o con EventID. Un almacenamiento sin transacciones
	// que deja un prefijo persistido lo indica envolviendo también ErrPartialWrite.
	InsertEvents(ctx context.Context, records []EventRecord) error
	StreamExists(ctx context.Context, aggregateID uuid.UUID) (bool, error)
	DeleteEvents(ctx context.Context, aggregateID uuid.UUID) (int64, error)
}

// SnapshotRepository guarda un único snapshot activo por agregado.
type SnapshotRepository interface {
	// SaveSnapshot hace upsert por AggregateID. Un snapshot con versión menor
	// que el almacenado se ignora sin error.
	SaveSnapshot(ctx context.Context, snapshot SnapshotRecord) error
	// LatestSnapshot devuelve ErrNotFound si no hay snapshot con version <= upTo (upTo 0 = sin límite).
	LatestSnapshot(ctx context.Context, aggregateID uuid.UUID, upTo int64) (*SnapshotRecord, error)
	DeleteSnapshots(ctx context.Context, aggregateID uuid.UUID) (int64, error)
}

// OutboxRepository define el contrato para acceder a la outbox.
// Es una interfaz pequeña: solo los métodos que necesitan el servicio y el dispatcher.
type OutboxRepository interface {
	Save(ctx context.Context, messages []OutboxMessage) error
	// ClaimPending pasa a Processing hasta batchSize mensajes pendientes.
	// Dos llamadas concurrentes nunca devuelven el mismo mensaje.
	ClaimPending(ctx context.Context, batchSize int) ([]OutboxMessage, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
