package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	"github.com/davicafu/hexaevents/internal/shared/domain/events"
)

// Store es la Event Store de un tipo de agregado: log append-only versionado,
// control de concurrencia optimista y aceleración por snapshots.
// El índice único (AggregateID, Version) del repositorio es el único árbitro
// entre escritores concurrentes; aquí no se toma ningún lock.
type Store[T domain.Aggregate] struct {
	events        domain.EventRepository
	snapshots     domain.SnapshotRepository
	registry      *events.Registry
	newAggregate  func() T
	aggregateType string
	snapshotEvery int64
	log           *zap.Logger
}

type Option func(*settings)

type settings struct {
	snapshotEvery int64
}

// WithSnapshotEvery guarda un snapshot cada vez que AppendAggregate cruza un múltiplo de n.
func WithSnapshotEvery(n int64) Option {
	return func(s *settings) { s.snapshotEvery = n }
}

func New[T domain.Aggregate](
	eventRepo domain.EventRepository,
	snapshotRepo domain.SnapshotRepository,
	registry *events.Registry,
	factory func() T,
	log *zap.Logger,
	opts ...Option,
) *Store[T] {
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[T]{
		events:        eventRepo,
		snapshots:     snapshotRepo,
		registry:      registry,
		newAggregate:  factory,
		aggregateType: factory().AggregateType(),
		snapshotEvery: cfg.snapshotEvery,
		log:           log,
	}
}

func (s *Store[T]) AggregateType() string { return s.aggregateType }

// ------------------ Lectura ------------------

func (s *Store[T]) Load(ctx context.Context, id uuid.UUID) (T, error) {
	return s.LoadUpTo(ctx, id, 0)
}

// LoadUpTo reidrata el agregado hasta upTo inclusive (0 = hasta el final).
// Solo devuelve ErrNotFound si no hay ni snapshot ni eventos.
func (s *Store[T]) LoadUpTo(ctx context.Context, id uuid.UUID, upTo int64) (T, error) {
	var zero T
	if upTo < 0 {
		return zero, fmt.Errorf("invalid upTo version %d", upTo)
	}

	agg := s.newAggregate()
	var from int64
	fromSnapshot := false

	snap, err := s.snapshots.LatestSnapshot(ctx, id, upTo)
	switch {
	case err == nil:
		if s.restore(agg, snap) {
			from = snap.Version
			fromSnapshot = true
		} else {
			// El hook pudo dejar estado a medias: se empieza de cero.
			agg = s.newAggregate()
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return zero, fmt.Errorf("load snapshot %s: %w", id, err)
	}

	records, err := s.events.LoadEvents(ctx, id, from, upTo)
	if err != nil {
		return zero, fmt.Errorf("load events %s: %w", id, err)
	}
	if !fromSnapshot && len(records) == 0 {
		return zero, fmt.Errorf("%w: stream %s", domain.ErrNotFound, id)
	}

	history := make([]domain.DomainEvent, 0, len(records))
	for _, rec := range records {
		evt, err := s.registry.DecodeRecord(rec)
		if err != nil {
			return zero, fmt.Errorf("stream %s v%d: %w", id, rec.Version, err)
		}
		history = append(history, evt)
	}
	if err := domain.LoadFromHistory(agg, history); err != nil {
		return zero, err
	}
	if err := agg.Root().InitID(id); err != nil {
		return zero, fmt.Errorf("stream %s: %w", id, err)
	}
	return agg, nil
}

// restore intenta usar el snapshot. Cualquier problema significa "sin snapshot utilizable".
func (s *Store[T]) restore(agg T, snap *domain.SnapshotRecord) bool {
	if snap.SnapshotType != s.aggregateType {
		s.log.Warn("⚠️ Snapshot de tipo desconocido, se reproduce el historial completo",
			zap.String("aggregate_id", snap.AggregateID.String()),
			zap.String("snapshot_type", snap.SnapshotType),
		)
		return false
	}
	if _, ok := any(agg).(domain.Snapshotter); !ok {
		s.log.Warn("⚠️ El agregado no soporta snapshots", zap.String("aggregate_type", s.aggregateType))
		return false
	}
	if err := domain.RestoreFromSnapshot(agg, snap.Payload, snap.Version); err != nil {
		s.log.Warn("⚠️ No se pudo restaurar el snapshot",
			zap.String("aggregate_id", snap.AggregateID.String()),
			zap.Int64("version", snap.Version),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Events pagina los eventos decodificados a partir de fromVersion (inclusive).
func (s *Store[T]) Events(ctx context.Context, id uuid.UUID, fromVersion int64, pageSize int) ([]domain.DomainEvent, error) {
	if fromVersion < 1 {
		fromVersion = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	records, err := s.events.LoadEvents(ctx, id, fromVersion-1, fromVersion-1+int64(pageSize))
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", id, err)
	}
	out := make([]domain.DomainEvent, 0, len(records))
	for _, rec := range records {
		evt, err := s.registry.DecodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Store[T]) LastVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.events.LastVersion(ctx, id)
}

// ------------------ Escritura ------------------

// Append persiste events en las versiones expected+1..expected+N.
// Devuelve ErrConcurrency si otro escritor ocupó alguna de esas versiones;
// nunca reintenta por su cuenta. Reenviar un lote ya persistido es un no-op.
func (s *Store[T]) Append(ctx context.Context, id uuid.UUID, evts []domain.DomainEvent, expected int64) error {
	if len(evts) == 0 {
		return nil
	}
	if expected < 0 {
		return fmt.Errorf("invalid expected version %d", expected)
	}

	records, err := s.toRecords(id, evts, expected)
	if err != nil {
		return err
	}

	last, err := s.events.LastVersion(ctx, id)
	if err != nil {
		return fmt.Errorf("read last version %s: %w", id, err)
	}
	switch {
	case last < expected:
		return fmt.Errorf("%w: stream %s at version %d, expected %d", domain.ErrConcurrency, id, last, expected)
	case last > expected:
		return s.reconcile(ctx, id, records, expected, false)
	}

	err = s.events.InsertEvents(ctx, records)
	if errors.Is(err, domain.ErrDuplicate) {
		// Otro escritor llegó antes, o un intento anterior de este mismo lote.
		return s.reconcile(ctx, id, records, expected, errors.Is(err, domain.ErrPartialWrite))
	}
	if err != nil {
		return fmt.Errorf("insert events %s: %w", id, err)
	}

	s.log.Debug("📝 Eventos añadidos al stream",
		zap.String("aggregate_id", id.String()),
		zap.Int64("from_version", expected+1),
		zap.Int("count", len(records)),
	)
	return nil
}

// AppendAggregate usa los eventos pendientes y OriginalVersion como versión esperada.
// Devuelve los eventos confirmados para reenviarlos a la outbox.
func (s *Store[T]) AppendAggregate(ctx context.Context, agg T) ([]domain.DomainEvent, error) {
	root := agg.Root()
	if !root.HasUncommittedEvents() {
		return nil, nil
	}
	if root.ID() == uuid.Nil {
		return nil, errors.New("append aggregate: aggregate has no id")
	}

	expected := root.OriginalVersion()
	if err := s.Append(ctx, root.ID(), root.UncommittedEvents(), expected); err != nil {
		return nil, err
	}
	committed, err := root.MarkEventsAsCommittedAt(expected)
	if err != nil {
		return nil, err
	}

	if s.snapshotEvery > 0 && expected/s.snapshotEvery != root.Version()/s.snapshotEvery {
		if _, ok := any(agg).(domain.Snapshotter); ok {
			if err := s.TakeSnapshot(ctx, agg); err != nil {
				// El snapshot es solo aceleración: el append ya es durable.
				s.log.Warn("⚠️ No se pudo guardar el snapshot",
					zap.String("aggregate_id", root.ID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return committed, nil
}

// reconcile compara el lote con lo que ya ocupa (expected, expected+N]. Los mismos
// EventIDs en las mismas versiones son un reenvío y la cola que falte se inserta;
// cualquier otro evento en ese rango significa que perdimos la carrera.
// partial indica que el almacenamiento ya dejó escrito parte del lote.
func (s *Store[T]) reconcile(ctx context.Context, id uuid.UUID, records []domain.EventRecord, expected int64, partial bool) error {
	lost := func(err error) error {
		if partial {
			s.log.Error("❌ Lote escrito a medias junto a eventos de otro escritor",
				zap.String("aggregate_id", id.String()),
				zap.Int64("expected_version", expected),
			)
			return fmt.Errorf("%w: %w", domain.ErrPartialWrite, err)
		}
		return err
	}

	for attempt := 0; ; attempt++ {
		existing, err := s.events.LoadEvents(ctx, id, expected, expected+int64(len(records)))
		if err != nil {
			return fmt.Errorf("load events %s: %w", id, err)
		}
		for i, e := range existing {
			if e.Version != records[i].Version || e.EventID != records[i].EventID {
				return lost(fmt.Errorf("%w: version %d of stream %s already taken by event %s",
					domain.ErrConcurrency, e.Version, id, e.EventID))
			}
		}

		tail := records[len(existing):]
		if len(tail) == 0 {
			s.log.Debug("♻️ Lote ya persistido, se ignora",
				zap.String("aggregate_id", id.String()),
				zap.Int64("from_version", expected+1),
			)
			return nil
		}
		if len(existing) > 0 {
			s.log.Info("🧩 Completando un lote persistido a medias",
				zap.String("aggregate_id", id.String()),
				zap.Int64("from_version", tail[0].Version),
				zap.Int("missing", len(tail)),
			)
		}

		err = s.events.InsertEvents(ctx, tail)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("insert events %s: %w", id, err)
		}
		partial = partial || errors.Is(err, domain.ErrPartialWrite)
		if attempt > 0 {
			// Sigue chocando sin que aparezca nadie en el rango: un EventID ya usado en otra posición.
			return lost(fmt.Errorf("%w: events of stream %s from version %d collide with stored events",
				domain.ErrConcurrency, id, tail[0].Version))
		}
	}
}

func (s *Store[T]) toRecords(id uuid.UUID, evts []domain.DomainEvent, expected int64) ([]domain.EventRecord, error) {
	records := make([]domain.EventRecord, len(evts))
	for i, evt := range evts {
		if evt.Payload == nil {
			return nil, fmt.Errorf("%w: event %s has no payload", domain.ErrSerialization, evt.EventID)
		}
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %s: %w", domain.ErrSerialization, evt.EventType, err)
		}
		eventType := evt.EventType
		if eventType == "" {
			eventType = evt.Payload.EventType()
		}
		occurredAt := evt.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		records[i] = domain.EventRecord{
			EventID:       evt.EventID,
			AggregateID:   id,
			AggregateType: s.aggregateType,
			EventType:     eventType,
			OccurredAt:    occurredAt,
			Version:       expected + int64(i) + 1,
			Metadata:      maps.Clone(evt.Metadata),
			Payload:       payload,
		}
	}
	return records, nil
}

// ------------------ Snapshots ------------------

// SaveSnapshot guarda el estado en version. El upsert va por AggregateID, así
// que nunca hay más de un snapshot activo por agregado.
func (s *Store[T]) SaveSnapshot(ctx context.Context, id uuid.UUID, payload any, version int64) error {
	if version <= 0 {
		return fmt.Errorf("invalid snapshot version %d", version)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot %s: %w", domain.ErrSerialization, id, err)
	}
	err = s.snapshots.SaveSnapshot(ctx, domain.SnapshotRecord{
		AggregateID:  id,
		SnapshotType: s.aggregateType,
		Version:      version,
		Payload:      data,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s v%d: %w", id, version, err)
	}
	s.log.Info("📸 Snapshot guardado", zap.String("aggregate_id", id.String()), zap.Int64("version", version))
	return nil
}

// TakeSnapshot guarda el estado confirmado de un agregado que implementa Snapshotter.
func (s *Store[T]) TakeSnapshot(ctx context.Context, agg T) error {
	snapshotter, ok := any(agg).(domain.Snapshotter)
	if !ok {
		return fmt.Errorf("%s does not support snapshots", s.aggregateType)
	}
	root := agg.Root()
	if root.HasUncommittedEvents() {
		return errors.New("take snapshot: aggregate has uncommitted events")
	}
	state, err := snapshotter.SnapshotState()
	if err != nil {
		return fmt.Errorf("snapshot state %s: %w", root.ID(), err)
	}
	return s.SaveSnapshot(ctx, root.ID(), state, root.Version())
}

// GetSnapshot devuelve ErrNotFound si no hay snapshot.
func (s *Store[T]) GetSnapshot(ctx context.Context, id uuid.UUID) (*domain.SnapshotRecord, error) {
	return s.snapshots.LatestSnapshot(ctx, id, 0)
}

// ------------------ Administración ------------------

func (s *Store[T]) StreamExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.events.StreamExists(ctx, id)
	if err != nil || ok {
		return ok, err
	}
	_, err = s.snapshots.LatestSnapshot(ctx, id, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// DeleteStream borra eventos y snapshots. Uso administrativo.
func (s *Store[T]) DeleteStream(ctx context.Context, id uuid.UUID) error {
	deletedEvents, err := s.events.DeleteEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("delete events %s: %w", id, err)
	}
	deletedSnapshots, err := s.snapshots.DeleteSnapshots(ctx, id)
	if err != nil {
		return fmt.Errorf("delete snapshots %s: %w", id, err)
	}
	if deletedEvents+deletedSnapshots == 0 {
		return fmt.Errorf("%w: stream %s", domain.ErrNotFound, id)
	}
	s.log.Info("🗑️ Stream eliminado",
		zap.String("aggregate_id", id.String()),
		zap.Int64("events", deletedEvents),
		zap.Int64("snapshots", deletedSnapshots),
	)
	return nil
}
