package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// EventRepoMongoDB implementa domain.EventRepository. El _id del documento es el EventID,
// así que la unicidad de EventID la da la propia colección.
type EventRepoMongoDB struct {
	coll *mongo.Collection
	// standalone se activa la primera vez que el servidor rechaza una transacción.
	standalone atomic.Bool
}

const illegalOperation = 20

func NewEventRepoMongoDB(db *mongo.Database) *EventRepoMongoDB {
	return &EventRepoMongoDB{coll: db.Collection(EventsCollection)}
}

// --- Structs de BSON para el mapeo ---

type mongoEvent struct {
	EventID       string            `bson:"_id"`
	AggregateID   string            `bson:"aggregateId"`
	AggregateType string            `bson:"aggregateType"`
	EventType     string            `bson:"eventType"`
	Version       int64             `bson:"version"`
	OccurredAt    time.Time         `bson:"occurredAt"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	Data          bson.D            `bson:"data"`
}

func (r *EventRepoMongoDB) LastVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetProjection(bson.D{{Key: "version", Value: 1}})

	var doc struct {
		Version int64 `bson:"version"`
	}
	err := r.coll.FindOne(ctx, bson.M{"aggregateId": aggregateID.String()}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (r *EventRepoMongoDB) LoadEvents(ctx context.Context, aggregateID uuid.UUID, after, upTo int64) ([]domain.EventRecord, error) {
	version := bson.M{"$gt": after}
	if upTo > 0 {
		version["$lte"] = upTo
	}
	filter := bson.M{"aggregateId": aggregateID.String(), "version": version}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []domain.EventRecord
	for cursor.Next(ctx) {
		var me mongoEvent
		if err := cursor.Decode(&me); err != nil {
			return nil, err
		}
		rec, err := fromMongoEvent(&me)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cursor.Err()
}

// InsertEvents inserta el lote dentro de una transacción. Un servidor standalone no
// admite transacciones: ahí se usa un InsertMany ordenado, que se detiene en el primer
// error pero deja persistido lo anterior.
func (r *EventRepoMongoDB) InsertEvents(ctx context.Context, records []domain.EventRecord) error {
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		me, err := toMongoEvent(rec)
		if err != nil {
			return err
		}
		docs[i] = me
	}

	if !r.standalone.Load() {
		err := r.insertInTransaction(ctx, docs)
		if !transactionsUnsupported(err) {
			return translateInsert(err, false)
		}
		r.standalone.Store(true)
	}
	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return translateInsert(err, true)
}

func (r *EventRepoMongoDB) insertInTransaction(ctx context.Context, docs []interface{}) error {
	session, err := r.coll.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return r.coll.InsertMany(sc, docs, options.InsertMany().SetOrdered(true))
	})
	return err
}

// transactionsUnsupported detecta el IllegalOperation de un mongod sin replica set.
func transactionsUnsupported(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.HasErrorCode(illegalOperation) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "Transaction numbers are only allowed")
}

// translateInsert traduce un fallo de InsertMany. Con partial, un fallo después del
// primer documento significa que el prefijo ya está escrito.
func translateInsert(err error, partial bool) error {
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	dup := fmt.Errorf("%w: %w", domain.ErrDuplicate, err)
	var bwe mongo.BulkWriteException
	if partial && errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 && bwe.WriteErrors[0].Index > 0 {
		return fmt.Errorf("%w: %d events stored before the conflict: %w",
			domain.ErrPartialWrite, bwe.WriteErrors[0].Index, dup)
	}
	return dup
}

func (r *EventRepoMongoDB) StreamExists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"aggregateId": aggregateID.String()}, options.Count().SetLimit(1))
	return n > 0, err
}

func (r *EventRepoMongoDB) DeleteEvents(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"aggregateId": aggregateID.String()})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --- Mappers ---

func toMongoEvent(rec domain.EventRecord) (mongoEvent, error) {
	data, err := jsonToDoc(rec.Payload)
	if err != nil {
		return mongoEvent{}, fmt.Errorf("payload of event %s: %w", rec.EventID, err)
	}
	return mongoEvent{
		EventID:       rec.EventID.String(),
		AggregateID:   rec.AggregateID.String(),
		AggregateType: rec.AggregateType,
		EventType:     rec.EventType,
		Version:       rec.Version,
		OccurredAt:    rec.OccurredAt,
		Metadata:      rec.Metadata,
		Data:          data,
	}, nil
}

func fromMongoEvent(me *mongoEvent) (domain.EventRecord, error) {
	eventID, err := uuid.Parse(me.EventID)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("invalid event id %q: %w", me.EventID, err)
	}
	aggregateID, err := uuid.Parse(me.AggregateID)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("invalid aggregate id %q: %w", me.AggregateID, err)
	}
	payload, err := docToJSON(me.Data)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("payload of event %s: %w", me.EventID, err)
	}
	return domain.EventRecord{
		EventID:       eventID,
		AggregateID:   aggregateID,
		AggregateType: me.AggregateType,
		EventType:     me.EventType,
		OccurredAt:    me.OccurredAt.UTC(),
		Version:       me.Version,
		Metadata:      me.Metadata,
		Payload:       payload,
	}, nil
}

var _ domain.EventRepository = (*EventRepoMongoDB)(nil)
