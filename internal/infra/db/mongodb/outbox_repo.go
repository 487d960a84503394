package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// OutboxRepoMongoDB implementa la interfaz domain.OutboxRepository.
type OutboxRepoMongoDB struct {
	outboxColl *mongo.Collection
	now        func() time.Time
}

func NewOutboxRepoMongoDB(db *mongo.Database) *OutboxRepoMongoDB {
	return &OutboxRepoMongoDB{
		outboxColl: db.Collection(OutboxCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// mongoOutboxMessage es un helper para mapear los documentos de la base de datos a un struct.
type mongoOutboxMessage struct {
	ID            string     `bson:"_id"`
	ReferenceID   string     `bson:"referenceId"`
	AggregateID   string     `bson:"aggregateId"`
	AggregateType string     `bson:"aggregateType"`
	Type          string     `bson:"type"`
	Data          bson.D     `bson:"data"`
	OccurredAt    time.Time  `bson:"occurredAt"`
	ProcessingAt  *time.Time `bson:"processingAt"`
	ProcessedAt   *time.Time `bson:"processedAt"`
	Error         *string    `bson:"error"`
	RetryCount    int        `bson:"retryCount"`
	Category      string     `bson:"category"`
	CorrelationID string     `bson:"correlationId"`
}

// Save hace un InsertMany no ordenado: un documento que falla no impide el resto.
// Los _id ya existentes se ignoran, así que reenviar el mismo lote es seguro.
func (r *OutboxRepoMongoDB) Save(ctx context.Context, messages []domain.OutboxMessage) error {
	if len(messages) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(messages))
	var errs []error
	for _, m := range messages {
		mo, err := toMongoOutboxMessage(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, mo)
	}
	if len(docs) > 0 {
		_, err := r.outboxColl.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !onlyDuplicateKeys(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClaimPending hace un FindOneAndUpdate por mensaje: cada claim es atómico sobre
// un documento, así que dos dispatchers nunca reciben el mismo mensaje.
// Un documento reclamado que no se puede leer se devuelve a Pending como fallido y
// se salta en el resto del claim; el error acompaña a los mensajes ya reclamados.
func (r *OutboxRepoMongoDB) ClaimPending(ctx context.Context, batchSize int) ([]domain.OutboxMessage, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "occurredAt", Value: 1}}).
		SetReturnDocument(options.After)

	var (
		claimed []domain.OutboxMessage
		errs    []error
	)
	skipped := bson.A{}
	for len(claimed) < batchSize {
		filter := bson.M{"processedAt": nil, "processingAt": nil, "_id": bson.M{"$nin": skipped}}
		update := bson.M{"$set": bson.M{"processingAt": r.now()}}

		var mo mongoOutboxMessage
		err := r.outboxColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mo)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("claim outbox: %w", err))
			return claimed, errors.Join(errs...)
		}
		msg, err := fromMongoOutboxMessage(&mo)
		if err != nil {
			skipped = append(skipped, mo.ID)
			errs = append(errs, r.release(ctx, mo.ID, err))
			continue
		}
		claimed = append(claimed, msg)
	}
	return claimed, errors.Join(errs...)
}

// release devuelve a Pending, como fallido, un documento reclamado que no se pudo leer.
func (r *OutboxRepoMongoDB) release(ctx context.Context, id string, cause error) error {
	update := bson.M{
		"$set": bson.M{"processingAt": nil, "error": cause.Error()},
		"$inc": bson.M{"retryCount": 1},
	}
	if _, err := r.outboxColl.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("outbox document %s: %w (release failed, document left in processing: %v)", id, cause, err)
	}
	return fmt.Errorf("outbox document %s released as failed: %w", id, cause)
}

// MarkProcessed marca un mensaje como procesado.
func (r *OutboxRepoMongoDB) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	update := bson.M{"$set": bson.M{"processedAt": r.now(), "processingAt": nil, "error": nil}}
	return r.updateOne(ctx, id, update)
}

func (r *OutboxRepoMongoDB) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	update := bson.M{
		"$set": bson.M{"processingAt": nil, "error": reason},
		"$inc": bson.M{"retryCount": 1},
	}
	return r.updateOne(ctx, id, update)
}

func (r *OutboxRepoMongoDB) updateOne(ctx context.Context, id uuid.UUID, update bson.M) error {
	res, err := r.outboxColl.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: outbox message %s", domain.ErrNotFound, id)
	}
	return nil
}

func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if !mongo.IsDuplicateKeyError(we.WriteError) {
			return false
		}
	}
	return true
}

func toMongoOutboxMessage(m domain.OutboxMessage) (mongoOutboxMessage, error) {
	data, err := jsonToDoc(m.Payload)
	if err != nil {
		return mongoOutboxMessage{}, fmt.Errorf("outbox message %s: %w", m.ID, err)
	}
	return mongoOutboxMessage{
		ID:            m.ID.String(),
		ReferenceID:   m.ReferenceID.String(),
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		Type:          m.Type,
		Data:          data,
		OccurredAt:    m.OccurredAt,
		RetryCount:    m.RetryCount,
		Category:      m.Category,
		CorrelationID: m.CorrelationID,
	}, nil
}

// fromMongoOutboxMessage es un helper para convertir de BSON a nuestro tipo de dominio.
func fromMongoOutboxMessage(mo *mongoOutboxMessage) (domain.OutboxMessage, error) {
	id, err := uuid.Parse(mo.ID)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("invalid outbox id %q: %w", mo.ID, err)
	}
	referenceID, err := uuid.Parse(mo.ReferenceID)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("invalid reference id in outbox %s: %w", mo.ID, err)
	}
	payload, err := docToJSON(mo.Data)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s: %w", mo.ID, err)
	}
	return domain.OutboxMessage{
		ID:            id,
		ReferenceID:   referenceID,
		AggregateID:   mo.AggregateID,
		AggregateType: mo.AggregateType,
		Type:          mo.Type,
		Payload:       payload,
		OccurredAt:    mo.OccurredAt.UTC(),
		ProcessingAt:  mo.ProcessingAt,
		ProcessedAt:   mo.ProcessedAt,
		Error:         mo.Error,
		RetryCount:    mo.RetryCount,
		Category:      mo.Category,
		CorrelationID: mo.CorrelationID,
	}, nil
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoMongoDB)(nil)
