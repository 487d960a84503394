package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// SnapshotRepoMongoDB guarda un documento por agregado (_id = AggregateID).
type SnapshotRepoMongoDB struct {
	coll *mongo.Collection
}

func NewSnapshotRepoMongoDB(db *mongo.Database) *SnapshotRepoMongoDB {
	return &SnapshotRepoMongoDB{coll: db.Collection(SnapshotsCollection)}
}

type mongoSnapshot struct {
	AggregateID  string    `bson:"_id"`
	SnapshotType string    `bson:"snapshotType"`
	Version      int64     `bson:"version"`
	Data         bson.D    `bson:"data"`
	CreatedAt    time.Time `bson:"createdAt"`
}

// SaveSnapshot hace upsert condicionado a la versión. Si ya existe uno más nuevo,
// el filtro no casa, el upsert choca con el _id y se ignora.
func (r *SnapshotRepoMongoDB) SaveSnapshot(ctx context.Context, s domain.SnapshotRecord) error {
	data, err := jsonToDoc(s.Payload)
	if err != nil {
		return err
	}
	filter := bson.M{"_id": s.AggregateID.String(), "version": bson.M{"$lte": s.Version}}
	update := bson.M{"$set": bson.M{
		"snapshotType": s.SnapshotType,
		"version":      s.Version,
		"data":         data,
		"createdAt":    s.CreatedAt,
	}}

	_, err = r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *SnapshotRepoMongoDB) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID, upTo int64) (*domain.SnapshotRecord, error) {
	filter := bson.M{"_id": aggregateID.String()}
	if upTo > 0 {
		filter["version"] = bson.M{"$lte": upTo}
	}

	var ms mongoSnapshot
	err := r.coll.FindOne(ctx, filter).Decode(&ms)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	payload, err := docToJSON(ms.Data)
	if err != nil {
		return nil, err
	}
	return &domain.SnapshotRecord{
		AggregateID:  aggregateID,
		SnapshotType: ms.SnapshotType,
		Version:      ms.Version,
		Payload:      payload,
		CreatedAt:    ms.CreatedAt.UTC(),
	}, nil
}

func (r *SnapshotRepoMongoDB) DeleteSnapshots(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"_id": aggregateID.String()})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

var _ domain.SnapshotRepository = (*SnapshotRepoMongoDB)(nil)
