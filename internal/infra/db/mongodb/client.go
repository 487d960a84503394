package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Nombres de colecciones.
const (
	EventsCollection    = "events"
	SnapshotsCollection = "snapshots"
	OutboxCollection    = "outbox_messages"
)

// Connect abre el cliente con lecturas y escrituras "majority": el índice único
// del stream solo arbitra correctamente si las escrituras son durables.
func Connect(ctx context.Context, uri string, maxPool uint64) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority()).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)
	if maxPool > 0 {
		opts.SetMaxPoolSize(maxPool)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	return client, nil
}

// EnsureIndexes crea los índices que sostienen las garantías del almacenamiento.
// ux_event_stream es el árbitro de concurrencia entre escritores.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		EventsCollection: {
			{
				Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("ux_event_stream"),
			},
			{
				Keys:    bson.D{{Key: "eventType", Value: 1}},
				Options: options.Index().SetName("ix_event_type"),
			},
		},
		OutboxCollection: {
			{
				Keys:    bson.D{{Key: "processedAt", Value: 1}, {Key: "processingAt", Value: 1}, {Key: "occurredAt", Value: 1}},
				Options: options.Index().SetName("ix_outbox_pending"),
			},
			{
				Keys:    bson.D{{Key: "referenceId", Value: 1}},
				Options: options.Index().SetName("ix_outbox_reference"),
			},
			{
				Keys:    bson.D{{Key: "correlationId", Value: 1}},
				Options: options.Index().SetName("ix_outbox_correlation"),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
