package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// MongoMirror upserts flushed reports into a MongoDB collection keyed by link.
type MongoMirror struct {
	client     *mongo.Client
	collection *mongo.Collection
	count      int
	logger     *slog.Logger
}

// NewMongoMirror connects to MongoDB and ensures a unique index on link.
func NewMongoMirror(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoMirror, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "link", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb index: %w", err)
	}

	return &MongoMirror{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_mirror"),
	}, nil
}

func (m *MongoMirror) Name() string { return "mongodb" }

func (m *MongoMirror) Store(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := m.collection.BulkWrite(ctx, upsertModels(records), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: err}
	}

	m.count += len(records)
	m.logger.Debug("reports mirrored",
		"upserted", res.UpsertedCount,
		"modified", res.ModifiedCount,
		"total", m.count,
	)
	return nil
}

func (m *MongoMirror) Close() error {
	m.logger.Info("mongodb mirror closing", "total_reports", m.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// upsertModels builds one replace-or-insert write per record, keyed by link.
func upsertModels(records []types.Record) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range types.DedupByLink(records) {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "link", Value: rec.Link}}).
			SetReplacement(rec).
			SetUpsert(true))
	}
	return models
}
