package mgoregistry

import (
	"context"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
)

type Config struct {
	DB                string
	RecordsCollection string
	OperationTimeout  time.Duration
}

type MongoRegistry struct {
	client  *mongo.Client
	db      *mongo.Database
	records *mongo.Collection
	timeout time.Duration
}

func New(client *mongo.Client, cfg Config) *MongoRegistry {
	r := MongoRegistry{
		client:  client,
		db:      client.Database(cfg.DB),
		timeout: cfg.OperationTimeout,
	}

	if r.timeout == 0 {
		r.timeout = 2 * time.Second
	}

	r.records = r.db.Collection(cfg.RecordsCollection)

	return &r
}

func (r *MongoRegistry) Migrate(ctx context.Context) error {
	_, err := r.records.Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.M{"key": 1},
			Options: options.Index().SetUnique(true),
		},
	)

	if err != nil {
		return errors.Wrap(err, "could not create index on records collection")
	}

	return nil
}

func (r *MongoRegistry) Get(ctx context.Context, key string) (media.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var doc recordDocument
	if err := r.records.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.Wrapf(registry.ErrEntityNotFound, "no record for %s", key)
		}

		return nil, errors.Wrapf(registry.ErrRegistryReadFailed, "mongodb could not get record %s: %v", key, err)
	}

	rec, ok := mapDocumentToRecord(&doc)
	if !ok {
		return nil, errors.Wrapf(registry.ErrCorruptRecord, "mongodb record %s", key)
	}

	return rec, nil
}

// Put replaces the whole document, a single document write is atomic in MongoDB
func (r *MongoRegistry) Put(ctx context.Context, key string, rec media.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc := mapRecordToDocument(key, rec, time.Now())

	_, err := r.records.ReplaceOne(ctx, bson.M{"key": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(registry.ErrRegistryWriteFailed, "mongodb could not store record %s: %v", key, err)
	}

	return nil
}

func (r *MongoRegistry) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.records.DeleteOne(ctx, bson.M{"key": key})
	if err != nil {
		return errors.Wrapf(registry.ErrRegistryWriteFailed, "mongodb could not remove record %s: %v", key, err)
	}

	if result.DeletedCount == 0 {
		return errors.Wrapf(registry.ErrEntityNotFound, "no record for %s", key)
	}

	return nil
}
