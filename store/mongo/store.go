package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/job"
)

// Collection names.
const (
	colJobs        = "gmpreport_jobs"
	colDLQ         = "gmpreport_dlq"
	colCredentials = "gmpreport_credentials"
)

// Collections lists every collection the store writes to.
var Collections = []string{colJobs, colDLQ, colCredentials}

var (
	_ job.Store        = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
	_ credential.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db. The caller owns the client lifecycle.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes for every collection.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("gmpreport/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client.
func (s *Store) Close() error {
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "queue", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "run_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "chain_id", Value: 1}}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "heartbeat_at", Value: 1},
			}},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "failed_at", Value: 1}}},
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "failed_at", Value: 1},
			}},
		},
		colCredentials: {
			{
				Keys:    bson.D{{Key: "account", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
