package store

import (
	"context"

	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/job"
)

// Store is the aggregate persistence interface. A single backend implements
// every subsystem store.
type Store interface {
	job.Store
	dlq.Store
	credential.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
