package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/job"
)

var (
	_ job.Store        = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
	_ credential.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key, for sharing one Redis between
// deployments. The default is "gmpreport:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys(prefix) }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	keys   keys
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, keys: defaultPrefix, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op; Redis is schemaless.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error { return nil }
