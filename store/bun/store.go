package bunstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/job"
)

var (
	_ job.Store        = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
	_ credential.Store = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store.
type Store struct {
	db     *bun.DB
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

// New creates a new Bun store. The caller owns the db lifecycle.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

type index struct {
	model   any
	name    string
	columns []string
	where   string
}

var indexes = []index{
	{(*jobModel)(nil), "idx_gmpreport_jobs_dequeue", []string{"queue", "priority DESC", "run_at ASC"}, "state IN ('pending', 'retrying')"},
	{(*jobModel)(nil), "idx_gmpreport_jobs_state", []string{"state"}, ""},
	{(*jobModel)(nil), "idx_gmpreport_jobs_chain", []string{"chain_id"}, ""},
	{(*jobModel)(nil), "idx_gmpreport_jobs_heartbeat", []string{"heartbeat_at"}, "state = 'running'"},
	{(*dlqModel)(nil), "idx_gmpreport_dlq_failed_at", []string{"failed_at"}, ""},
	{(*dlqModel)(nil), "idx_gmpreport_dlq_queue", []string{"queue"}, ""},
}

// Migrate creates the tables and indexes that do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*jobModel)(nil),
		(*dlqModel)(nil),
		(*credentialModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("gmpreport/bun: create table: %w", err)
		}
	}

	for _, idx := range indexes {
		q := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			IfNotExists()
		for _, col := range idx.columns {
			q = q.ColumnExpr(col)
		}
		if idx.where != "" {
			q = q.Where(idx.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("gmpreport/bun: create index %s: %w", idx.name, err)
		}
	}

	s.logger.Info("schema ready", slog.Int("tables", len(models)), slog.Int("indexes", len(indexes)))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
