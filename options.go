package gmpreport

import (
	"context"
	"log/slog"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine layer, which sits above the
// subsystem packages and so avoids import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runtime holds the store, configuration and worker pool that execute
// submission, await and result jobs.
//
// Create one with New() and functional options, then hand it to
// engine.Build, which wires the pool and extensions back into it.
type Runtime struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Store returns the runtime's store.
func (rt *Runtime) Store() Storer { return rt.store }

// Config returns a copy of the runtime's configuration.
func (rt *Runtime) Config() Config { return rt.config }

// SetPool sets the worker pool (called by engine.Build).
func (rt *Runtime) SetPool(p poolRunner) { rt.pool = p }

// SetExtensions sets the extension emitter (called by engine.Build).
func (rt *Runtime) SetExtensions(e extensionEmitter) { rt.extensions = e }

// Start begins job processing.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.pool == nil {
		return ErrNoStore
	}
	if err := rt.pool.Start(ctx); err != nil {
		return err
	}
	rt.started = true
	return nil
}

// Stop gracefully shuts down the worker pool, notifies extensions and
// closes the store.
func (rt *Runtime) Stop(ctx context.Context) error {
	if rt.pool != nil && rt.started {
		if err := rt.pool.Stop(ctx); err != nil {
			rt.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		rt.started = false
	}
	if rt.extensions != nil {
		rt.extensions.EmitShutdown(ctx)
	}
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) error {
		rt.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the runtime will poll.
func WithQueues(queues []string) Option {
	return func(rt *Runtime) error {
		rt.config.Queues = queues
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(rt *Runtime) error {
		rt.config = cfg
		return nil
	}
}

// WithCron enables the recurring submission scheduler on this instance.
func WithCron() Option {
	return func(rt *Runtime) error {
		rt.config.EnableCron = true
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the runtime.
// The store must implement Storer at minimum; engine.Build additionally
// requires job.Store, dlq.Store and credential.Store.
func WithStore(s Storer) Option {
	return func(rt *Runtime) error {
		rt.store = s
		return nil
	}
}
