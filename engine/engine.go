package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/await"
	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/codec"
	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/cron"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/ext"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
	mw "github.com/fivestones/gmpreport/middleware"
	"github.com/fivestones/gmpreport/observability"
	"github.com/fivestones/gmpreport/queue"
	"github.com/fivestones/gmpreport/worker"
)

const instrumentationName = "github.com/fivestones/gmpreport"

var _ await.Scheduler = (*Engine)(nil)

// Engine wraps a Runtime with typed subsystem access.
// Use Build() to create one from a Runtime.
type Engine struct {
	rt          *gmpreport.Runtime
	extensions  *ext.Registry
	registry    *job.Registry
	codec       codec.Codec
	jobStore    job.Store
	credentials credential.Store
	dlqService  *dlq.Service
	bo          backoff.Strategy
	pool        *worker.Pool
	mws         []mw.Middleware
	logger      *slog.Logger

	cron         *cron.Scheduler
	cronInterval time.Duration

	queueConfigs   []queue.Config
	accountConfigs []queue.AccountConfig
	queueManager   *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, inside the
// built-in middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the delay strategy for retrying failed deliveries.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithCodec sets the job payload codec. The default is codec.JSON.
func WithCodec(c codec.Codec) Option {
	return func(eng *Engine) {
		eng.codec = c
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithAccountConfig registers per-account limits, applied to jobs whose
// Account matches.
func WithAccountConfig(configs ...queue.AccountConfig) Option {
	return func(eng *Engine) {
		eng.accountConfigs = append(eng.accountConfigs, configs...)
	}
}

// WithCronTickInterval sets how often cron entries are checked.
func WithCronTickInterval(d time.Duration) Option {
	return func(eng *Engine) {
		eng.cronInterval = d
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider used by both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Runtime. The Runtime's store
// must implement job.Store, dlq.Store and credential.Store.
func Build(rt *gmpreport.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	store := rt.Store()

	if store == nil {
		return nil, gmpreport.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("gmpreport: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("gmpreport: store does not implement dlq.Store")
	}
	cs, ok := store.(credential.Store)
	if !ok {
		return nil, fmt.Errorf("gmpreport: store does not implement credential.Store")
	}

	eng := &Engine{
		rt:           rt,
		extensions:   ext.NewRegistry(logger),
		jobStore:     js,
		credentials:  cs,
		logger:       logger,
		cronInterval: time.Second,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.codec == nil {
		eng.codec = codec.JSON{}
	}
	eng.registry = job.NewRegistry(eng.codec)
	eng.dlqService = dlq.NewService(ds, js)

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → timeout → user middleware.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)

	config := rt.Config()
	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.dlqService, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
	}

	if len(eng.queueConfigs) > 0 || len(eng.accountConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, ac := range eng.accountConfigs {
			eng.queueManager.SetAccountConfig(ac)
		}
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng.jobStore, executor, eng.extensions, logger, poolOpts...)

	rt.SetPool(eng.pool)
	rt.SetExtensions(eng.extensions)

	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, name, payload, opts...)
		if err != nil {
			return id.JobID{}, err
		}
		return j.ID, nil
	}
	eng.cron = cron.NewScheduler(enqueueFunc, eng.extensions, logger, cron.WithTickInterval(eng.cronInterval))

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue encodes payload with the engine codec and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := eng.codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The job starts
// a new lineage; options registered for name apply first, then opts.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := eng.registry.Options(name)
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	jobID := id.NewJobID()
	j := &job.Job{
		Entity:      gmpreport.NewEntity(),
		ID:          jobID,
		ChainID:     jobID,
		Name:        name,
		Payload:     payload,
		State:       job.StatePending,
		Queue:       jobOpts.Queue,
		Priority:    jobOpts.Priority,
		MaxAttempts: jobOpts.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		Account:     jobOpts.Account,
		RunAt:       now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Schedule implements await.Scheduler. The continuation inherits the
// running job's lineage: attempt counter, ceiling, timeout and chain. It
// acts for u.Account, or the running job's account when that is empty. The running job is released so the executor does not settle it
// as completed.
func (eng *Engine) Schedule(ctx context.Context, u await.Unit, delay time.Duration, queueName string) error {
	cur, ok := job.FromContext(ctx)
	if !ok {
		return gmpreport.ErrNoRunningJob
	}

	payload, err := eng.codec.Marshal(u.Payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal payload for job %q: %w", u.Name, err))
	}
	if queueName == "" {
		queueName = eng.registry.Options(u.Name).Queue
	}
	chainID := cur.ChainID
	if chainID.IsNil() {
		chainID = cur.ID
	}
	account := u.Account
	if account == "" {
		account = cur.Account
	}

	now := time.Now().UTC()
	next := &job.Job{
		Entity:      gmpreport.NewEntity(),
		ID:          id.NewJobID(),
		ChainID:     chainID,
		Name:        u.Name,
		Payload:     payload,
		State:       job.StatePending,
		Queue:       queueName,
		Priority:    cur.Priority,
		Attempt:     cur.Attempt,
		MaxAttempts: cur.MaxAttempts,
		Timeout:     cur.Timeout,
		Account:     account,
		RunAt:       now.Add(delay),
	}

	if err := eng.jobStore.EnqueueJob(ctx, next); err != nil {
		return fmt.Errorf("schedule %s: %w", u.Name, err)
	}
	cur.State = job.StateReleased

	eng.extensions.EmitJobRescheduled(ctx, cur, next, delay)
	eng.logger.Debug("job rescheduled",
		slog.String("job_id", cur.ID.String()),
		slog.String("next_job_id", next.ID.String()),
		slog.String("job_name", u.Name),
		slog.Int("attempt", cur.Attempt),
		slog.Duration("delay", delay),
	)
	return nil
}

// Dispatch implements await.Scheduler. The unit starts a new lineage
// whose chain is the returned job ID. It acts for u.Account, or for the
// running job's account when that is empty.
func (eng *Engine) Dispatch(ctx context.Context, u await.Unit, queueName string) (id.JobID, error) {
	payload, err := eng.codec.Marshal(u.Payload)
	if err != nil {
		return id.Nil, backoff.Permanent(fmt.Errorf("marshal payload for job %q: %w", u.Name, err))
	}

	account := u.Account
	if cur, ok := job.FromContext(ctx); ok && account == "" {
		account = cur.Account
	}
	opts := []job.Option{job.WithQueue(queueName)}
	if account != "" {
		opts = append(opts, job.WithAccount(account))
	}

	j, err := eng.EnqueueRaw(ctx, u.Name, payload, opts...)
	if err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// CurrentAttempt implements await.Scheduler.
func (eng *Engine) CurrentAttempt(ctx context.Context) int {
	if cur, ok := job.FromContext(ctx); ok {
		return cur.Attempt
	}
	return 0
}

// RegisterCron registers a typed cron definition. The payload is encoded
// once with the engine codec.
func RegisterCron[T any](eng *Engine, def *cron.Definition[T]) error {
	payload, err := eng.codec.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}

	entry := &cron.Entry{
		Name:     def.Name,
		Schedule: def.Schedule,
		JobName:  def.JobName,
		Queue:    def.Queue,
		Payload:  payload,
		Enabled:  true,
	}
	if err := eng.cron.Add(entry); err != nil {
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_name", def.JobName),
	)
	return nil
}

// Start begins job processing, and cron when the runtime enables it.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.rt.Config().EnableCron {
		if err := eng.cron.Start(ctx); err != nil {
			return fmt.Errorf("start cron scheduler: %w", err)
		}
	}
	return eng.rt.Start(ctx)
}

// Stop stops cron and the worker pool concurrently, then shuts down the
// runtime, which closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if eng.rt.Config().EnableCron {
		g.Go(func() error { return eng.cron.Stop(gctx) })
	}
	g.Go(func() error { return eng.pool.Stop(gctx) })
	if err := g.Wait(); err != nil {
		eng.logger.Error("engine stop error", slog.String("error", err.Error()))
	}
	return eng.rt.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Codec returns the payload codec.
func (eng *Engine) Codec() codec.Codec { return eng.codec }

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *gmpreport.Runtime { return eng.rt }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Credentials returns the store's credential records, for use with
// credential.WithStore.
func (eng *Engine) Credentials() credential.Store { return eng.credentials }

// Cron returns the cron scheduler.
func (eng *Engine) Cron() *cron.Scheduler { return eng.cron }

// QueueManager returns the queue manager, or nil if no queue or account
// configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
