package await

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/job"
	"github.com/fivestones/gmpreport/remote"
)

// Outcome is how one poll ended.
type Outcome string

const (
	// OutcomeCompleted means the result unit was dispatched.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRescheduled means a continuation was scheduled.
	OutcomeRescheduled Outcome = "rescheduled"
	// OutcomeFailed means the poll returned an error.
	OutcomeFailed Outcome = "failed"
)

// JobName returns the await job name for kind.
func JobName(kind remote.Kind) string {
	return "await:" + string(kind)
}

// Option configures a Poller.
type Option func(*Poller)

// WithConfig replaces the poller configuration.
func WithConfig(cfg Config) Option {
	return func(p *Poller) { p.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithRetrier sets the retrier used around status fetches, submissions
// and credential refreshes made by the launcher.
func WithRetrier(r *backoff.Retrier) Option {
	return func(p *Poller) { p.retrier = r }
}

// KindOption overrides poller defaults for one kind.
type KindOption func(*kindEntry)

// WithMaxAttempts sets the delivery ceiling for the kind.
func WithMaxAttempts(n int) KindOption {
	return func(k *kindEntry) { k.maxAttempts = n }
}

// WithTimeout sets the per-delivery budget for the kind.
func WithTimeout(d time.Duration) KindOption {
	return func(k *kindEntry) { k.timeout = d }
}

type kindEntry struct {
	status      remote.StatusProvider
	maxAttempts int
	timeout     time.Duration
}

// Poller runs await deliveries. Register every kind before Install.
type Poller struct {
	config      Config
	scheduler   Scheduler
	credentials credential.Provider
	retrier     *backoff.Retrier
	policy      *backoff.Power
	logger      *slog.Logger

	mu    sync.RWMutex
	kinds map[remote.Kind]*kindEntry
}

// NewPoller creates a Poller that schedules through s and resolves tokens
// through creds.
func NewPoller(s Scheduler, creds credential.Provider, opts ...Option) *Poller {
	p := &Poller{
		config:      DefaultConfig(),
		scheduler:   s,
		credentials: creds,
		logger:      slog.Default(),
		kinds:       make(map[remote.Kind]*kindEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retrier == nil {
		p.retrier = &backoff.Retrier{
			Strategy:    backoff.NewExponentialWithJitter(time.Second, time.Minute),
			MaxAttempts: p.config.FetchAttempts,
		}
	}
	p.policy = &backoff.Power{Factor: p.config.Factor, Offset: p.config.Offset, Max: p.config.PollCap}
	return p
}

// Config returns the poller configuration.
func (p *Poller) Config() Config { return p.config }

// Register makes kind pollable through sp.
func (p *Poller) Register(k remote.Kind, sp remote.StatusProvider, opts ...KindOption) {
	entry := &kindEntry{status: sp, maxAttempts: p.config.MaxAttempts, timeout: p.config.Timeout}
	for _, opt := range opts {
		opt(entry)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds[k] = entry
}

// Kinds returns the registered kinds in name order.
func (p *Poller) Kinds() []remote.Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	kinds := make([]remote.Kind, 0, len(p.kinds))
	for k := range p.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (p *Poller) kind(k remote.Kind) (*kindEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.kinds[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gmpreport.ErrUnknownKind, k)
	}
	return entry, nil
}

// Install registers one await job per registered kind, carrying the kind's
// ceiling and timeout as job defaults.
func (p *Poller) Install(reg *job.Registry) {
	for _, k := range p.Kinds() {
		entry, _ := p.kind(k)
		def := job.NewDefinition(JobName(k), p.handle,
			job.WithQueue(p.config.Queue),
			job.WithMaxAttempts(entry.maxAttempts),
			job.WithTimeout(entry.timeout),
		)
		job.RegisterDefinition(reg, def)
	}
}

func (p *Poller) handle(ctx context.Context, t Task) error {
	_, err := p.Await(ctx, t)
	return err
}

// Await runs one poll of t.
func (p *Poller) Await(ctx context.Context, t Task) (Outcome, error) {
	entry, err := p.kind(t.Handle.Kind)
	if err != nil {
		return OutcomeFailed, backoff.Permanent(err)
	}

	tok, err := p.credentials.Token(ctx, t.Credential)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("await %s: credential: %w", t.Handle, err)
	}

	var status remote.Status
	err = p.retrier.Do(ctx, func(ctx context.Context) error {
		st, err := entry.status.Status(ctx, tok, t.Handle)
		if err != nil {
			return err
		}
		status = st
		return nil
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("await %s: fetch status: %w", t.Handle, err)
	}

	switch status.State {
	case remote.StateDone:
		return p.complete(ctx, t, status.Artifact)
	case remote.StateFailed:
		return OutcomeFailed, p.fail(t, status.Failure)
	default:
		return p.reschedule(ctx, t)
	}
}

func (p *Poller) complete(ctx context.Context, t Task, artifact json.RawMessage) (Outcome, error) {
	args := append(slices.Clone(t.Result.Args), artifact)
	u := Unit{Name: t.Result.Target, Payload: Result{Args: args}, Account: t.Credential.Account}
	if _, err := p.scheduler.Dispatch(ctx, u, t.Result.Queue); err != nil {
		return OutcomeFailed, fmt.Errorf("await %s: dispatch %s: %w", t.Handle, t.Result.Target, err)
	}

	p.logger.Info("remote task completed",
		slog.String("task", t.Handle.String()),
		slog.String("result", t.Result.Target),
	)
	return OutcomeCompleted, nil
}

func (p *Poller) fail(t Task, f *remote.Failure) error {
	rf := &RemoteFailureError{Handle: t.Handle}
	if f != nil {
		rf.Code = f.Code
		rf.Message = f.Message
	}
	p.logger.Warn("remote task failed",
		slog.String("task", t.Handle.String()),
		slog.String("code", rf.Code),
		slog.String("message", rf.Message),
	)
	return backoff.Permanent(rf)
}

func (p *Poller) reschedule(ctx context.Context, t Task) (Outcome, error) {
	attempt := p.scheduler.CurrentAttempt(ctx)
	delay := p.policy.Delay(attempt)
	queue := t.Queue
	if queue == "" {
		queue = p.config.Queue
	}

	u := Unit{Name: JobName(t.Handle.Kind), Payload: t, Account: t.Credential.Account}
	if err := p.scheduler.Schedule(ctx, u, delay, queue); err != nil {
		return OutcomeFailed, fmt.Errorf("await %s: reschedule: %w", t.Handle, err)
	}

	p.logger.Debug("remote task still running",
		slog.String("task", t.Handle.String()),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
	return OutcomeRescheduled, nil
}

// ResultHandler registers fn as the result job named target.
func ResultHandler(reg *job.Registry, target string, fn func(ctx context.Context, r Result) error, opts ...job.Option) {
	job.RegisterDefinition(reg, job.NewDefinition(target, fn, opts...))
}
