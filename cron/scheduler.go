package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// The engine provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry    *Entry
	schedule cronlib.Schedule
}

// Scheduler runs cron entries on a tick loop.
type Scheduler struct {
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		emitter:      emitter,
		logger:       logger,
		tickInterval: time.Second,
		entries:      make(map[string]*scheduled),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add validates the entry's schedule, computes NextRunAt when unset, and
// registers it. A second entry with the same name fails with
// gmpreport.ErrDuplicateCron.
func (s *Scheduler) Add(entry *Entry) error {
	sched, err := ParseSchedule(entry.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", entry.Schedule, err)
	}

	e := entry.clone()
	if e.ID.IsNil() {
		e.ID = id.NewCronID()
	}
	if e.NextRunAt == nil {
		next := sched.Next(time.Now().UTC())
		e.NextRunAt = &next
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("cron %q: %w", e.Name, gmpreport.ErrDuplicateCron)
	}
	s.entries[e.Name] = &scheduled{entry: e, schedule: sched}
	return nil
}

// Remove deletes the named entry. It reports whether the entry existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	return ok
}

// SetEnabled enables or disables the named entry.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("cron %q not found", name)
	}
	sc.entry.Enabled = enabled
	return nil
}

// Entries returns copies of all entries ordered by name.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, sc.entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Tick(context.Background(), now.UTC())
		}
	}
}

// Tick fires every enabled entry due at now and returns how many fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*scheduled
	for _, sc := range s.entries {
		if sc.entry.Enabled && sc.entry.NextRunAt != nil && !sc.entry.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, sc := range due {
		if s.fire(ctx, sc, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) bool {
	s.mu.Lock()
	e := sc.entry.clone()
	s.mu.Unlock()

	var opts []job.Option
	if e.Queue != "" {
		opts = append(opts, job.WithQueue(e.Queue))
	}
	jobID, err := s.enqueue(ctx, e.JobName, e.Payload, opts...)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_name", e.JobName),
			slog.String("error", err.Error()),
		)
		return false
	}

	next := sc.schedule.Next(now)
	s.mu.Lock()
	sc.entry.LastRunAt = &now
	sc.entry.NextRunAt = &next
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, jobID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_name", e.JobName),
		slog.String("job_id", jobID.String()),
		slog.Time("next_run_at", next),
	)
	return true
}
