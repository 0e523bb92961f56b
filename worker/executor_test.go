package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/ext"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
	"github.com/fivestones/gmpreport/store/memory"
	"github.com/fivestones/gmpreport/worker"
)

type executorFixture struct {
	store    *memory.Store
	registry *job.Registry
	executor *worker.Executor
}

func newExecutorFixture() *executorFixture {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry(nil)
	exec := worker.NewExecutor(reg, ext.NewRegistry(logger), s, dlq.NewService(s, s),
		backoff.NewConstant(time.Minute), logger)
	return &executorFixture{store: s, registry: reg, executor: exec}
}

// claim enqueues a job with the given counters and dequeues it, which
// counts one delivery.
func (f *executorFixture) claim(t *testing.T, name string, attempt, maxAttempts int) *job.Job {
	t.Helper()
	ctx := context.Background()
	jobID := id.NewJobID()
	j := &job.Job{
		Entity:      gmpreport.NewEntity(),
		ID:          jobID,
		ChainID:     jobID,
		Name:        name,
		Queue:       "default",
		State:       job.StatePending,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC(),
	}
	if err := f.store.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	jobs, err := f.store.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("DequeueJobs = %v, %v", jobs, err)
	}
	return jobs[0]
}

func (f *executorFixture) dlqEntries(t *testing.T) []*dlq.Entry {
	t.Helper()
	entries, err := f.store.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	return entries
}

func TestExecutor_Success(t *testing.T) {
	f := newExecutorFixture()
	job.RegisterDefinition(f.registry, job.NewDefinition("ok", func(_ context.Context, _ struct{}) error { return nil }))

	j := f.claim(t, "ok", 0, 3)
	if j.Attempt != 1 {
		t.Fatalf("Attempt after claim = %d, want 1", j.Attempt)
	}
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", j.State)
	}
}

func TestExecutor_CurrentJobInContext(t *testing.T) {
	f := newExecutorFixture()
	var seen *job.Job
	job.RegisterDefinition(f.registry, job.NewDefinition("ctx", func(ctx context.Context, _ struct{}) error {
		seen, _ = job.FromContext(ctx)
		return nil
	}))

	j := f.claim(t, "ctx", 4, 10)
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen == nil || seen.ID != j.ID || seen.Attempt != 5 {
		t.Fatalf("job in context = %+v", seen)
	}
}

func TestExecutor_TransientErrorRetries(t *testing.T) {
	f := newExecutorFixture()
	boom := errors.New("status endpoint 503")
	job.RegisterDefinition(f.registry, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error { return boom }))

	j := f.claim(t, "flaky", 0, 3)
	before := time.Now()
	err := f.executor.Execute(context.Background(), j)
	if !errors.Is(err, boom) {
		t.Fatalf("Execute error = %v, want wrapping %v", err, boom)
	}
	if j.State != job.StateRetrying {
		t.Errorf("State = %q, want retrying", j.State)
	}
	if j.RunAt.Before(before.Add(time.Minute - time.Second)) {
		t.Errorf("RunAt = %v, want about a minute out", j.RunAt)
	}
	if len(f.dlqEntries(t)) != 0 {
		t.Error("retrying job should not be in the DLQ")
	}
}

func TestExecutor_LastAttemptGoesToDLQ(t *testing.T) {
	f := newExecutorFixture()
	job.RegisterDefinition(f.registry, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		return errors.New("timeout")
	}))

	j := f.claim(t, "flaky", 2, 3)
	_ = f.executor.Execute(context.Background(), j)

	if j.State != job.StateFailed {
		t.Errorf("State = %q, want failed", j.State)
	}
	entries := f.dlqEntries(t)
	if len(entries) != 1 || entries[0].Reason != dlq.ReasonMaxAttempts {
		t.Fatalf("DLQ = %+v, want one max_attempts entry", entries)
	}
}

func TestExecutor_PermanentErrorSkipsRetries(t *testing.T) {
	f := newExecutorFixture()
	cause := errors.New("report failed with code 9")
	job.RegisterDefinition(f.registry, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) error {
		return backoff.Permanent(cause)
	}))

	j := f.claim(t, "doomed", 0, 10)
	err := f.executor.Execute(context.Background(), j)
	if !errors.Is(err, cause) {
		t.Fatalf("Execute error = %v, want %v", err, cause)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want failed", j.State)
	}
	entries := f.dlqEntries(t)
	if len(entries) != 1 || entries[0].Reason != dlq.ReasonPermanent {
		t.Fatalf("DLQ = %+v, want one permanent entry", entries)
	}
	if entries[0].Error != cause.Error() {
		t.Errorf("DLQ error = %q, want %q", entries[0].Error, cause.Error())
	}
}

func TestExecutor_ExhaustedBudgetFailsWithoutRunning(t *testing.T) {
	f := newExecutorFixture()
	ran := false
	job.RegisterDefinition(f.registry, job.NewDefinition("await:dbm", func(_ context.Context, _ struct{}) error {
		ran = true
		return nil
	}))

	j := f.claim(t, "await:dbm", 10, 10)
	err := f.executor.Execute(context.Background(), j)
	if !errors.Is(err, gmpreport.ErrMaxAttemptsExceeded) {
		t.Fatalf("Execute error = %v, want ErrMaxAttemptsExceeded", err)
	}
	if ran {
		t.Error("handler should not run once the budget is spent")
	}
	entries := f.dlqEntries(t)
	if len(entries) != 1 || entries[0].Reason != dlq.ReasonMaxAttempts || entries[0].Attempt != 11 {
		t.Fatalf("DLQ = %+v, want one max_attempts entry at attempt 11", entries)
	}
}

func TestExecutor_UnknownJobIsPermanent(t *testing.T) {
	f := newExecutorFixture()

	j := f.claim(t, "nobody-home", 0, 5)
	err := f.executor.Execute(context.Background(), j)
	if !backoff.IsPermanent(err) {
		t.Fatalf("Execute error = %v, want permanent", err)
	}
	if len(f.dlqEntries(t)) != 1 {
		t.Error("expected DLQ entry for unknown job")
	}
}

func TestExecutor_ReleasedJobIsNotRetried(t *testing.T) {
	f := newExecutorFixture()
	job.RegisterDefinition(f.registry, job.NewDefinition("poll", func(ctx context.Context, _ struct{}) error {
		cur, _ := job.FromContext(ctx)
		cur.State = job.StateReleased
		return errors.New("late failure")
	}))

	j := f.claim(t, "poll", 0, 10)
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := f.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateReleased {
		t.Errorf("State = %q, want released", got.State)
	}
	if len(f.dlqEntries(t)) != 0 {
		t.Error("released job should not be in the DLQ")
	}
}
