// Package storetest holds the behavior every store.Store backend must
// share. Backend tests call Run with a constructor for a fresh, empty
// store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
	"github.com/fivestones/gmpreport/store"
)

// Run exercises s against the shared contract. newStore must return an
// empty store each time it is called.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"EnqueueAndGet", testEnqueueAndGet},
		{"DequeueOrderAndQueues", testDequeueOrderAndQueues},
		{"DequeueSkipsFutureRunAt", testDequeueSkipsFutureRunAt},
		{"DequeueCountsDelivery", testDequeueCountsDelivery},
		{"DequeueClaimsOnce", testDequeueClaimsOnce},
		{"RetryingIsDequeued", testRetryingIsDequeued},
		{"UpdateAndDelete", testUpdateAndDelete},
		{"ListAndCount", testListAndCount},
		{"HeartbeatAndReap", testHeartbeatAndReap},
		{"DLQ", testDLQ},
		{"DLQPurge", testDLQPurge},
		{"Credentials", testCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob returns a pending job that is due immediately.
func NewJob(name, queue string, priority int) *job.Job {
	jobID := id.NewJobID()
	return &job.Job{
		Entity:      gmpreport.NewEntity(),
		ID:          jobID,
		ChainID:     jobID,
		Name:        name,
		Queue:       queue,
		Payload:     []byte(`{"report_id":"r-1"}`),
		State:       job.StatePending,
		Priority:    priority,
		MaxAttempts: 4,
		Account:     "acct-1",
		RunAt:       time.Now().UTC().Add(-time.Second),
		Timeout:     time.Minute,
	}
}

func enqueue(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.Name, err)
		}
	}
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("dbm.await", "default", 0)
	enqueue(t, s, j)

	if err := s.EnqueueJob(ctx, j); !errors.Is(err, gmpreport.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != j.Name || got.Queue != j.Queue || got.Account != j.Account {
		t.Fatalf("got %+v, want name/queue/account of %+v", got, j)
	}
	if got.ChainID != j.ChainID {
		t.Fatalf("chain id = %s, want %s", got.ChainID, j.ChainID)
	}
	if got.MaxAttempts != 4 || got.Timeout != time.Minute {
		t.Fatalf("max attempts/timeout = %d/%s", got.MaxAttempts, got.Timeout)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Fatalf("payload = %s, want %s", got.Payload, j.Payload)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, gmpreport.ErrJobNotFound) {
		t.Fatalf("missing job: got %v, want ErrJobNotFound", err)
	}
}

func testDequeueOrderAndQueues(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := NewJob("low", "default", 1)
	high := NewJob("high", "default", 10)
	other := NewJob("other", "reports", 5)
	enqueue(t, s, low, high, other)

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].Name != "high" {
		t.Fatalf("first = %q, want high", jobs[0].Name)
	}
	for _, j := range jobs {
		if j.State != job.StateRunning {
			t.Fatalf("state = %q, want running", j.State)
		}
		if j.StartedAt == nil {
			t.Fatal("StartedAt not set on claim")
		}
	}

	jobs, err = s.DequeueJobs(ctx, []string{"reports"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "other" {
		t.Fatalf("reports queue: got %d jobs", len(jobs))
	}
}

func testDequeueSkipsFutureRunAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	future := NewJob("future", "default", 0)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	ready := NewJob("ready", "default", 0)
	enqueue(t, s, future, ready)

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "ready" {
		t.Fatalf("got %d jobs, want only ready", len(jobs))
	}

	got, err := s.GetJob(ctx, future.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Fatalf("future job state = %q, want pending", got.State)
	}
}

func testDequeueCountsDelivery(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("continuation", "default", 0)
	j.Attempt = 3
	enqueue(t, s, j)

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Attempt != 4 {
		t.Fatalf("attempt = %d, want 4", jobs[0].Attempt)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempt != 4 || got.State != job.StateRunning {
		t.Fatalf("stored attempt/state = %d/%q, want 4/running", got.Attempt, got.State)
	}
}

func testDequeueClaimsOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("once", "default", 0))

	first, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	second, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("claims = %d then %d, want 1 then 0", len(first), len(second))
	}
}

func testRetryingIsDequeued(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("retry", "default", 0)
	enqueue(t, s, j)

	claimed, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueJobs: %d jobs, %v", len(claimed), err)
	}

	r := claimed[0]
	r.State = job.StateRetrying
	r.LastError = "remote 503"
	r.RunAt = time.Now().UTC().Add(-time.Millisecond)
	if err := s.UpdateJob(ctx, r); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	again, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("retrying job not redelivered")
	}
	if again[0].Attempt != 2 || again[0].LastError != "remote 503" {
		t.Fatalf("attempt/last error = %d/%q", again[0].Attempt, again[0].LastError)
	}
}

func testUpdateAndDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("update", "default", 0)
	enqueue(t, s, j)

	now := time.Now().UTC()
	j.State = job.StateReleased
	j.CompletedAt = &now
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateReleased || got.CompletedAt == nil {
		t.Fatalf("state = %q completed = %v", got.State, got.CompletedAt)
	}

	if err := s.UpdateJob(ctx, NewJob("missing", "default", 0)); !errors.Is(err, gmpreport.ErrJobNotFound) {
		t.Fatalf("update missing: got %v, want ErrJobNotFound", err)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, gmpreport.ErrJobNotFound) {
		t.Fatalf("after delete: got %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, gmpreport.ErrJobNotFound) {
		t.Fatalf("delete missing: got %v, want ErrJobNotFound", err)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob("a", "default", 0)
	b := NewJob("b", "default", 0)
	c := NewJob("c", "reports", 0)
	c.State = job.StateCompleted
	enqueue(t, s, a, b, c)

	lists := []struct {
		name  string
		state job.State
		opts  job.ListOpts
		want  int
	}{
		{"all pending", job.StatePending, job.ListOpts{}, 2},
		{"pending limit", job.StatePending, job.ListOpts{Limit: 1}, 1},
		{"pending offset", job.StatePending, job.ListOpts{Offset: 1}, 1},
		{"pending other queue", job.StatePending, job.ListOpts{Queue: "reports"}, 0},
		{"completed", job.StateCompleted, job.ListOpts{}, 1},
	}
	for _, tt := range lists {
		got, err := s.ListJobsByState(ctx, tt.state, tt.opts)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != tt.want {
			t.Fatalf("%s: got %d, want %d", tt.name, len(got), tt.want)
		}
	}

	counts := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 3},
		{"default queue", job.CountOpts{Queue: "default"}, 2},
		{"completed", job.CountOpts{State: job.StateCompleted}, 1},
		{"reports pending", job.CountOpts{Queue: "reports", State: job.StatePending}, 0},
	}
	for _, tt := range counts {
		got, err := s.CountJobs(ctx, tt.opts)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func testHeartbeatAndReap(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("heartbeat", "default", 0)
	j.State = job.StateRunning
	old := time.Now().UTC().Add(-time.Minute)
	j.HeartbeatAt = &old
	enqueue(t, s, j)

	stale, err := s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale after heartbeat = %d, want 0", len(stale))
	}
}

// NewDLQEntry returns a dead letter entry for queue.
func NewDLQEntry(queue string, failedAt time.Time) *dlq.Entry {
	jobID := id.NewJobID()
	return &dlq.Entry{
		ID:          id.NewDLQID(),
		JobID:       jobID,
		ChainID:     jobID,
		JobName:     "sdf.await",
		Queue:       queue,
		Payload:     []byte(`{"operation":"op-1"}`),
		Error:       "remote task failed",
		Reason:      dlq.ReasonPermanent,
		Attempt:     2,
		MaxAttempts: 4,
		Account:     "acct-1",
		FailedAt:    failedAt,
		CreatedAt:   time.Now().UTC(),
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	e1 := NewDLQEntry("default", now.Add(-2*time.Minute))
	e2 := NewDLQEntry("reports", now.Add(-time.Minute))
	e3 := NewDLQEntry("default", now)
	for _, e := range []*dlq.Entry{e1, e2, e3} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	got, err := s.GetDLQ(ctx, e1.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Reason != dlq.ReasonPermanent || got.Attempt != 2 || got.ChainID != e1.ChainID {
		t.Fatalf("got %+v", got)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, gmpreport.ErrDLQNotFound) {
		t.Fatalf("missing entry: got %v, want ErrDLQNotFound", err)
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(all) != 3 || all[0].ID != e1.ID {
		t.Fatalf("ListDLQ: %d entries, want 3 oldest first", len(all))
	}
	byQueue, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: "default", Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(byQueue) != 1 || byQueue[0].ID != e1.ID {
		t.Fatalf("ListDLQ by queue: got %d", len(byQueue))
	}

	if err := s.ReplayDLQ(ctx, e1.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, err = s.GetDLQ(ctx, e1.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("ReplayedAt not set")
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, gmpreport.ErrDLQNotFound) {
		t.Fatalf("replay missing: got %v, want ErrDLQNotFound", err)
	}

	n, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountDLQ = %d, want 3", n)
	}
}

func testDLQPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	for _, e := range []*dlq.Entry{
		NewDLQEntry("default", now.Add(-48*time.Hour)),
		NewDLQEntry("default", now),
	} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	purged, err := s.PurgeDLQ(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	n, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Fatalf("remaining = %d, want 1", n)
	}
}

func testCredentials(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.LoadToken(ctx, "acct-1"); !errors.Is(err, gmpreport.ErrCredentialNotFound) {
		t.Fatalf("missing token: got %v, want ErrCredentialNotFound", err)
	}

	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	first := &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", Expiry: expiry}
	if err := s.SaveToken(ctx, "acct-1", first); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	second := &oauth2.Token{AccessToken: "a2", RefreshToken: "r2", TokenType: "Bearer", Expiry: expiry}
	if err := s.SaveToken(ctx, "acct-1", second); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := s.LoadToken(ctx, "acct-1")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.AccessToken != "a2" || got.RefreshToken != "r2" {
		t.Fatalf("token = %q/%q, want last write a2/r2", got.AccessToken, got.RefreshToken)
	}
	if !got.Expiry.Equal(expiry) {
		t.Fatalf("expiry = %s, want %s", got.Expiry, expiry)
	}
}
