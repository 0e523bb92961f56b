package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
	audithook "github.com/fivestones/gmpreport/audit_hook"
	"github.com/fivestones/gmpreport/await"
	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/codec"
	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/cron"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/engine"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
	"github.com/fivestones/gmpreport/queue"
	"github.com/fivestones/gmpreport/remote"
	"github.com/fivestones/gmpreport/store/memory"
	"github.com/fivestones/gmpreport/stream"
)

const testKind remote.Kind = "test.report"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()

	cfg := gmpreport.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 0
	cfg.StaleJobThreshold = 0

	s := memory.New()
	rt, err := gmpreport.New(
		gmpreport.WithStore(s),
		gmpreport.WithConfig(cfg),
		gmpreport.WithLogger(quietLogger),
	)
	if err != nil {
		t.Fatalf("gmpreport.New: %v", err)
	}

	opts = append([]engine.Option{engine.WithBackoff(backoff.NewConstant(time.Millisecond))}, opts...)
	eng, err := engine.Build(rt, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ──────────────────────────────────────────────────
// Register → Enqueue → Process
// ──────────────────────────────────────────────────

type reportInput struct {
	Advertiser string `json:"advertiser"`
}

func TestEngine_RegisterEnqueueProcess(t *testing.T) {
	eng, s := newEngine(t)

	var processed atomic.Bool
	var got reportInput
	engine.Register(eng, job.NewDefinition("reports:launch", func(_ context.Context, in reportInput) error {
		got = in
		processed.Store(true)
		return nil
	}, job.WithQueue("default")))

	j, err := engine.Enqueue(context.Background(), eng, "reports:launch", reportInput{Advertiser: "42"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.State != job.StatePending || j.ChainID != j.ID || j.MaxAttempts != job.DefaultOptions().MaxAttempts {
		t.Fatalf("enqueued job = %+v", j)
	}

	start(t, eng)
	waitFor(t, "job", processed.Load)

	if got.Advertiser != "42" {
		t.Errorf("payload = %+v", got)
	}
	waitFor(t, "completed state", func() bool {
		stored, err := s.GetJob(context.Background(), j.ID)
		return err == nil && stored.State == job.StateCompleted
	})
}

func TestEngine_RetriesTransientFailure(t *testing.T) {
	eng, _ := newEngine(t)

	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition("flaky", func(context.Context, struct{}) error {
		if calls.Add(1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}))

	if _, err := engine.Enqueue(context.Background(), eng, "flaky", struct{}{}); err != nil {
		t.Fatal(err)
	}
	start(t, eng)
	waitFor(t, "second delivery", func() bool { return calls.Load() >= 2 })
}

func TestEngine_BuildRequiresStore(t *testing.T) {
	rt, err := gmpreport.New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Build(rt); !errors.Is(err, gmpreport.ErrNoStore) {
		t.Fatalf("got %v, want ErrNoStore", err)
	}
}

// ──────────────────────────────────────────────────
// await.Scheduler
// ──────────────────────────────────────────────────

func TestEngine_ScheduleOutsideJob(t *testing.T) {
	eng, _ := newEngine(t)

	err := eng.Schedule(context.Background(), await.Unit{Name: "x"}, time.Second, "default")
	if !errors.Is(err, gmpreport.ErrNoRunningJob) {
		t.Fatalf("got %v, want ErrNoRunningJob", err)
	}
	if eng.CurrentAttempt(context.Background()) != 0 {
		t.Fatal("CurrentAttempt outside a job should be 0")
	}
}

func TestEngine_ScheduleInheritsLineage(t *testing.T) {
	eng, s := newEngine(t)

	jobID := id.NewJobID()
	chainID := id.NewJobID()
	cur := &job.Job{
		ID:          jobID,
		ChainID:     chainID,
		Name:        await.JobName(testKind),
		Attempt:     3,
		MaxAttempts: 10,
		Timeout:     20 * time.Second,
		Account:     "acct",
		Priority:    5,
	}
	ctx := job.WithCurrent(context.Background(), cur)

	if got := eng.CurrentAttempt(ctx); got != 3 {
		t.Fatalf("CurrentAttempt = %d", got)
	}
	before := time.Now().UTC()
	if err := eng.Schedule(ctx, await.Unit{Name: cur.Name, Payload: map[string]string{"k": "v"}}, 90*time.Second, "await"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if cur.State != job.StateReleased {
		t.Fatalf("current state = %q, want released", cur.State)
	}

	pending, err := s.ListJobsByState(context.Background(), job.StatePending, job.ListOpts{})
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d (%v)", len(pending), err)
	}
	next := pending[0]
	if next.ID == jobID || next.ChainID != chainID {
		t.Fatalf("continuation ids: id=%s chain=%s", next.ID, next.ChainID)
	}
	if next.Attempt != 3 || next.MaxAttempts != 10 || next.Timeout != 20*time.Second || next.Account != "acct" || next.Priority != 5 {
		t.Fatalf("continuation = %+v", next)
	}
	if next.Queue != "await" || next.RunAt.Before(before.Add(90*time.Second)) {
		t.Fatalf("queue %q run_at %v", next.Queue, next.RunAt)
	}
}

func TestEngine_DispatchStartsNewLineage(t *testing.T) {
	eng, s := newEngine(t)

	cur := &job.Job{ID: id.NewJobID(), ChainID: id.NewJobID(), Attempt: 7, Account: "acct"}
	ctx := job.WithCurrent(context.Background(), cur)

	jobID, err := eng.Dispatch(ctx, await.Unit{Name: "import", Payload: await.Result{}}, "results")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if cur.State != "" {
		t.Fatalf("dispatch changed current job state to %q", cur.State)
	}

	pending, _ := s.ListJobsByState(context.Background(), job.StatePending, job.ListOpts{})
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	d := pending[0]
	if d.ID != jobID || d.Attempt != 0 || d.ChainID != d.ID || d.Queue != "results" || d.Account != "acct" {
		t.Fatalf("dispatched = %+v", d)
	}
}

func TestEngine_DispatchAccount(t *testing.T) {
	tests := []struct {
		name    string
		current *job.Job
		account string
		want    string
	}{
		{"outside a job", nil, "acct-u", "acct-u"},
		{"outside a job without account", nil, "", ""},
		{"unit account wins", &job.Job{ID: id.NewJobID(), Account: "acct-cur"}, "acct-u", "acct-u"},
		{"inherits running job", &job.Job{ID: id.NewJobID(), Account: "acct-cur"}, "", "acct-cur"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, s := newEngine(t)
			ctx := context.Background()
			if tt.current != nil {
				ctx = job.WithCurrent(ctx, tt.current)
			}

			jobID, err := eng.Dispatch(ctx, await.Unit{Name: "import", Payload: await.Result{}, Account: tt.account}, "results")
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			j, err := s.GetJob(context.Background(), jobID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if j.Account != tt.want {
				t.Fatalf("Account = %q, want %q", j.Account, tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Await lineage end to end
// ──────────────────────────────────────────────────

type scriptedStatus struct {
	mu       sync.Mutex
	statuses []remote.Status
	calls    int
}

func (s *scriptedStatus) Status(context.Context, *oauth2.Token, remote.Handle) (remote.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[min(s.calls, len(s.statuses)-1)]
	s.calls++
	return st, nil
}

type fixedCreator struct{}

func (fixedCreator) Create(_ context.Context, _ *oauth2.Token, spec remote.Spec) (remote.Handle, error) {
	return remote.Handle{Kind: spec.Kind, ID: "q-1", Title: spec.Title}, nil
}

type rescheduleCounter struct{ n atomic.Int32 }

func (r *rescheduleCounter) Name() string { return "reschedule-counter" }

func (r *rescheduleCounter) OnJobRescheduled(context.Context, *job.Job, *job.Job, time.Duration) error {
	r.n.Add(1)
	return nil
}

func newAwaitStack(t *testing.T, eng *engine.Engine, sp remote.StatusProvider, kindOpts ...await.KindOption) *await.Launcher {
	t.Helper()
	cfg := await.DefaultConfig()
	cfg.PollCap = time.Millisecond

	poller := await.NewPoller(eng, credential.Static{"acct": {AccessToken: "t"}},
		await.WithConfig(cfg),
		await.WithLogger(quietLogger),
		await.WithRetrier(&backoff.Retrier{Strategy: backoff.NewConstant(time.Millisecond), MaxAttempts: 2}),
	)
	poller.Register(testKind, sp, kindOpts...)
	poller.Install(eng.Registry())
	return await.NewLauncher(poller)
}

func launch(t *testing.T, l *await.Launcher) await.Task {
	t.Helper()
	result, err := await.NewResultSpec("import", "default", "advertiser-9")
	if err != nil {
		t.Fatal(err)
	}
	spec := remote.Spec{Kind: testKind, Title: "spend"}
	task, err := l.Launch(context.Background(), fixedCreator{}, credential.Ref{Account: "acct"}, spec, result)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return task
}

func TestEngine_AwaitCompletesAndDispatchesResult(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON{}, codec.Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			counter := &rescheduleCounter{}
			eng, s := newEngine(t, engine.WithCodec(c), engine.WithExtension(counter))

			sp := &scriptedStatus{statuses: []remote.Status{
				remote.Running(),
				remote.Running(),
				remote.Done(json.RawMessage(`{"path":"gs://b/r.csv"}`)),
			}}
			l := newAwaitStack(t, eng, sp)

			var results atomic.Int32
			var got await.Result
			await.ResultHandler(eng.Registry(), "import", func(_ context.Context, r await.Result) error {
				got = r
				results.Add(1)
				return nil
			})

			launch(t, l)
			start(t, eng)
			waitFor(t, "result job", func() bool { return results.Load() == 1 })

			var advertiser string
			if err := got.Decode(0, &advertiser); err != nil || advertiser != "advertiser-9" {
				t.Fatalf("arg 0 = %q (%v)", advertiser, err)
			}
			if string(got.Artifact()) != `{"path":"gs://b/r.csv"}` {
				t.Fatalf("artifact = %s", got.Artifact())
			}
			if counter.n.Load() != 2 {
				t.Fatalf("reschedules = %d, want 2", counter.n.Load())
			}

			var released []*job.Job
			waitFor(t, "released deliveries", func() bool {
				released, _ = s.ListJobsByState(context.Background(), job.StateReleased, job.ListOpts{})
				return len(released) == 2
			})
			attempts := map[int]bool{}
			for _, j := range released {
				attempts[j.Attempt] = true
				if j.ChainID != released[0].ChainID {
					t.Fatal("await deliveries must share one chain")
				}
			}
			if !attempts[1] || !attempts[2] {
				t.Fatalf("released attempts = %v, want 1 and 2", attempts)
			}

			waitFor(t, "await completion", func() bool {
				done, _ := s.ListJobsByState(context.Background(), job.StateCompleted, job.ListOpts{})
				for _, j := range done {
					if j.Name == await.JobName(testKind) && j.Attempt == 3 && j.ChainID == released[0].ChainID {
						return true
					}
				}
				return false
			})
		})
	}
}

func TestEngine_AwaitRemoteFailureGoesToDLQ(t *testing.T) {
	eng, s := newEngine(t)
	l := newAwaitStack(t, eng, &scriptedStatus{statuses: []remote.Status{remote.Failed("42", "report failed")}})

	var results atomic.Int32
	await.ResultHandler(eng.Registry(), "import", func(context.Context, await.Result) error {
		results.Add(1)
		return nil
	})

	launch(t, l)
	start(t, eng)
	waitFor(t, "dlq entry", func() bool {
		n, _ := s.CountDLQ(context.Background())
		return n == 1
	})

	entries, _ := s.ListDLQ(context.Background(), dlq.ListOpts{})
	e := entries[0]
	if e.Reason != dlq.ReasonPermanent || !strings.Contains(e.Error, "42") || e.Attempt != 1 {
		t.Fatalf("dlq entry = %+v", e)
	}
	if results.Load() != 0 {
		t.Fatal("no result job expected")
	}
}

func TestEngine_AwaitCeilingGoesToDLQ(t *testing.T) {
	eng, s := newEngine(t)
	l := newAwaitStack(t, eng, &scriptedStatus{statuses: []remote.Status{remote.Running()}}, await.WithMaxAttempts(2))

	launch(t, l)
	start(t, eng)
	waitFor(t, "dlq entry", func() bool {
		n, _ := s.CountDLQ(context.Background())
		return n == 1
	})

	entries, _ := s.ListDLQ(context.Background(), dlq.ListOpts{})
	e := entries[0]
	if e.Reason != dlq.ReasonMaxAttempts || e.Attempt != 3 || e.MaxAttempts != 2 {
		t.Fatalf("dlq entry = %+v", e)
	}
	if !strings.Contains(e.Error, gmpreport.ErrMaxAttemptsExceeded.Error()) {
		t.Fatalf("error = %q", e.Error)
	}

	replayed, err := eng.DLQService().Replay(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Attempt != 0 || replayed.ChainID != replayed.ID || replayed.Name != await.JobName(testKind) {
		t.Fatalf("replayed = %+v", replayed)
	}
}

func TestEngine_AwaitChainObservable(t *testing.T) {
	broker := stream.NewBroker(quietLogger)

	var mu sync.Mutex
	var trail []*audithook.AuditEvent
	rec := audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		mu.Lock()
		trail = append(trail, evt)
		mu.Unlock()
		return nil
	})

	eng, _ := newEngine(t,
		engine.WithExtension(broker),
		engine.WithExtension(audithook.New(rec, audithook.WithActions(audithook.ActionJobRescheduled, audithook.ActionJobDLQ))),
	)
	l := newAwaitStack(t, eng, &scriptedStatus{statuses: []remote.Status{
		remote.Running(),
		remote.Failed("7", "quota"),
	}})

	chain := launch(t, l).Chain
	if chain.IsNil() {
		t.Fatal("launch returned no chain")
	}
	watch := broker.WatchChain(chain)

	start(t, eng)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := broker.Wait(ctx, watch)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.Type != stream.EventJobDLQ {
		t.Fatalf("terminal event = %q, want %q", final.Type, stream.EventJobDLQ)
	}
	fd, _ := final.JobData()
	if fd.ChainID != chain.String() || fd.Attempt != 2 {
		t.Fatalf("terminal data = %+v", fd)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(trail) != 2 {
		t.Fatalf("audit trail = %d events, want 2", len(trail))
	}
	if trail[0].Action != audithook.ActionJobRescheduled || trail[1].Action != audithook.ActionJobDLQ {
		t.Fatalf("actions = %q, %q", trail[0].Action, trail[1].Action)
	}
	for _, evt := range trail {
		if evt.Metadata["chain_id"] != chain.String() {
			t.Fatalf("chain_id = %v", evt.Metadata["chain_id"])
		}
	}
}

func TestEngine_LaunchedLineageActsForAccount(t *testing.T) {
	eng, s := newEngine(t, engine.WithAccountConfig(queue.AccountConfig{Account: "acct", MaxConcurrency: 1}))
	sp := &scriptedStatus{statuses: []remote.Status{
		remote.Running(),
		remote.Done(json.RawMessage(`"gs://b/r.csv"`)),
	}}
	l := newAwaitStack(t, eng, sp)

	var resultAccount atomic.Value
	await.ResultHandler(eng.Registry(), "import", func(ctx context.Context, _ await.Result) error {
		cur, _ := job.FromContext(ctx)
		resultAccount.Store(cur.Account)
		return nil
	})

	task := launch(t, l)
	first, err := s.GetJob(context.Background(), task.Chain)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if first.Name != await.JobName(testKind) || first.Account != "acct" || first.State != job.StatePending {
		t.Fatalf("await job = %+v", first)
	}

	// Hold the account's only slot: the await job must not run.
	m := eng.QueueManager()
	if !m.Acquire("default", "acct") {
		t.Fatal("slot should be free")
	}
	start(t, eng)
	time.Sleep(100 * time.Millisecond)
	sp.mu.Lock()
	polled := sp.calls
	sp.mu.Unlock()
	if polled != 0 {
		t.Fatalf("gated await job polled %d times", polled)
	}

	m.Release("default", "acct")
	waitFor(t, "result job", func() bool { return resultAccount.Load() != nil })
	if got := resultAccount.Load().(string); got != "acct" {
		t.Fatalf("result account = %q", got)
	}

	released, _ := s.ListJobsByState(context.Background(), job.StateReleased, job.ListOpts{})
	if len(released) != 1 || released[0].Account != "acct" {
		t.Fatalf("released = %+v", released)
	}
	waitFor(t, "continuation completion", func() bool {
		done, _ := s.ListJobsByState(context.Background(), job.StateCompleted, job.ListOpts{})
		for _, j := range done {
			if j.ChainID == task.Chain && j.ID != task.Chain {
				return j.Account == "acct"
			}
		}
		return false
	})
}

// ──────────────────────────────────────────────────
// Cron and queue limits
// ──────────────────────────────────────────────────

type cronTracker struct {
	mu    sync.Mutex
	names []string
}

func (c *cronTracker) Name() string { return "cron-tracker" }

func (c *cronTracker) OnCronFired(_ context.Context, entryName string, _ id.JobID) error {
	c.mu.Lock()
	c.names = append(c.names, entryName)
	c.mu.Unlock()
	return nil
}

func TestEngine_RegisterCron(t *testing.T) {
	tracker := &cronTracker{}
	eng, s := newEngine(t, engine.WithExtension(tracker))
	engine.Register(eng, job.NewDefinition("reports:launch", func(context.Context, reportInput) error { return nil }, job.WithQueue("submissions")))

	def := cron.NewDefinition("daily-spend", "0 6 * * *", "reports:launch", reportInput{Advertiser: "42"})
	if err := engine.RegisterCron(eng, def); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := engine.RegisterCron(eng, def); !errors.Is(err, gmpreport.ErrDuplicateCron) {
		t.Fatalf("duplicate: got %v", err)
	}
	if err := engine.RegisterCron(eng, cron.NewDefinition("bad", "whenever", "x", struct{}{})); err == nil {
		t.Fatal("expected schedule error")
	}

	if n := eng.Cron().Tick(context.Background(), time.Now().UTC().Add(25*time.Hour)); n != 1 {
		t.Fatalf("fired = %d", n)
	}
	pending, _ := s.ListJobsByState(context.Background(), job.StatePending, job.ListOpts{})
	if len(pending) != 1 || pending[0].Name != "reports:launch" || pending[0].Queue != "submissions" {
		t.Fatalf("pending = %+v", pending)
	}
	var in reportInput
	if err := json.Unmarshal(pending[0].Payload, &in); err != nil || in.Advertiser != "42" {
		t.Fatalf("payload = %s", pending[0].Payload)
	}
	if len(tracker.names) != 1 || tracker.names[0] != "daily-spend" {
		t.Fatalf("cron events = %v", tracker.names)
	}
}

func TestEngine_QueueManager(t *testing.T) {
	eng, _ := newEngine(t)
	if eng.QueueManager() != nil {
		t.Fatal("no manager expected without limits")
	}

	eng, _ = newEngine(t, engine.WithAccountConfig(queue.AccountConfig{Account: "acct", MaxConcurrency: 1}))
	m := eng.QueueManager()
	if m == nil {
		t.Fatal("expected a queue manager")
	}
	if !m.Acquire("default", "acct") || m.Acquire("default", "acct") {
		t.Fatal("account concurrency limit not applied")
	}
}
