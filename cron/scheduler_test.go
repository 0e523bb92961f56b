package cron_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/cron"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	names []string
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, _ id.JobID) {
	e.mu.Lock()
	e.names = append(e.names, entryName)
	e.mu.Unlock()
}

// enqueueSpy tracks enqueue calls with thread safety.
type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	Name    string
	Payload []byte
	Queue   string
}

func (e *enqueueSpy) Fn() cron.EnqueueFunc {
	return func(_ context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.err != nil {
			return id.JobID{}, e.err
		}
		o := job.DefaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		e.calls = append(e.calls, enqueueCall{Name: name, Payload: payload, Queue: o.Queue})
		return id.NewJobID(), nil
	}
}

func (e *enqueueSpy) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestScheduler() (*cron.Scheduler, *stubEmitter, *enqueueSpy) {
	emitter := &stubEmitter{}
	spy := &enqueueSpy{}
	return cron.NewScheduler(spy.Fn(), emitter, nil, cron.WithTickInterval(20*time.Millisecond)), emitter, spy
}

func dueEntry(name string) *cron.Entry {
	past := time.Now().UTC().Add(-time.Second)
	return &cron.Entry{
		Name:      name,
		Schedule:  "@every 1h",
		JobName:   "reports:launch",
		Payload:   []byte(`{"advertiser":"42"}`),
		NextRunAt: &past,
		Enabled:   true,
	}
}

func TestScheduler_TickFiresDueEntries(t *testing.T) {
	s, emitter, spy := newTestScheduler()
	if err := s.Add(dueEntry("due")); err != nil {
		t.Fatal(err)
	}
	later := &cron.Entry{Name: "later", Schedule: "@every 1h", JobName: "x", Enabled: true}
	if err := s.Add(later); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if n := s.Tick(context.Background(), now); n != 1 {
		t.Fatalf("fired = %d, want 1", n)
	}
	if spy.Count() != 1 || spy.calls[0].Name != "reports:launch" || string(spy.calls[0].Payload) != `{"advertiser":"42"}` {
		t.Fatalf("enqueued = %+v", spy.calls)
	}
	if len(emitter.names) != 1 || emitter.names[0] != "due" {
		t.Fatalf("emitted = %v", emitter.names)
	}

	for _, e := range s.Entries() {
		if e.Name != "due" {
			continue
		}
		if e.LastRunAt == nil || !e.LastRunAt.Equal(now) {
			t.Fatalf("LastRunAt = %v", e.LastRunAt)
		}
		if want := now.Truncate(time.Second).Add(time.Hour); e.NextRunAt == nil || !e.NextRunAt.Equal(want) {
			t.Fatalf("NextRunAt = %v, want %v", e.NextRunAt, want)
		}
	}

	if n := s.Tick(context.Background(), now.Add(time.Minute)); n != 0 {
		t.Fatalf("second tick fired %d", n)
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	s, _, spy := newTestScheduler()
	if err := s.Add(dueEntry("d")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled("d", false); err != nil {
		t.Fatal(err)
	}

	s.Tick(context.Background(), time.Now().UTC())
	if spy.Count() != 0 {
		t.Fatalf("disabled entry fired %d times", spy.Count())
	}
	if err := s.SetEnabled("missing", true); err == nil {
		t.Fatal("expected error for unknown entry")
	}
}

func TestScheduler_QueueOverride(t *testing.T) {
	s, _, spy := newTestScheduler()
	e := dueEntry("q")
	e.Queue = "submissions"
	if err := s.Add(e); err != nil {
		t.Fatal(err)
	}

	s.Tick(context.Background(), time.Now().UTC())
	if spy.Count() != 1 || spy.calls[0].Queue != "submissions" {
		t.Fatalf("calls = %+v", spy.calls)
	}
}

func TestScheduler_EnqueueFailureKeepsEntryDue(t *testing.T) {
	s, emitter, spy := newTestScheduler()
	spy.err = errors.New("store down")
	if err := s.Add(dueEntry("retry")); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if n := s.Tick(context.Background(), now); n != 0 {
		t.Fatalf("fired = %d", n)
	}
	if len(emitter.names) != 0 {
		t.Fatal("no event expected")
	}

	spy.mu.Lock()
	spy.err = nil
	spy.mu.Unlock()
	if n := s.Tick(context.Background(), now); n != 1 {
		t.Fatalf("fired after recovery = %d", n)
	}
}

func TestScheduler_AddValidates(t *testing.T) {
	s, _, _ := newTestScheduler()

	if err := s.Add(&cron.Entry{Name: "bad", Schedule: "not a schedule"}); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.Add(dueEntry("dup")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(dueEntry("dup")); !errors.Is(err, gmpreport.ErrDuplicateCron) {
		t.Fatalf("got %v, want ErrDuplicateCron", err)
	}
	if !s.Remove("dup") || s.Remove("dup") {
		t.Fatal("Remove should report existence once")
	}
}

func TestScheduler_AddComputesNextRunAt(t *testing.T) {
	s, _, _ := newTestScheduler()
	before := time.Now().UTC()
	if err := s.Add(&cron.Entry{Name: "n", Schedule: "@every 30m", JobName: "x", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].NextRunAt == nil || entries[0].ID.IsNil() {
		t.Fatalf("entries = %+v", entries)
	}
	if next := *entries[0].NextRunAt; next.Before(before.Add(29*time.Minute)) {
		t.Fatalf("NextRunAt = %v", next)
	}
}

func TestScheduler_LoopFires(t *testing.T) {
	s, _, spy := newTestScheduler()
	if err := s.Add(dueEntry("loop")); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for spy.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if spy.Count() != 1 {
		t.Fatalf("fired %d times, want 1", spy.Count())
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 6 * * 1-5", false},
		{"@daily", false},
		{"@every 90s", false},
		{"* * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := cron.ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSchedule(%q) err = %v", tt.expr, err)
			}
		})
	}
}
