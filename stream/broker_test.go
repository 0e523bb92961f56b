package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func awaitJob(chain id.JobID) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		ChainID:     chain,
		Name:        "await:dbm",
		Queue:       "await",
		Account:     "acct-1",
		Attempt:     2,
		MaxAttempts: 10,
	}
}

func recv(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func TestBrokerJobTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	chain := id.NewJobID()
	j := awaitJob(chain)

	subs := []*Subscriber{
		b.Subscribe("firehose", TopicFirehose),
		b.Subscribe("jobs", TopicJobs),
		b.Subscribe("chain", ChainTopic(chain.String())),
		b.Subscribe("job", JobTopic(j.ID.String())),
		b.Subscribe("queue", QueueTopic("await")),
		b.Subscribe("account", AccountTopic("acct-1")),
	}

	if err := b.OnJobStarted(context.Background(), j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	for _, sub := range subs {
		evt := recv(t, sub)
		if evt.Type != EventJobStarted {
			t.Errorf("%s: Type = %q, want %q", sub.ID(), evt.Type, EventJobStarted)
		}
	}
	if got := b.Stats().TotalPublished; got != int64(len(subs)) {
		t.Errorf("TotalPublished = %d, want %d", got, len(subs))
	}
}

func TestBrokerOtherChainNotDelivered(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("chain", ChainTopic(id.NewJobID().String()))

	_ = b.OnJobEnqueued(context.Background(), awaitJob(id.NewJobID()))

	select {
	case <-sub.C():
		t.Fatal("should not receive event for a different chain")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerRescheduledData(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	chain := id.NewJobID()
	sub := b.Subscribe("chain", ChainTopic(chain.String()))

	cur := awaitJob(chain)
	next := awaitJob(chain)
	next.RunAt = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	_ = b.OnJobRescheduled(context.Background(), cur, next, 69*time.Second)

	evt := recv(t, sub)
	if evt.Type != EventJobRescheduled {
		t.Fatalf("Type = %q, want %q", evt.Type, EventJobRescheduled)
	}
	d, err := evt.JobData()
	if err != nil {
		t.Fatalf("JobData: %v", err)
	}
	if d.ChainID != chain.String() || d.JobID != cur.ID.String() {
		t.Errorf("ids = %q/%q", d.ChainID, d.JobID)
	}
	if d.NextJobID != next.ID.String() {
		t.Errorf("NextJobID = %q, want %q", d.NextJobID, next.ID.String())
	}
	if d.NextRunAt != "2026-03-04T05:06:07Z" {
		t.Errorf("NextRunAt = %q", d.NextRunAt)
	}
	if d.Attempt != 2 || d.Account != "acct-1" {
		t.Errorf("Attempt/Account = %d/%q", d.Attempt, d.Account)
	}
}

func TestBrokerWaitChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBroker(testLogger())
	chain := id.NewJobID()
	sub := b.WatchChain(chain)

	go func() {
		first := awaitJob(chain)
		second := awaitJob(chain)
		_ = b.OnJobStarted(ctx, first)
		_ = b.OnJobRescheduled(ctx, first, second, time.Minute)
		_ = b.OnJobStarted(ctx, second)
		_ = b.OnJobFailed(ctx, second, errors.New("report failed"))
		_ = b.OnJobDLQ(ctx, second, errors.New("report failed"))
	}()

	evt, err := b.Wait(ctx, sub)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if evt.Type != EventJobDLQ {
		t.Errorf("Type = %q, want %q", evt.Type, EventJobDLQ)
	}
	d, _ := evt.JobData()
	if d.Error != "report failed" {
		t.Errorf("Error = %q", d.Error)
	}
	if _, ok := b.GetSubscriber(sub.ID()); ok {
		t.Error("subscriber should be removed after Wait")
	}
}

func TestBrokerWaitContextCancelled(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.WatchChain(id.NewJobID())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Wait(ctx, sub); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestBrokerWaitShutdown(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.WatchChain(id.NewJobID())
	_ = b.OnShutdown(context.Background())

	if _, err := b.Wait(context.Background(), sub); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("err = %v, want ErrSubscriberClosed", err)
	}
}

func TestBrokerCronFired(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	cronSub := b.Subscribe("cron", TopicCron)
	jobsSub := b.Subscribe("jobs", TopicJobs)

	jobID := id.NewJobID()
	_ = b.OnCronFired(context.Background(), "nightly-spend", jobID)

	evt := recv(t, cronSub)
	var d CronEventData
	if err := json.Unmarshal(evt.Data, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.EntryName != "nightly-spend" || d.JobID != jobID.String() {
		t.Errorf("data = %+v", d)
	}

	select {
	case <-jobsSub.C():
		t.Fatal("cron event should not reach the jobs topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-rm", TopicFirehose)
	b.RemoveSubscriber("sub-rm")

	_ = b.OnJobEnqueued(context.Background(), awaitJob(id.NewJobID()))

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after RemoveSubscriber")
	}
	if b.Stats().SubscriberCount != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.Stats().SubscriberCount)
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("credit-sub", 10, 2)
	evt := &Event{Type: EventJobEnqueued, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	if !sub.send(evt) || !sub.send(evt) {
		t.Fatal("first two sends should succeed")
	}
	if sub.send(evt) {
		t.Fatal("third send should fail (no credits)")
	}

	sub.AddCredits(5)
	if sub.Credits() != 5 {
		t.Errorf("Credits = %d, want 5", sub.Credits())
	}
	if !sub.send(evt) {
		t.Fatal("send after credit replenishment should succeed")
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("filter-sub", 10, 100)
	sub.SetFilter(func(e *Event) bool { return e.Type.Terminal() })

	if sub.send(&Event{Type: EventJobRescheduled, Data: json.RawMessage(`{}`)}) {
		t.Fatal("rescheduled event should be filtered out")
	}
	if !sub.send(&Event{Type: EventJobCompleted, Data: json.RawMessage(`{}`)}) {
		t.Fatal("completed event should pass filter")
	}
}

func TestEventTypeTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  EventType
		want bool
	}{
		{EventJobCompleted, true},
		{EventJobDLQ, true},
		{EventJobFailed, false},
		{EventJobRescheduled, false},
		{EventJobRetrying, false},
		{EventCronFired, false},
	}
	for _, tt := range tests {
		if got := tt.typ.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicJobs, true},
		{TopicCron, true},
		{TopicFirehose, true},
		{"chain:job_123", true},
		{"job:job_123", true},
		{"queue:await", true},
		{"account:acct-1", true},
		{"workflow:run-abc", false},
		{"invalid", false},
		{"chain:", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) returned error: %v", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) should return error", tt.topic)
			}
		})
	}
}

func TestTopicRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub1 := NewSubscriber("s1", 10, 100)
	sub2 := NewSubscriber("s2", 10, 100)

	tr.Subscribe("topic-a", sub1)
	tr.Subscribe("topic-a", sub2)
	tr.Subscribe("topic-b", sub1)

	if tr.TopicCount() != 2 {
		t.Errorf("TopicCount = %d, want 2", tr.TopicCount())
	}
	if tr.SubscriberCount("topic-a") != 2 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 2", tr.SubscriberCount("topic-a"))
	}

	tr.Unsubscribe("topic-a", "s2")
	if tr.SubscriberCount("topic-a") != 1 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 1", tr.SubscriberCount("topic-a"))
	}

	tr.UnsubscribeAll("s1")
	if tr.TopicCount() != 0 {
		t.Errorf("TopicCount after UnsubscribeAll = %d, want 0", tr.TopicCount())
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10, 100)
	tr.Subscribe("chain:x", sub)
	tr.Subscribe("queue:await", sub)

	evt := &Event{Type: EventJobEnqueued, Data: json.RawMessage(`{}`)}
	if delivered := tr.Broadcast([]string{"chain:x", "queue:await"}, evt); delivered != 1 {
		t.Errorf("Broadcast delivered to %d subscribers, want 1", delivered)
	}
}

func TestSubscriberDropped(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("drop-sub", 1, 5)
	evt := &Event{Type: EventJobStarted, Data: json.RawMessage(`{}`)}

	if !sub.send(evt) {
		t.Fatal("first send should succeed")
	}
	if sub.send(evt) {
		t.Fatal("second send should fail (buffer full)")
	}
	if got := sub.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := sub.Credits(); got != 4 {
		t.Errorf("Credits = %d, want 4", got)
	}
}

func TestSubscriberForAccount(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("acct-filter", TopicJobs)
	sub.SetFilter(ForAccount("acct-1"))

	other := awaitJob(id.NewJobID())
	other.Account = "acct-2"
	_ = b.OnJobStarted(context.Background(), other)
	_ = b.OnJobStarted(context.Background(), awaitJob(id.NewJobID()))

	d, err := recv(t, sub).JobData()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Account != "acct-1" {
		t.Errorf("Account = %q, want acct-1", d.Account)
	}
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %+v", evt)
	default:
	}
	if sub.Dropped() != 0 {
		t.Errorf("filtered events should not count as dropped, got %d", sub.Dropped())
	}
}

func TestSubscriberNextGrantsCredit(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("next-sub", 4, 1)
	evt := &Event{Type: EventJobEnqueued, Data: json.RawMessage(`{}`)}

	for i := range 3 {
		if !sub.send(evt) {
			t.Fatalf("send %d should succeed", i)
		}
		if _, err := sub.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if sub.Credits() != 1 {
		t.Errorf("Credits = %d, want 1", sub.Credits())
	}

	sub.Close()
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("err = %v, want ErrSubscriberClosed", err)
	}
}
