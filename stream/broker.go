package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fivestones/gmpreport/ext"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.JobEnqueued    = (*Broker)(nil)
	_ ext.JobStarted     = (*Broker)(nil)
	_ ext.JobCompleted   = (*Broker)(nil)
	_ ext.JobRescheduled = (*Broker)(nil)
	_ ext.JobFailed      = (*Broker)(nil)
	_ ext.JobRetrying    = (*Broker)(nil)
	_ ext.JobDLQ         = (*Broker)(nil)
	_ ext.CronFired      = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// ErrSubscriberClosed is returned by Wait when the subscription ends
// before a terminal event arrives.
var ErrSubscriberClosed = errors.New("stream: subscriber closed")

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker receives lifecycle events as an extension and fans them out to
// subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber
	seq         atomic.Int64

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// WatchChain subscribes to every event of one await lineage under a
// generated subscriber ID. Events published before the call are not
// replayed.
func (b *Broker) WatchChain(chainID id.JobID) *Subscriber {
	subID := fmt.Sprintf("chain-watch-%d", b.seq.Add(1))
	return b.Subscribe(subID, ChainTopic(chainID.String()))
}

// Wait blocks until sub receives a terminal event, then removes the
// subscriber and returns the event.
func (b *Broker) Wait(ctx context.Context, sub *Subscriber) (*Event, error) {
	defer b.RemoveSubscriber(sub.ID())
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if evt.Type.Terminal() {
			return evt, nil
		}
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

func (b *Broker) publish(evt *Event) {
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func jobTopics(j *job.Job) []string {
	topics := []string{
		ChainTopic(j.ChainID.String()),
		JobTopic(j.ID.String()),
		QueueTopic(j.Queue),
	}
	if j.Account != "" {
		topics = append(topics, AccountTopic(j.Account))
	}
	return topics
}

func jobData(j *job.Job) JobEventData {
	return JobEventData{
		JobID:       j.ID.String(),
		ChainID:     j.ChainID.String(),
		JobName:     j.Name,
		Queue:       j.Queue,
		Account:     j.Account,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
	}
}

func (b *Broker) publishJob(t EventType, j *job.Job, d JobEventData) {
	b.publish(&Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topics:    jobTopics(j),
		Data:      mustMarshal(d),
	})
}

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobEnqueued, j, jobData(j))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobStarted, j, jobData(j))
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	d := jobData(j)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishJob(EventJobCompleted, j, d)
	return nil
}

func (b *Broker) OnJobRescheduled(_ context.Context, j, next *job.Job, _ time.Duration) error {
	d := jobData(j)
	d.NextJobID = next.ID.String()
	d.NextRunAt = next.RunAt.UTC().Format(time.RFC3339)
	b.publishJob(EventJobRescheduled, j, d)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	d := jobData(j)
	d.Error = jobErr.Error()
	b.publishJob(EventJobFailed, j, d)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, _ int, nextRunAt time.Time) error {
	d := jobData(j)
	d.NextRunAt = nextRunAt.UTC().Format(time.RFC3339)
	b.publishJob(EventJobRetrying, j, d)
	return nil
}

func (b *Broker) OnJobDLQ(_ context.Context, j *job.Job, jobErr error) error {
	d := jobData(j)
	d.Error = jobErr.Error()
	b.publishJob(EventJobDLQ, j, d)
	return nil
}

func (b *Broker) OnCronFired(_ context.Context, entryName string, jobID id.JobID) error {
	b.publish(&Event{
		Type:      EventCronFired,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(CronEventData{
			EntryName: entryName,
			JobID:     jobID.String(),
		}),
	})
	return nil
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		value.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
