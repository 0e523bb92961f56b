package stream

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Filter selects the events a subscriber receives.
type Filter func(*Event) bool

// Terminal passes only events that end a chain.
func Terminal() Filter {
	return func(e *Event) bool { return e.Type.Terminal() }
}

// ForAccount passes job events acting for account. Cron events carry no
// account and never pass.
func ForAccount(account string) Filter {
	return func(e *Event) bool {
		d, err := e.JobData()
		return err == nil && d.Account == account
	}
}

// Subscriber is one consumer of lifecycle events.
//
// Each delivered event spends a credit. An event that arrives with no
// credit left, or while the buffer is full, is dropped and counted.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64
	filter  atomic.Pointer[Filter]
	closed  atomic.Bool

	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber holding up to bufferSize undelivered
// events and starting with credits.
func NewSubscriber(id string, bufferSize int, credits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(credits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining deliveries.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many events were not delivered for lack of credit
// or buffer space.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter replaces the subscriber's filter. A nil fn passes everything.
func (s *Subscriber) SetFilter(fn Filter) {
	if fn == nil {
		s.filter.Store(nil)
		return
	}
	s.filter.Store(&fn)
}

// Next blocks until the next event and grants back the credit it spent,
// so a subscriber drained through Next keeps receiving. It returns
// ErrSubscriberClosed once the subscriber is closed.
func (s *Subscriber) Next(ctx context.Context) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case evt, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriberClosed
		}
		s.credits.Add(1)
		return evt, nil
	}
}

// Topics returns the subscribed topic names, sorted.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// send delivers evt without blocking. Filtered events are skipped
// silently; events refused for credit or space count as dropped.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if f := s.filter.Load(); f != nil && !(*f)(evt) {
		return false
	}

	if s.credits.Add(-1) < 0 {
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Calling it again is a no-op.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
