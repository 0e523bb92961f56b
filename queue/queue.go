package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local worker pool. Zero means no
	// queue-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may start
	// from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// limits is the runtime state shared by queue and account gates.
type limits struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newLimits(rateLimit float64, burst, maxConcurrency int) *limits {
	l := &limits{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return l
}

// full reports whether the concurrency cap is reached.
func (l *limits) full() bool {
	return l.maxConcurrency > 0 && l.active >= l.maxConcurrency
}

// Manager controls per-queue and per-account rate limiting and
// concurrency. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	queues   map[string]*limits
	accounts map[string]*limits
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:   make(map[string]*limits, len(configs)),
		accounts: make(map[string]*limits),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// Acquire checks rate limits and concurrency for the given queue and
// account. If the job may proceed it increments the active counters and
// returns true; the caller must call Release when the job completes.
// Concurrency caps are checked before any rate-limit token is spent.
func (m *Manager) Acquire(queue, account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	as := m.lookupAccount(queue, account)

	if (qs != nil && qs.full()) || (as != nil && as.full()) {
		return false
	}
	if qs != nil && qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if as != nil && as.limiter != nil && !as.limiter.Allow() {
		return false
	}

	if qs != nil {
		qs.active++
	}
	if as != nil {
		as.active++
	}
	return true
}

// Release decrements the active job count for the queue and account.
func (m *Manager) Release(queue, account string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if as := m.lookupAccount(queue, account); as != nil && as.active > 0 {
		as.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
