package queue

import "golang.org/x/time/rate"

// AccountConfig limits the jobs acting for one account, typically the
// owner of the credential whose API quota the jobs share.
type AccountConfig struct {
	// QueueName restricts the limit to one queue. Empty applies it across
	// all queues that have no queue-specific account entry.
	QueueName string

	// Account matches job.Account.
	Account string

	// RateLimit is the sustained jobs per second for this account.
	RateLimit float64

	// RateBurst is the burst size for the account's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this account. Zero means
	// no account-specific concurrency limit.
	MaxConcurrency int
}

func accountKey(queue, account string) string {
	return queue + "\x00" + account
}

// lookupAccount returns the queue-specific entry, then the all-queues
// entry. Callers hold m.mu.
func (m *Manager) lookupAccount(queue, account string) *limits {
	if account == "" {
		return nil
	}
	if l := m.accounts[accountKey(queue, account)]; l != nil {
		return l
	}
	return m.accounts[accountKey("", account)]
}

// SetAccountConfig configures rate limits and concurrency for an account.
// Calling it again for the same queue and account replaces the previous
// configuration and keeps the active count.
func (m *Manager) SetAccountConfig(cfg AccountConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountKey(cfg.QueueName, cfg.Account)
	l := newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.accounts[key]; existing != nil {
		l.active = existing.active
	}
	m.accounts[key] = l
}

// AccountActiveCount returns the number of active jobs counted against the
// account entry that applies to queue.
func (m *Manager) AccountActiveCount(queue, account string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.lookupAccount(queue, account); l != nil {
		return l.active
	}
	return 0
}

// Limiter returns the account-wide limiter, or nil. Job deliveries spend
// its tokens in Acquire; await.Launcher waits on it before submitting, so
// submissions and polls share one budget per account. A nil Manager has
// no limiters.
func (m *Manager) Limiter(account string) *rate.Limiter {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.lookupAccount("", account); l != nil {
		return l.limiter
	}
	return nil
}
