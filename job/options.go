package job

import "time"

// Options configures per-job behavior such as attempts, queue, and priority.
type Options struct {
	// MaxAttempts is the delivery budget of the job lineage. Zero means
	// unlimited.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// Timeout is the maximum duration one delivery may run.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// Account keys per-account rate limits (usually the credential owner).
	Account string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 4,
		Queue:       "default",
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the delivery budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		if q != "" {
			o.Queue = q
		}
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for one delivery.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithDelay schedules the job to run d from now.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RunAt = time.Now().UTC().Add(d)
	}
}

// WithAccount tags the job with the account it acts for.
func WithAccount(account string) Option {
	return func(o *Options) {
		o.Account = account
	}
}
