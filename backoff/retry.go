package backoff

import (
	"context"
	"errors"
	"time"
)

// DefaultRetries is the attempt budget of DefaultRetrier.
const DefaultRetries = 3

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Retry and the job executor give up immediately.
// Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Retrier runs an operation up to MaxAttempts times, sleeping
// Strategy.Delay(n) between attempts.
type Retrier struct {
	Strategy    Strategy
	MaxAttempts int

	// OnRetry, when set, is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetrier returns the short-horizon retrier used around remote
// calls: three attempts, exponential with jitter between 1s and 1m.
func DefaultRetrier() *Retrier {
	return &Retrier{
		Strategy:    NewExponentialWithJitter(time.Second, time.Minute),
		MaxAttempts: DefaultRetries,
	}
}

// Retry runs fn with the default retrier.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return DefaultRetrier().Do(ctx, fn)
}

// Do runs fn until it succeeds, returns a permanent error, the attempt
// budget is spent, or ctx is done. The error of the last attempt is
// returned as is, so callers can match it with errors.Is.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	strategy := r.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || IsPermanent(err) || attempt >= attempts {
			return err
		}

		delay := strategy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
