package await

import "time"

// Config holds the poller's defaults.
type Config struct {
	// Factor and Offset define the reschedule delay:
	// Offset + Factor^attempt seconds.
	Factor int64
	Offset time.Duration

	// PollCap caps the reschedule delay when positive. Zero leaves it
	// uncapped.
	PollCap time.Duration

	// Queue receives await jobs and their continuations.
	Queue string

	// FetchAttempts bounds the in-place retries of one status fetch.
	FetchAttempts int

	// MaxAttempts is the default delivery ceiling of an await lineage.
	// Register can override it per kind.
	MaxAttempts int

	// Timeout is the default budget of one delivery.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Factor:        3,
		Offset:        60 * time.Second,
		Queue:         "default",
		FetchAttempts: 3,
		MaxAttempts:   10,
		Timeout:       20 * time.Second,
	}
}
