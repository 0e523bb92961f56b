package dlq

import (
	"time"

	"github.com/fivestones/gmpreport/id"
)

// Reason records why a job ended up in the dead letter queue.
type Reason string

const (
	// ReasonPermanent means the handler returned a non-retryable error,
	// such as a remote task reporting failure.
	ReasonPermanent Reason = "permanent"
	// ReasonMaxAttempts means the delivery budget was spent.
	ReasonMaxAttempts Reason = "max_attempts"
)

// Entry represents a job that failed terminally and was moved to the dead
// letter queue for inspection or replay.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	ChainID     id.JobID   `json:"chain_id"`
	JobName     string     `json:"job_name"`
	Queue       string     `json:"queue"`
	Payload     []byte     `json:"payload"`
	Error       string     `json:"error"`
	Reason      Reason     `json:"reason"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	Account     string     `json:"account,omitempty"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
