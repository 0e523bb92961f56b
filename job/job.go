package job

import (
	"time"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateReleased means the job finished its delivery by scheduling a
	// delayed continuation of itself.
	StateReleased State = "released"
)

// Terminal reports whether no further delivery will happen for a job in
// this state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateReleased:
		return true
	default:
		return false
	}
}

// Job represents one delivery slot of a unit of work.
//
// Attempt counts deliveries across the whole lineage: a continuation
// scheduled by a running job inherits its Attempt, and the executor
// increments it each time the job is picked up.
type Job struct {
	gmpreport.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	Account     string        `json:"account,omitempty"`
	ChainID     id.JobID      `json:"chain_id"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Exhausted reports whether the job has used up its delivery budget.
// A zero MaxAttempts means unlimited.
func (j *Job) Exhausted() bool {
	return j.MaxAttempts > 0 && j.Attempt > j.MaxAttempts
}
