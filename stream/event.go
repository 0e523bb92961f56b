// Package stream fans job lifecycle events out to in-process subscribers.
//
// The [Broker] is an ext.Extension: register it with the engine and every
// lifecycle hook is published to a set of topics. The chain topic carries
// every event of one await lineage, so a caller can follow a remote task
// from its first poll to the terminal outcome.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued    EventType = "job.enqueued"
	EventJobStarted     EventType = "job.started"
	EventJobCompleted   EventType = "job.completed"
	EventJobRescheduled EventType = "job.rescheduled"
	EventJobFailed      EventType = "job.failed"
	EventJobRetrying    EventType = "job.retrying"
	EventJobDLQ         EventType = "job.dlq"

	EventCronFired EventType = "cron.fired"
)

// Terminal reports whether no further event follows on the job's chain.
// A failed job is always followed by its dead letter event.
func (t EventType) Terminal() bool {
	return t == EventJobCompleted || t == EventJobDLQ
}

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// Topics the event was published on, beyond the global ones.
	Topics []string `json:"topics,omitempty"`

	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID       string `json:"job_id"`
	ChainID     string `json:"chain_id"`
	JobName     string `json:"job_name"`
	Queue       string `json:"queue"`
	Account     string `json:"account,omitempty"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	Error       string `json:"error,omitempty"`
	NextJobID   string `json:"next_job_id,omitempty"`
	NextRunAt   string `json:"next_run_at,omitempty"`
}

// CronEventData is the payload for cron lifecycle events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	JobID     string `json:"job_id"`
}

// JobData decodes the payload of a job event.
func (e *Event) JobData() (JobEventData, error) {
	var d JobEventData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}
