package cron

import (
	"time"

	"github.com/fivestones/gmpreport/id"
)

// Entry is a recurring job.
type Entry struct {
	ID        id.CronID  `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	JobName   string     `json:"job_name"`
	Queue     string     `json:"queue,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}

func (e *Entry) clone() *Entry {
	cp := *e
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		cp.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		cp.NextRunAt = &t
	}
	cp.Payload = append([]byte(nil), e.Payload...)
	return &cp
}
