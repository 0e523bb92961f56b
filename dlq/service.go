package dlq

import (
	"context"
	"time"

	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a failed job and persists it.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error, reason Reason) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		ChainID:     j.ChainID,
		JobName:     j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Error:       jobErr.Error(),
		Reason:      reason,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Account:     j.Account,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
