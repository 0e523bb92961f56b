package dlq

import (
	"context"
	"time"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// Replay re-enqueues a DLQ entry as a new pending job and marks the entry
// as replayed. The new job starts a fresh lineage: new ID, attempt counter
// reset, runs immediately. For an await job this restarts polling from the
// shortest delay.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	jobID := id.NewJobID()
	j := &job.Job{
		Entity:      gmpreport.NewEntity(),
		ID:          jobID,
		ChainID:     jobID,
		Name:        entry.JobName,
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StatePending,
		MaxAttempts: entry.MaxAttempts,
		Account:     entry.Account,
		RunAt:       now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return j, err
	}

	return j, nil
}
