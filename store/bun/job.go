package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return gmpreport.ErrJobAlreadyExists
		}
		return fmt.Errorf("gmpreport/bun: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs with SKIP LOCKED, marks them
// running, and counts the delivery. An empty queue list matches every
// queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	var lim any
	if limit > 0 {
		lim = limit
	}

	var models []jobModel
	err := s.db.NewRaw(`
		WITH claimed AS (
			UPDATE gmpreport_jobs
			SET state = 'running',
				attempt = attempt + 1,
				started_at = NOW(),
				heartbeat_at = NOW(),
				updated_at = NOW()
			WHERE id IN (
				SELECT id FROM gmpreport_jobs
				WHERE state IN ('pending', 'retrying')
				  AND (cardinality(?0::text[]) = 0 OR queue = ANY(?0::text[]))
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				LIMIT ?1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT * FROM claimed ORDER BY priority DESC, run_at ASC`,
		pgdialect.Array(queues), lim,
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/bun: dequeue jobs: %w", err)
	}
	return fromJobModels(models)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, gmpreport.ErrJobNotFound
		}
		return nil, fmt.Errorf("gmpreport/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return fmt.Errorf("gmpreport/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("gmpreport/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state ordered by creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state))

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}

	q = q.Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("gmpreport/bun: list jobs by state: %w", err)
	}
	return fromJobModels(models)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("heartbeat_at = NOW()").
		Set("worker_id = ?", workerID.String()).
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("gmpreport/bun: heartbeat job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("state = 'running'").
		Where("heartbeat_at IS NOT NULL").
		Where("heartbeat_at < NOW() - make_interval(secs => ?)", threshold.Seconds()).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/bun: reap stale jobs: %w", err)
	}
	return fromJobModels(models)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("gmpreport/bun: count jobs: %w", err)
	}
	return int64(count), nil
}
