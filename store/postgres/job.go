package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

const jobColumns = `
	id, chain_id, name, queue, payload, state, priority, attempt, max_attempts,
	last_error, account, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout, created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gmpreport_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19
		)`,
		j.ID.String(), j.ChainID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.Account, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gmpreport.ErrJobAlreadyExists
		}
		return fmt.Errorf("gmpreport/postgres: enqueue job: %w", err)
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
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.pool.Query(ctx, `
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
				  AND (cardinality($1::text[]) = 0 OR queue = ANY($1))
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY priority DESC, run_at ASC`,
		queues, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM gmpreport_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gmpreport.ErrJobNotFound
		}
		return nil, fmt.Errorf("gmpreport/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gmpreport_jobs SET
			chain_id = $2, name = $3, queue = $4, payload = $5, state = $6,
			priority = $7, attempt = $8, max_attempts = $9,
			last_error = $10, account = $11, worker_id = $12,
			run_at = $13, started_at = $14, completed_at = $15,
			heartbeat_at = $16, timeout = $17,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.ChainID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.Account, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("gmpreport/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gmpreport_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("gmpreport/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state ordered by creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM gmpreport_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gmpreport_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("gmpreport/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM gmpreport_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - make_interval(secs => $1)`,
		threshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM gmpreport_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("gmpreport/postgres: count jobs: %w", err)
	}
	return count, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		chainStr  string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &chainStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.Attempt, &j.MaxAttempts,
		&j.LastError, &j.Account, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID

	if chainStr != "" {
		if chain, err := id.ParseJobID(chainStr); err == nil {
			j.ChainID = chain
		}
	}
	if workerStr != "" {
		if worker, err := id.ParseWorkerID(workerStr); err == nil {
			j.WorkerID = worker
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("gmpreport/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
