package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// optional job fields that are removed from the Hash when unset.
var optionalJobFields = []string{"started_at", "completed_at", "heartbeat_at"}

// EnqueueJob stores the job as a Hash and, when it is runnable, schedules
// it on its queue's Sorted Set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("gmpreport/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return gmpreport.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, s.keys.jobIDs(), jID)
	pipe.SAdd(ctx, s.keys.queues(), j.Queue)
	if runnable(j.State) {
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: dueScore(j.RunAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gmpreport/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs. Candidates are read from each
// queue's Sorted Set up to now and ordered by priority then run time; a
// candidate is ours only if our ZREM removed it.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		all, err := s.client.SMembers(ctx, s.keys.queues()).Result()
		if err != nil {
			return nil, fmt.Errorf("gmpreport/redis: dequeue list queues: %w", err)
		}
		queues = all
	}

	now := time.Now().UTC()
	upTo := strconv.FormatInt(now.UnixMilli(), 10)

	var candidates []*job.Job
	for _, q := range queues {
		ids, err := s.client.ZRangeByScore(ctx, s.keys.queue(q), &goredis.ZRangeBy{Min: "-inf", Max: upTo}).Result()
		if err != nil {
			return nil, fmt.Errorf("gmpreport/redis: dequeue range %s: %w", q, err)
		}
		for _, jID := range ids {
			j, err := s.getJobByKey(ctx, s.keys.job(jID))
			if errors.Is(err, gmpreport.ErrJobNotFound) {
				s.client.ZRem(ctx, s.keys.queue(q), jID)
				continue
			}
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority > candidates[b].Priority
		}
		return candidates[a].RunAt.Before(candidates[b].RunAt)
	})

	stamp := formatTime(now)
	var claimed []*job.Job
	for _, c := range candidates {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		jID := c.ID.String()
		won, err := s.client.ZRem(ctx, s.keys.queue(c.Queue), jID).Result()
		if err != nil {
			return claimed, fmt.Errorf("gmpreport/redis: dequeue claim: %w", err)
		}
		if won == 0 {
			continue
		}

		key := s.keys.job(jID)
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key,
			"state", string(job.StateRunning),
			"started_at", stamp,
			"heartbeat_at", stamp,
			"updated_at", stamp,
		)
		attempt := pipe.HIncrBy(ctx, key, "attempt", 1)
		if _, err := pipe.Exec(ctx); err != nil {
			return claimed, fmt.Errorf("gmpreport/redis: dequeue update: %w", err)
		}

		started := now
		c.State = job.StateRunning
		c.StartedAt = &started
		c.HeartbeatAt = &started
		c.UpdatedAt = now
		c.Attempt = int(attempt.Val())
		claimed = append(claimed, c)
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.keys.job(jobID.String()))
}

// UpdateJob rewrites the job Hash and keeps queue membership in step with
// its state: pending and retrying jobs are (re)scheduled at RunAt, others
// are removed.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("gmpreport/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return gmpreport.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = formatTime(time.Now().UTC())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	for _, f := range optionalJobFields {
		if _, ok := fields[f]; !ok {
			pipe.HDel(ctx, key, f)
		}
	}
	if runnable(j.State) {
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: dueScore(j.RunAt), Member: jID})
	} else {
		pipe.ZRem(ctx, s.keys.queue(j.Queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gmpreport/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := s.keys.job(jID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return gmpreport.ErrJobNotFound
		}
		return fmt.Errorf("gmpreport/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.keys.jobIDs(), jID)
	pipe.ZRem(ctx, s.keys.queue(q), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gmpreport/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs in state ordered by creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.State == state && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return page(jobs, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := s.keys.job(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("gmpreport/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return gmpreport.ErrJobNotFound
	}

	now := formatTime(time.Now().UTC())
	if err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("gmpreport/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return s.scanJobs(ctx, func(j *job.Job) bool {
		return j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff)
	})
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return (opts.State == "" || j.State == opts.State) && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// ── helpers ──

func (s *Store) scanJobs(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.jobIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: scan jobs: %w", err)
	}
	var out []*job.Job
	for _, jID := range ids {
		j, err := s.getJobByKey(ctx, s.keys.job(jID))
		if err != nil {
			continue
		}
		if keep(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

func runnable(state job.State) bool {
	return state == job.StatePending || state == job.StateRetrying
}

// dueScore scores a queue member by run time; a zero RunAt is due at once.
func dueScore(runAt time.Time) float64 {
	if runAt.IsZero() {
		return 0
	}
	return float64(runAt.UnixMilli())
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"chain_id":     j.ChainID.String(),
		"name":         j.Name,
		"queue":        j.Queue,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempt":      strconv.Itoa(j.Attempt),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"account":      j.Account,
		"worker_id":    j.WorkerID.String(),
		"run_at":       formatTime(j.RunAt),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   formatTime(j.CreatedAt),
		"updated_at":   formatTime(j.UpdatedAt),
	}
	if j.StartedAt != nil {
		m["started_at"] = formatTime(*j.StartedAt)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = formatTime(*j.CompletedAt)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = formatTime(*j.HeartbeatAt)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, gmpreport.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])             //nolint:errcheck // trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // trusted Redis data

	j := &job.Job{
		Entity: gmpreport.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          jID,
		Name:        m["name"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		Account:     m["account"],
		RunAt:       parseTime(m["run_at"]),
		Timeout:     time.Duration(timeout),
	}
	if v := m["chain_id"]; v != "" {
		j.ChainID, _ = id.ParseJobID(v) //nolint:errcheck // trusted Redis data
	}
	if v := m["worker_id"]; v != "" {
		j.WorkerID, _ = id.ParseWorkerID(v) //nolint:errcheck // trusted Redis data
	}
	j.StartedAt = parseOptionalTime(m["started_at"])
	j.CompletedAt = parseOptionalTime(m["completed_at"])
	j.HeartbeatAt = parseOptionalTime(m["heartbeat_at"])
	return j, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // trusted Redis data
	return t
}

func parseOptionalTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
