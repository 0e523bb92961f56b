// Package worker provides the job execution engine: an Executor that runs
// registered handlers through middleware and classifies their outcome, and
// a Pool that manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/ext"
	"github.com/fivestones/gmpreport/job"
	"github.com/fivestones/gmpreport/middleware"
)

// Executor runs a single delivery through middleware and the registered
// handler, then settles the job: completed, released to a continuation,
// retried, or failed into the DLQ.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one delivery of j. The store has already counted the
// delivery in j.Attempt.
//
// Outcomes:
//   - budget spent before running: failed, DLQ reason max_attempts
//   - handler scheduled a continuation: released
//   - success: completed
//   - permanent error: failed, DLQ reason permanent
//   - other error with budget left: retrying with backoff
//   - other error on the last attempt: failed, DLQ reason max_attempts
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	if j.Exhausted() {
		err := fmt.Errorf("job %s attempt %d of %d: %w", j.Name, j.Attempt, j.MaxAttempts, gmpreport.ErrMaxAttemptsExceeded)
		j.LastError = err.Error()
		j.UpdatedAt = time.Now().UTC()
		return e.sendToDLQ(ctx, j, err, dlq.ReasonMaxAttempts)
	}

	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err := backoff.Permanent(fmt.Errorf("no handler registered for job %q", j.Name))
		j.LastError = err.Error()
		j.UpdatedAt = time.Now().UTC()
		return e.sendToDLQ(ctx, j, err, dlq.ReasonPermanent)
	}

	start := time.Now()
	ctx = job.WithCurrent(ctx, j)

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if j.State == job.StateReleased {
		return e.handleReleased(ctx, j, err, now)
	}
	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleReleased persists a job whose handler scheduled a continuation.
// The continuation owns the lineage from here on, so a handler error after
// the hand-off is logged and not retried.
func (e *Executor) handleReleased(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.CompletedAt = &now
	if handlerErr != nil {
		j.LastError = handlerErr.Error()
		e.logger.Warn("job failed after scheduling its continuation",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", handlerErr.Error()),
		)
	}

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update released job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}
	return nil
}

// handleFailure either retries the job in place or sends it to the DLQ.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if backoff.IsPermanent(handlerErr) {
		return e.sendToDLQ(ctx, j, handlerErr, dlq.ReasonPermanent)
	}
	if j.MaxAttempts > 0 && j.Attempt >= j.MaxAttempts {
		return e.sendToDLQ(ctx, j, handlerErr, dlq.ReasonMaxAttempts)
	}

	return e.scheduleRetry(ctx, j, handlerErr, now)
}

// scheduleRetry sets the job to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.backoff.Delay(j.Attempt)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, j.Attempt, j.MaxAttempts, handlerErr)
}

// sendToDLQ marks the job as failed, pushes it to the DLQ, and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, jobErr error, reason dlq.Reason) error {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.CompletedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, jobErr, reason); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, jobErr)
	e.extensions.EmitJobDLQ(ctx, j, jobErr)

	e.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("reason", string(reason)),
		slog.Int("attempt", j.Attempt),
		slog.String("error", jobErr.Error()),
	)

	return jobErr
}
