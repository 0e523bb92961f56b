package middleware

import (
	"context"
	"log/slog"

	"github.com/fivestones/gmpreport/job"
)

// Timeout returns middleware that enforces the per-delivery deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the handler
// call. A delivery that overruns fails with context.DeadlineExceeded and is
// retried by the executor like any other transient error.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job deadline set",
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempt),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
