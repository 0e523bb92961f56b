package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/job"
)

// Logging returns middleware that logs each delivery and its outcome.
// Permanent failures are logged at error level, transient ones at warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("chain_id", j.ChainID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempt),
		}
		logger.Info("job started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		switch {
		case err == nil:
			logger.Info("job completed", attrs...)
		case backoff.IsPermanent(err):
			logger.Error("job failed permanently", append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.Warn("job failed", append(attrs, slog.String("error", err.Error()))...)
		}

		return err
	}
}
