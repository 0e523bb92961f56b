package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/job"
)

// meterName is the instrumentation scope name for job metrics.
const meterName = "github.com/fivestones/gmpreport"

// Metric status values.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusPermanent = "permanent"
)

// Metrics returns middleware that records per-delivery metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - gmpreport.job.duration (Float64Histogram): execution time in seconds
//   - gmpreport.job.executions (Int64Counter): total deliveries
//
// Both carry job_name, queue and status ("ok", "error" or "permanent").
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"gmpreport.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"gmpreport.job.executions",
		metric.WithDescription("Total number of job deliveries"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := StatusOK
		switch {
		case backoff.IsPermanent(err):
			status = StatusPermanent
		case err != nil:
			status = StatusError
		}

		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
