package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fivestones/gmpreport/ext"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobRescheduled = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobDLQ         = (*MetricsExtension)(nil)
	_ ext.CronFired      = (*MetricsExtension)(nil)
)

const meterName = "github.com/fivestones/gmpreport/observability"

// MetricsExtension records system-wide lifecycle metrics with OTel
// instruments. Register it as an extension to track enqueue, completion,
// reschedule, retry, failure and DLQ counts per job name, the distribution
// of poll delays, and cron fires.
type MetricsExtension struct {
	JobEnqueued    metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobRescheduled metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobRetried     metric.Int64Counter
	JobDLQ         metric.Int64Counter
	PollDelay      metric.Float64Histogram
	CronFired      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	delay, _ := meter.Float64Histogram("gmpreport.await.delay",
		metric.WithDescription("Delay before the next poll of a remote task"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobEnqueued:    counter("gmpreport.job.enqueued", "Jobs enqueued"),
		JobCompleted:   counter("gmpreport.job.completed", "Jobs completed"),
		JobRescheduled: counter("gmpreport.job.rescheduled", "Jobs handed off to a delayed continuation"),
		JobFailed:      counter("gmpreport.job.failed", "Jobs failed terminally"),
		JobRetried:     counter("gmpreport.job.retried", "Job retries scheduled"),
		JobDLQ:         counter("gmpreport.job.dlq", "Jobs moved to the dead letter queue"),
		PollDelay:      delay,
		CronFired:      counter("gmpreport.cron.fired", "Cron entries fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_name", j.Name))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRescheduled implements ext.JobRescheduled.
func (m *MetricsExtension) OnJobRescheduled(ctx context.Context, j *job.Job, _ *job.Job, delay time.Duration) error {
	m.JobRescheduled.Add(ctx, 1, jobAttrs(j))
	m.PollDelay.Record(ctx, delay.Seconds(), jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
