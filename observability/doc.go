// Package observability provides an OpenTelemetry metrics extension. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, completion, reschedule, retry, failure, DLQ
// and cron events, plus a histogram of poll delays.
//
// For per-delivery tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
