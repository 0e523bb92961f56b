// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps a job handler. Middleware are composed into a chain
// with [Chain] and applied around every delivery, first element outermost:
//
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover]: catches panics and converts them to errors
//   - [Logging]: logs job name, attempt, duration and outcome
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-delivery duration and outcome counters
//   - [Timeout]: cancels the job context after the job's Timeout
//
// Outcomes are classified with backoff.IsPermanent so terminal remote
// failures stand apart from transient errors in logs, spans and metrics.
//
// Middleware must call next to continue the chain unless intentionally
// short-circuiting.
package middleware
