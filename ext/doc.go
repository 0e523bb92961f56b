// Package ext defines the extension system for the job runtime.
//
// Extensions are notified of lifecycle events and can react to them, for
// example recording metrics or writing audit logs. Each lifecycle hook is
// a separate interface so extensions opt in only to the events they care
// about.
//
//	type pollAudit struct{ log *slog.Logger }
//
//	func (a *pollAudit) Name() string { return "poll-audit" }
//
//	func (a *pollAudit) OnJobRescheduled(ctx context.Context, j, next *job.Job, delay time.Duration) error {
//	    a.log.Info("await rescheduled", slog.String("chain", j.ChainID.String()), slog.Duration("delay", delay))
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: worker began executing the job
//   - [JobCompleted]: job finished successfully
//   - [JobRescheduled]: job handed off to a delayed continuation
//   - [JobRetrying]: job failed but will be retried
//   - [JobFailed]: job failed terminally
//   - [JobDLQ]: job was moved to the dead letter queue
//
// # Other Hooks
//
//   - [CronFired]: a cron entry was triggered and a job was enqueued
//   - [Shutdown]: the runtime is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated.
package ext
