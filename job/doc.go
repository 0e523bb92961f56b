// Package job defines the job entity, its state machine, typed
// definitions, and the store interface.
//
// # Job Entity
//
// A [Job] is one delivery slot of a unit of work. It progresses through:
//
//	pending → running → completed
//	pending → running → released   (continuation scheduled)
//	pending → running → retrying → running → ...
//	pending → running → failed → dlq
//
// Fields of note:
//   - Attempt: deliveries so far across the lineage; starts at 1
//   - MaxAttempts: delivery budget; zero means unlimited
//   - ChainID: ID of the first job of a reschedule lineage
//   - Account: key for per-account rate limits
//   - RunAt: earliest time the job may be dequeued
//   - Timeout: per-delivery execution deadline
//
// The executor stores the running job in the context; handlers read it
// with [FromContext].
//
// # Defining a Job
//
//	var Export = job.NewDefinition("export_report",
//	    func(ctx context.Context, in await.Result) error {
//	        return archive(ctx, in.Artifact())
//	    },
//	    job.WithQueue("reports"),
//	)
//
// Register definitions at startup via [RegisterDefinition], or through
// engine.Register.
package job
