// Package audithook records an audit trail of report job lifecycles.
//
// Every job lifecycle hook becomes a structured [AuditEvent] handed to a
// [Recorder]. Events carry the chain ID shared by an await job and all of
// its delayed continuations, so the full polling history of one remote
// task can be reassembled from the trail.
//
// Severity follows the outcome: info for normal progress, warning for
// transient retries, critical for terminal failures and dead-lettered jobs.
//
//	eng, _ := engine.Build(rt,
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
// Filtering to the interesting actions only:
//
//	audithook.New(recorder,
//	    audithook.WithActions(audithook.ActionJobFailed, audithook.ActionJobDLQ),
//	)
package audithook
