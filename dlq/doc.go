// Package dlq provides the dead letter queue for jobs that failed
// terminally. It supports inspection, replay, and purging.
//
// The executor calls [Service.Push] in two cases, recorded in
// [Entry.Reason]: the handler returned a permanent error (a remote task
// reported failure), or the job lineage spent its delivery budget. The
// payload, error message, and attempt counters are preserved.
//
//	svc := dlq.NewService(store, jobStore)
//	entries, _ := svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//
// # Replay
//
// [Service.Replay] re-enqueues the original job with the same payload
// under a fresh lineage and sets ReplayedAt on the entry.
package dlq
