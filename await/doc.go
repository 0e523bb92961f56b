// Package await implements the completion-polling state machine for remote
// tasks.
//
// A [Task] carries the remote handle, the credential it acts with and the
// [ResultSpec] to dispatch once the remote side finishes. Each delivery of
// the task is one poll:
//
//   - done: the result unit is dispatched with the artifact appended to
//     its arguments, and the task completes;
//   - failed: a permanent [RemoteFailureError] is returned, so the runtime
//     gives up without retrying;
//   - anything else: the task schedules a copy of itself after
//     offset + factor^attempt and returns.
//
// The poller never sleeps. Timing and the attempt counter belong to the
// [Scheduler], which is usually an *engine.Engine.
package await
