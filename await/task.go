package await

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/remote"
)

// Task is the payload of an await job. It must survive a round trip
// through the job codec.
type Task struct {
	Handle     remote.Handle  `json:"handle"`
	Credential credential.Ref `json:"credential"`
	Result     ResultSpec     `json:"result"`

	// Queue is where continuations of the task are scheduled. Empty means
	// the poller's configured queue.
	Queue string `json:"queue,omitempty"`

	// Chain identifies the await lineage. Launch sets it on the Task it
	// returns so callers can follow the lineage; deliveries do not read it.
	Chain id.JobID `json:"chain,omitempty"`
}

// Unit is a named job payload handed to a Scheduler.
type Unit struct {
	Name    string
	Payload any

	// Account is the credential account the job acts for. Empty inherits
	// the running job's account.
	Account string
}

// Scheduler delivers units of work, now or later, and reports the attempt
// number of the delivery currently running.
type Scheduler interface {
	// Schedule enqueues u after delay as a continuation of the running
	// job: the attempt counter carries over.
	Schedule(ctx context.Context, u Unit, delay time.Duration, queue string) error

	// Dispatch enqueues u as a new job, starting at attempt 1, and returns
	// the job's ID. The job starts its own lineage under that ID.
	Dispatch(ctx context.Context, u Unit, queue string) (id.JobID, error)

	// CurrentAttempt returns the attempt number of the job running in ctx,
	// or 0 outside a job.
	CurrentAttempt(ctx context.Context) int
}

// ResultSpec names the job to run once the remote task is done. Args are
// fixed at submission and the artifact is appended to them.
type ResultSpec struct {
	Target string            `json:"target"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Queue  string            `json:"queue,omitempty"`
}

// NewResultSpec encodes args as JSON and returns the spec.
func NewResultSpec(target, queue string, args ...any) (ResultSpec, error) {
	spec := ResultSpec{Target: target, Queue: queue, Args: make([]json.RawMessage, 0, len(args))}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return ResultSpec{}, fmt.Errorf("await: encode result arg %d: %w", i, err)
		}
		spec.Args = append(spec.Args, raw)
	}
	return spec, nil
}

// Result is the payload a result job receives.
type Result struct {
	Args []json.RawMessage `json:"args"`
}

// Artifact returns the last argument, which is the finished task's
// artifact.
func (r Result) Artifact() json.RawMessage {
	if len(r.Args) == 0 {
		return nil
	}
	return r.Args[len(r.Args)-1]
}

// Decode unmarshals argument i into v.
func (r Result) Decode(i int, v any) error {
	if i < 0 || i >= len(r.Args) {
		return fmt.Errorf("await: result has %d args, no index %d", len(r.Args), i)
	}
	return json.Unmarshal(r.Args[i], v)
}
