// Package remote defines how long-running tasks on an external service are
// submitted, observed, and downloaded.
//
// A task is created from a [Spec] and identified afterwards by a [Handle].
// [Submit] creates it, recovering from create calls that fail after the
// task was in fact created. A [StatusProvider] reports where the task is as
// a [Status]; providers are usually built with [Compose] from a fetch
// function and a [StatusExtractor] that maps the service's own
// representation. Adapters for concrete services live in subpackages.
package remote

import (
	"encoding/json"
	"fmt"
)

// Kind names a family of remote tasks served by one adapter.
type Kind string

// Handle identifies a submitted remote task. It is immutable once
// submitted, except that Submit may replace it with the canonical handle
// found during race recovery.
type Handle struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`

	// Params are the creation parameters, kept so the task can be
	// re-identified if the create response was lost.
	Params json.RawMessage `json:"params,omitempty"`
}

func (h Handle) String() string { return fmt.Sprintf("%s/%s", h.Kind, h.ID) }

// Spec describes a task to create.
type Spec struct {
	Kind  Kind
	Title string

	// Body is the adapter-specific create request.
	Body json.RawMessage
}

// State is the coarse lifecycle of a remote task.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Failure describes why a remote task failed. Code is empty when the
// service reported none.
type Failure struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status is the classified state of a remote task.
type Status struct {
	State State

	// Artifact references the finished output. Its shape belongs to the
	// adapter and it is only set when State is StateDone.
	Artifact json.RawMessage

	// Failure is set when State is StateFailed.
	Failure *Failure
}

// Running returns a running Status.
func Running() Status { return Status{State: StateRunning} }

// Done returns a finished Status carrying artifact.
func Done(artifact json.RawMessage) Status {
	return Status{State: StateDone, Artifact: artifact}
}

// Failed returns a failed Status.
func Failed(code, message string) Status {
	return Status{State: StateFailed, Failure: &Failure{Code: code, Message: message}}
}
