package await

import (
	"errors"
	"fmt"

	"github.com/fivestones/gmpreport/remote"
)

// RemoteFailureError reports a remote task that finished in failure. The
// poller returns it wrapped in backoff.Permanent.
type RemoteFailureError struct {
	Handle  remote.Handle
	Code    string
	Message string
}

func (e *RemoteFailureError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "remote task failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("await: %s: %s (code %s)", e.Handle, msg, e.Code)
	}
	return fmt.Sprintf("await: %s: %s", e.Handle, msg)
}

// IsRemoteFailure reports whether err carries a RemoteFailureError.
func IsRemoteFailure(err error) bool {
	var rf *RemoteFailureError
	return errors.As(err, &rf)
}
