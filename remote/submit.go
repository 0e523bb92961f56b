package remote

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport/backoff"
)

// Creator creates remote tasks.
type Creator interface {
	Create(ctx context.Context, tok *oauth2.Token, spec Spec) (Handle, error)
}

// Finder looks up an existing task by its exact title. Creators that
// implement it get race recovery in Submit.
type Finder interface {
	FindByTitle(ctx context.Context, tok *oauth2.Token, kind Kind, title string) (Handle, bool, error)
}

// Starter triggers execution of a created task. Creators whose tasks do not
// start on creation implement it.
type Starter interface {
	Start(ctx context.Context, tok *oauth2.Token, h Handle) error
}

// SubmissionError is returned by Submit once every attempt failed.
type SubmissionError struct {
	Kind  Kind
	Title string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("remote: submit %s %q: %v", e.Kind, e.Title, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Submit creates the task described by spec and, when c is a Starter,
// starts it. Each step runs under r; a nil r means backoff.DefaultRetrier.
//
// A transient Create failure is not trusted: if c is a Finder and a task
// with exactly spec.Title exists, that task is adopted and no error is
// reported. If none is found, or the lookup itself fails, the Create error
// is kept. Permanent Create errors (backoff.Permanent, such as a rejected
// request) never adopt an existing task.
func Submit(ctx context.Context, c Creator, tok *oauth2.Token, spec Spec, r *backoff.Retrier) (Handle, error) {
	if r == nil {
		r = backoff.DefaultRetrier()
	}

	var h Handle
	err := r.Do(ctx, func(ctx context.Context) error {
		created, err := c.Create(ctx, tok, spec)
		if err == nil {
			h = created
			return nil
		}
		if backoff.IsPermanent(err) {
			return err
		}
		if found, ok := recoverCreated(ctx, c, tok, spec); ok {
			h = found
			return nil
		}
		return err
	})
	if err != nil {
		return Handle{}, &SubmissionError{Kind: spec.Kind, Title: spec.Title, Err: err}
	}
	if h.Params == nil {
		h.Params = spec.Body
	}

	if s, ok := c.(Starter); ok {
		err := r.Do(ctx, func(ctx context.Context) error {
			return s.Start(ctx, tok, h)
		})
		if err != nil {
			return Handle{}, &SubmissionError{Kind: spec.Kind, Title: spec.Title, Err: fmt.Errorf("start %s: %w", h, err)}
		}
	}
	return h, nil
}

func recoverCreated(ctx context.Context, c Creator, tok *oauth2.Token, spec Spec) (Handle, bool) {
	f, ok := c.(Finder)
	if !ok || spec.Title == "" {
		return Handle{}, false
	}
	h, found, err := f.FindByTitle(ctx, tok, spec.Kind, spec.Title)
	if err != nil || !found || h.Title != spec.Title {
		return Handle{}, false
	}
	return h, true
}

// IsSubmissionError reports whether err came from Submit.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
