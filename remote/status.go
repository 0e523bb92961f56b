package remote

import (
	"context"

	"golang.org/x/oauth2"
)

// StatusProvider fetches and classifies the current state of a task.
// Transport failures are returned as errors; a failed task is a Status.
type StatusProvider interface {
	Status(ctx context.Context, tok *oauth2.Token, h Handle) (Status, error)
}

// StatusProviderFunc adapts a function to StatusProvider.
type StatusProviderFunc func(ctx context.Context, tok *oauth2.Token, h Handle) (Status, error)

// Status implements StatusProvider.
func (f StatusProviderFunc) Status(ctx context.Context, tok *oauth2.Token, h Handle) (Status, error) {
	return f(ctx, tok, h)
}

// StatusExtractor maps a service's raw task representation R to a Status.
// States it does not recognize map to StateRunning.
type StatusExtractor[R any] func(raw R) (Status, error)

// Compose builds a StatusProvider that fetches the raw representation and
// classifies it with extract.
func Compose[R any](fetch func(ctx context.Context, tok *oauth2.Token, h Handle) (R, error), extract StatusExtractor[R]) StatusProvider {
	return StatusProviderFunc(func(ctx context.Context, tok *oauth2.Token, h Handle) (Status, error) {
		raw, err := fetch(ctx, tok, h)
		if err != nil {
			return Status{}, err
		}
		return extract(raw)
	})
}
