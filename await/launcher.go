package await

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/fivestones/gmpreport/credential"
	"github.com/fivestones/gmpreport/remote"
)

// AccountLimits hands out the rate limiter of an account, or nil when the
// account is unlimited. queue.Manager implements it.
type AccountLimits interface {
	Limiter(account string) *rate.Limiter
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithAccountLimits makes Launch wait for the account's limiter before
// submitting, so submissions share the quota of the account's polls.
func WithAccountLimits(l AccountLimits) LauncherOption {
	return func(ln *Launcher) { ln.limits = l }
}

// Launcher submits remote tasks and dispatches their first await job.
type Launcher struct {
	poller *Poller
	limits AccountLimits
}

// NewLauncher creates a Launcher that awaits through p.
func NewLauncher(p *Poller, opts ...LauncherOption) *Launcher {
	l := &Launcher{poller: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch resolves the credential for ref, submits spec through c, and
// dispatches the first await job on the poller's queue. The kind of spec
// must be registered with the poller. The returned Task carries the ID of
// the await lineage in Chain.
func (l *Launcher) Launch(ctx context.Context, c remote.Creator, ref credential.Ref, spec remote.Spec, result ResultSpec) (Task, error) {
	if _, err := l.poller.kind(spec.Kind); err != nil {
		return Task{}, err
	}

	if err := l.wait(ctx, ref.Account); err != nil {
		return Task{}, fmt.Errorf("await: launch %q: account %q: %w", spec.Title, ref.Account, err)
	}

	tok, err := l.poller.credentials.Token(ctx, ref)
	if err != nil {
		return Task{}, fmt.Errorf("await: launch %q: credential: %w", spec.Title, err)
	}

	h, err := remote.Submit(ctx, c, tok, spec, l.poller.retrier)
	if err != nil {
		return Task{}, err
	}

	t := Task{Handle: h, Credential: ref, Result: result, Queue: l.poller.config.Queue}
	u := Unit{Name: JobName(h.Kind), Payload: t, Account: ref.Account}
	chain, err := l.poller.scheduler.Dispatch(ctx, u, t.Queue)
	if err != nil {
		return Task{}, fmt.Errorf("await: launch %s: dispatch: %w", h, err)
	}
	t.Chain = chain
	return t, nil
}

func (l *Launcher) wait(ctx context.Context, account string) error {
	if l.limits == nil || account == "" {
		return nil
	}
	lim := l.limits.Limiter(account)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
