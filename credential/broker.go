package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/backoff"
)

// ErrNoRefreshToken is returned when an expired token cannot be refreshed.
var ErrNoRefreshToken = errors.New("credential: token expired and has no refresh token")

// Broker is the Provider backed by an oauth2.Config and an optional Store.
type Broker struct {
	config    *oauth2.Config
	store     Store
	notifiers []Notifier
	retrier   *backoff.Retrier
	logger    *slog.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithStore sets the credential record store.
func WithStore(s Store) BrokerOption {
	return func(b *Broker) { b.store = s }
}

// WithNotifier adds a refresh notifier.
func WithNotifier(n Notifier) BrokerOption {
	return func(b *Broker) { b.notifiers = append(b.notifiers, n) }
}

// WithRetrier sets the retrier used around token refresh.
func WithRetrier(r *backoff.Retrier) BrokerOption {
	return func(b *Broker) { b.retrier = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a Broker that refreshes tokens with config.
func NewBroker(config *oauth2.Config, opts ...BrokerOption) *Broker {
	b := &Broker{
		config:  config,
		retrier: backoff.DefaultRetrier(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Token implements Provider. It reloads the record for ref.Account (falling
// back to ref.Token), returns it when still valid, and otherwise refreshes
// it and writes the result back.
func (b *Broker) Token(ctx context.Context, ref Ref) (*oauth2.Token, error) {
	tok, err := b.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, backoff.Permanent(fmt.Errorf("account %q: %w", ref.Account, ErrNoRefreshToken))
	}

	var fresh *oauth2.Token
	err = b.retrier.Do(ctx, func(ctx context.Context) error {
		var refreshErr error
		fresh, refreshErr = b.config.TokenSource(ctx, tok).Token()
		if refreshErr != nil && rejected(refreshErr) {
			return backoff.Permanent(refreshErr)
		}
		return refreshErr
	})
	if err != nil {
		return nil, fmt.Errorf("credential: refresh token for %q: %w", ref.Account, err)
	}

	b.logger.Info("credential refreshed",
		slog.String("account", ref.Account),
		slog.Time("expiry", fresh.Expiry),
	)
	b.persist(ctx, ref.Account, fresh)
	return fresh, nil
}

func (b *Broker) load(ctx context.Context, ref Ref) (*oauth2.Token, error) {
	if b.store != nil && ref.Account != "" {
		tok, err := b.store.LoadToken(ctx, ref.Account)
		switch {
		case err == nil:
			return tok, nil
		case !errors.Is(err, gmpreport.ErrCredentialNotFound):
			return nil, fmt.Errorf("credential: load %q: %w", ref.Account, err)
		}
	}
	if ref.Token == nil {
		return nil, backoff.Permanent(fmt.Errorf("account %q: %w", ref.Account, gmpreport.ErrCredentialNotFound))
	}
	return ref.Token, nil
}

// persist writes a refreshed token back. Failures are logged only.
func (b *Broker) persist(ctx context.Context, account string, tok *oauth2.Token) {
	if b.store != nil && account != "" {
		if err := b.store.SaveToken(ctx, account, tok); err != nil {
			b.logger.Warn("failed to persist refreshed credential",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, n := range b.notifiers {
		if err := n.OnRefreshed(ctx, account, tok); err != nil {
			b.logger.Warn("credential notifier error",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
		}
	}
}

// rejected reports whether the token endpoint refused the refresh outright
// (revoked or invalid grant) rather than failing transiently.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	return re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
}
