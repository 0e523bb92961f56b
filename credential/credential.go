// Package credential resolves a valid OAuth2 access token for a remote
// call.
//
// A task carries a [Ref] naming the account whose credential it uses. On
// every delivery the [Broker] reloads the current record from the
// [Store], refreshes it when expired, and writes the refreshed token back.
// The write-back is best effort: a failure is logged and the refreshed
// token is still returned.
package credential

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// Ref identifies the credential a task acts with.
type Ref struct {
	// Account keys the credential record in the Store.
	Account string `json:"account"`

	// Token is used when no record exists for Account, for example when
	// credentials are provisioned per task instead of stored.
	Token *oauth2.Token `json:"token,omitempty"`
}

// Provider returns a currently valid token for ref.
type Provider interface {
	Token(ctx context.Context, ref Ref) (*oauth2.Token, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, ref Ref) (*oauth2.Token, error)

// Token implements Provider.
func (f ProviderFunc) Token(ctx context.Context, ref Ref) (*oauth2.Token, error) {
	return f(ctx, ref)
}

// Store persists one token per account. SaveToken is an upsert and the
// last write wins.
type Store interface {
	// LoadToken returns gmpreport.ErrCredentialNotFound when the account
	// has no record.
	LoadToken(ctx context.Context, account string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, account string, tok *oauth2.Token) error
}

// Notifier is told about refreshed tokens, for example to sync another
// system that owns the credential record. Errors are logged only.
type Notifier interface {
	OnRefreshed(ctx context.Context, account string, tok *oauth2.Token) error
}

// HTTPClient returns a client that authorizes requests with tok. It never
// refreshes; refreshing goes through a Provider so the result is persisted.
// A base client stored in ctx under oauth2.HTTPClient carries the requests.
func HTTPClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
}
