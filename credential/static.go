package credential

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
)

// Static is a Provider that hands out fixed tokens per account, falling
// back to the Ref's own token. It never refreshes.
type Static map[string]*oauth2.Token

// Token implements Provider.
func (s Static) Token(_ context.Context, ref Ref) (*oauth2.Token, error) {
	if tok, ok := s[ref.Account]; ok {
		return tok, nil
	}
	if ref.Token != nil {
		return ref.Token, nil
	}
	return nil, fmt.Errorf("account %q: %w", ref.Account, gmpreport.ErrCredentialNotFound)
}
