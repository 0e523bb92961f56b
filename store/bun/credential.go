package bunstore

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
)

// LoadToken returns the stored token for account.
func (s *Store) LoadToken(ctx context.Context, account string) (*oauth2.Token, error) {
	m := new(credentialModel)
	err := s.db.NewSelect().Model(m).
		Where("account = ?", account).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, gmpreport.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("gmpreport/bun: load token: %w", err)
	}
	return m.token(), nil
}

// SaveToken upserts the token for account. The last writer wins.
func (s *Store) SaveToken(ctx context.Context, account string, tok *oauth2.Token) error {
	_, err := s.db.NewInsert().
		Model(toCredentialModel(account, tok)).
		On("CONFLICT (account) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("token_type = EXCLUDED.token_type").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("expiry = EXCLUDED.expiry").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("gmpreport/bun: save token: %w", err)
	}
	return nil
}
