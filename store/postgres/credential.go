package postgres

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
)

// LoadToken returns the stored token for account.
func (s *Store) LoadToken(ctx context.Context, account string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, token_type, refresh_token, expiry
		FROM gmpreport_credentials
		WHERE account = $1`,
		account,
	).Scan(&tok.AccessToken, &tok.TokenType, &tok.RefreshToken, &expiry)
	if err != nil {
		if isNoRows(err) {
			return nil, gmpreport.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("gmpreport/postgres: load token: %w", err)
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	return &tok, nil
}

// SaveToken upserts the token for account. Concurrent writers race and the
// last one wins.
func (s *Store) SaveToken(ctx context.Context, account string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gmpreport_credentials (account, access_token, token_type, refresh_token, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			token_type = EXCLUDED.token_type,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()`,
		account, tok.AccessToken, tok.TokenType, tok.RefreshToken, expiry,
	)
	if err != nil {
		return fmt.Errorf("gmpreport/postgres: save token: %w", err)
	}
	return nil
}
