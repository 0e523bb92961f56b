package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
)

// LoadToken returns the stored token for account.
func (s *Store) LoadToken(ctx context.Context, account string) (*oauth2.Token, error) {
	raw, err := s.client.Get(ctx, s.keys.credential(account)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, gmpreport.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: load token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("gmpreport/redis: decode token: %w", err)
	}
	return &tok, nil
}

// SaveToken overwrites the token for account.
func (s *Store) SaveToken(ctx context.Context, account string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("gmpreport/redis: encode token: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.credential(account), raw, 0).Err(); err != nil {
		return fmt.Errorf("gmpreport/redis: save token: %w", err)
	}
	return nil
}
