package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
)

// LoadToken returns the stored token for account.
func (s *Store) LoadToken(ctx context.Context, account string) (*oauth2.Token, error) {
	var m credentialModel
	err := s.db.Collection(colCredentials).FindOne(ctx, bson.M{"account": account}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, gmpreport.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("gmpreport/mongo: load token: %w", err)
	}
	return m.token(), nil
}

// SaveToken upserts the token for account. The last writer wins.
func (s *Store) SaveToken(ctx context.Context, account string, tok *oauth2.Token) error {
	m := credentialModel{
		Account:      account,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		UpdatedAt:    now(),
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		m.Expiry = &expiry
	}

	_, err := s.db.Collection(colCredentials).ReplaceOne(ctx,
		bson.M{"account": account}, m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("gmpreport/mongo: save token: %w", err)
	}
	return nil
}
