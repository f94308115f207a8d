// Package db provides the Postgres connection helper and the Postgres-backed
// token store used when a database DSN is configured.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/chattender/crypto"
)

// Connect opens a Postgres connection for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// TokenStore persists per-handle token pairs in the user_tokens table. Token
// material passes through the sealer on every read and write, so a sealed
// store never holds plaintext tokens.
type TokenStore struct {
	db     *sql.DB
	sealer crypto.Sealer
}

// NewTokenStore wraps database with sealer. Pass crypto.Plaintext{} to store
// tokens unsealed.
func NewTokenStore(database *sql.DB, sealer crypto.Sealer) *TokenStore {
	return &TokenStore{db: database, sealer: sealer}
}

func (s *TokenStore) AccessToken(ctx context.Context, handle string) (string, bool, error) {
	return s.token(ctx, handle, "access_token")
}

func (s *TokenStore) RefreshToken(ctx context.Context, handle string) (string, bool, error) {
	return s.token(ctx, handle, "refresh_token")
}

func (s *TokenStore) token(ctx context.Context, handle, column string) (string, bool, error) {
	// column is one of two constants above, never user input.
	q := fmt.Sprintf(`SELECT %s FROM user_tokens WHERE handle = $1`, column)
	var sealed string
	err := s.db.QueryRowContext(ctx, q, handle).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s for %s: %w", column, handle, err)
	}
	tok, err := s.sealer.Open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("unseal %s for %s: %w", column, handle, err)
	}
	return tok, true, nil
}

// SetTokens upserts the pair in a single statement, so readers see either the
// old pair or the new one.
func (s *TokenStore) SetTokens(ctx context.Context, handle, access, refresh string) error {
	sealedAccess, err := s.sealer.Seal(access)
	if err != nil {
		return fmt.Errorf("seal access token for %s: %w", handle, err)
	}
	sealedRefresh, err := s.sealer.Seal(refresh)
	if err != nil {
		return fmt.Errorf("seal refresh token for %s: %w", handle, err)
	}
	q := `INSERT INTO user_tokens(handle, access_token, refresh_token, updated_at)
	      VALUES($1, $2, $3, NOW())
	      ON CONFLICT(handle) DO UPDATE SET
	        access_token = EXCLUDED.access_token,
	        refresh_token = EXCLUDED.refresh_token,
	        updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, handle, sealedAccess, sealedRefresh); err != nil {
		return fmt.Errorf("upsert tokens for %s: %w", handle, err)
	}
	return nil
}
