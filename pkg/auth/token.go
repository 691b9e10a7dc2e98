package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

const (
	// TokenPrefix identifies dealflow bearer tokens
	TokenPrefix = "dfl_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and hashes bearer tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new bearer token
// Format: dfl_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encoded

	return fullToken, tg.HashToken(fullToken), TokenPrefix + encoded[:8], nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// TokenStore persists bearer tokens
type TokenStore struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenStore creates a token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db, generator: NewTokenGenerator(), now: time.Now}
}

// Issue creates a token for the user and returns the record plus the
// plaintext, which is never stored. A zero ttl issues a non-expiring token.
func (s *TokenStore) Issue(ctx context.Context, userID int64, name string, ttl time.Duration) (*APIToken, string, error) {
	plaintext, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", err
	}

	token := &APIToken{
		UserID:      userID,
		TokenHash:   hash,
		TokenPrefix: prefix,
		Name:        name,
	}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		token.ExpiresAt = &expires
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, name, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, userID, name, hash, prefix, token.ExpiresAt).Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return token, plaintext, nil
}

// Validate resolves a plaintext token. Unknown, revoked and expired tokens are
// rejected as unauthenticated. Successful validation records last use.
func (s *TokenStore) Validate(ctx context.Context, plaintext string) (*APIToken, error) {
	if err := s.generator.ValidateTokenFormat(plaintext); err != nil {
		return nil, apperrors.Unauthenticated("INVALID_TOKEN", "invalid token")
	}

	token := &APIToken{TokenHash: s.generator.HashToken(plaintext)}
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, token_prefix, expires_at, last_used_at, revoked_at, created_at
		FROM api_tokens
		WHERE token_hash = $1
	`, token.TokenHash).Scan(
		&token.ID, &token.UserID, &token.Name, &token.TokenPrefix,
		&expiresAt, &lastUsedAt, &revokedAt, &token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Unauthenticated("INVALID_TOKEN", "invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := s.now()
	if revokedAt.Valid {
		return nil, apperrors.Unauthenticated("TOKEN_REVOKED", "token has been revoked")
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
		if !now.Before(expiresAt.Time) {
			return nil, apperrors.Unauthenticated("TOKEN_EXPIRED", "token has expired")
		}
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE api_tokens SET last_used_at = $1 WHERE id = $2", now, token.ID); err != nil {
		return nil, fmt.Errorf("failed to record token use: %w", err)
	}
	token.LastUsedAt = &now

	return token, nil
}

// Revoke marks a token revoked. Revoking twice is a no-op.
func (s *TokenStore) Revoke(ctx context.Context, tokenID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL",
		s.now(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens that expired or were revoked before cutoff
func (s *TokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM api_tokens
		WHERE (expires_at IS NOT NULL AND expires_at < $1)
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
