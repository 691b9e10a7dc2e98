package auth

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, tokenPrefix, err := tg.GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, tokenHash, 64)
	assert.Equal(t, token[:len(TokenPrefix)+8], tokenPrefix)
	assert.Equal(t, tokenHash, tg.HashToken(token))
	assert.NoError(t, tg.ValidateTokenFormat(token))
}

func TestTokenGenerator_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, _, err := tg.GenerateToken()
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", "dfl_abc123def456", false},
		{"missing prefix", "abc123def456", true},
		{"wrong prefix", "sk_abc123def456", true},
		{"empty token part", "dfl_", true},
		{"invalid base64", "dfl_!!!invalid!!!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func newTokenStore(t *testing.T, now time.Time) (*TokenStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewTokenStore(db)
	store.now = func() time.Time { return now }
	return store, mock
}

var tokenColumns = []string{"id", "user_id", "name", "token_prefix", "expires_at", "last_used_at", "revoked_at", "created_at"}

func TestTokenStore_Issue(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTokenStore(t, now)

	mock.ExpectQuery(`INSERT INTO api_tokens`).
		WithArgs(int64(7), "login", sqlmock.AnyArg(), sqlmock.AnyArg(), now.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, now))

	token, plaintext, err := store.Issue(context.Background(), 7, "login", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(11), token.ID)
	assert.True(t, strings.HasPrefix(plaintext, TokenPrefix))
	assert.Equal(t, store.generator.HashToken(plaintext), token.TokenHash)
	require.NotNil(t, token.ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *token.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStore_Validate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	plaintext := "dfl_" + strings.Repeat("A", 43)

	t.Run("valid token records last use", func(t *testing.T) {
		store, mock := newTokenStore(t, now)
		mock.ExpectQuery(`FROM api_tokens`).
			WithArgs(store.generator.HashToken(plaintext)).
			WillReturnRows(sqlmock.NewRows(tokenColumns).
				AddRow(3, 7, "login", "dfl_AAAAAAAA", now.Add(time.Hour), nil, nil, now.Add(-time.Hour)))
		mock.ExpectExec(`UPDATE api_tokens SET last_used_at`).
			WithArgs(now, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		token, err := store.Validate(context.Background(), plaintext)
		require.NoError(t, err)
		assert.Equal(t, int64(7), token.UserID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed token", func(t *testing.T) {
		store, _ := newTokenStore(t, now)
		_, err := store.Validate(context.Background(), "Bearer nonsense")
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("unknown token", func(t *testing.T) {
		store, mock := newTokenStore(t, now)
		mock.ExpectQuery(`FROM api_tokens`).WillReturnError(sql.ErrNoRows)

		_, err := store.Validate(context.Background(), plaintext)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("revoked token", func(t *testing.T) {
		store, mock := newTokenStore(t, now)
		mock.ExpectQuery(`FROM api_tokens`).
			WillReturnRows(sqlmock.NewRows(tokenColumns).
				AddRow(3, 7, "login", "dfl_AAAAAAAA", nil, nil, now.Add(-time.Minute), now.Add(-time.Hour)))

		_, err := store.Validate(context.Background(), plaintext)
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "TOKEN_REVOKED", appErr.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		store, mock := newTokenStore(t, now)
		mock.ExpectQuery(`FROM api_tokens`).
			WillReturnRows(sqlmock.NewRows(tokenColumns).
				AddRow(3, 7, "login", "dfl_AAAAAAAA", now, nil, nil, now.Add(-time.Hour)))

		_, err := store.Validate(context.Background(), plaintext)
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "TOKEN_EXPIRED", appErr.Code)
	})
}

func TestTokenStore_Revoke(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTokenStore(t, now)

	mock.ExpectExec(`UPDATE api_tokens SET revoked_at`).
		WithArgs(now, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Revoke(context.Background(), 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStore_DeleteExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTokenStore(t, now)

	mock.ExpectExec(`DELETE FROM api_tokens`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
