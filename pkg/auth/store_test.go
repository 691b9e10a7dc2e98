package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

var userRowColumns = []string{
	"id", "uuid", "email", "password_hash", "first_name", "last_name", "phone",
	"organization_id", "is_active", "is_verified", "status", "stripe_customer_id",
	"last_login_at", "created_at", "updated_at",
}

func newUserStore(t *testing.T) (*UserStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db), mock, db
}

func TestUserStore_GetByEmail(t *testing.T) {
	now := time.Now()

	t.Run("loads user with roles", func(t *testing.T) {
		store, mock, _ := newUserStore(t)
		mock.ExpectQuery(`FROM users u WHERE LOWER\(u.email\)`).
			WithArgs("agent@example.com").
			WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
				5, "b5d0c5e4-8e0d-4c55-9a3b-46d0a3c0e1aa", "Agent@example.com", "hash", "Ada", "Agent", "",
				9, true, false, "active", "cus_123", nil, now, now,
			))
		mock.ExpectQuery(`FROM roles r`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("admin").AddRow("staff"))

		user, err := store.GetByEmail(context.Background(), "  agent@example.com ")
		require.NoError(t, err)
		assert.Equal(t, int64(5), user.ID)
		require.NotNil(t, user.OrganizationID)
		assert.Equal(t, int64(9), *user.OrganizationID)
		assert.Equal(t, []string{"admin", "staff"}, user.Roles)
		assert.Equal(t, "cus_123", user.StripeCustomerID)
		assert.True(t, user.HasRole(RoleAdmin))
		assert.True(t, user.BelongsTo(9))
		assert.False(t, user.BelongsTo(10))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user is not found", func(t *testing.T) {
		store, mock, _ := newUserStore(t)
		mock.ExpectQuery(`FROM users u`).WillReturnRows(sqlmock.NewRows(userRowColumns))

		_, err := store.GetByEmail(context.Background(), "ghost@example.com")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestUserStore_Create(t *testing.T) {
	orgID := int64(9)

	t.Run("inserts user", func(t *testing.T) {
		store, mock, db := newUserStore(t)
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(sqlmock.AnyArg(), "new@example.com", "hash", "New", "Agent", "",
				orgID, true, false, StatusActive, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(12, now, now))

		u := &User{Email: " New@Example.com", PasswordHash: "hash", FirstName: "New", LastName: "Agent", OrganizationID: &orgID, IsActive: true}
		require.NoError(t, store.Create(context.Background(), db, u))
		assert.Equal(t, int64(12), u.ID)
		assert.Equal(t, "new@example.com", u.Email)
		assert.NotEmpty(t, u.UUID)
		assert.Equal(t, []string{}, u.Roles)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		store, mock, db := newUserStore(t)
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

		err := store.Create(context.Background(), db, &User{Email: "dup@example.com"})
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})
}

func TestUserStore_Deactivate(t *testing.T) {
	t.Run("deactivates", func(t *testing.T) {
		store, mock, db := newUserStore(t)
		mock.ExpectExec(`UPDATE users SET is_active = FALSE`).
			WithArgs(StatusCancelled, int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.Deactivate(context.Background(), db, 4))
	})

	t.Run("unknown user", func(t *testing.T) {
		store, mock, db := newUserStore(t)
		mock.ExpectExec(`UPDATE users SET is_active = FALSE`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.Deactivate(context.Background(), db, 4), apperrors.ErrNotFound)
	})
}

func TestUserStore_TouchLastLogin(t *testing.T) {
	store, mock, _ := newUserStore(t)
	at := time.Now()
	mock.ExpectExec(`UPDATE users SET last_login_at`).
		WithArgs(at, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.TouchLastLogin(context.Background(), 4, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)

	assert.True(t, VerifyPassword(hash, "correct-horse"))
	assert.False(t, VerifyPassword(hash, "battery-staple"))
	assert.False(t, VerifyPassword("not-a-bcrypt-hash", "correct-horse"))
}

func TestUser_FullName(t *testing.T) {
	assert.Equal(t, "Ada Agent", (&User{FirstName: "Ada", LastName: "Agent"}).FullName())
	assert.Equal(t, "Ada", (&User{FirstName: "Ada"}).FullName())
	var nilUser *User
	assert.False(t, nilUser.HasRole(RoleAdmin))
}

func TestUserStore_List(t *testing.T) {
	now := time.Now()
	listColumns := append(append([]string{}, userRowColumns...), "roles")

	t.Run("filters by organization, role, status and search", func(t *testing.T) {
		store, mock, _ := newUserStore(t)
		orgID := int64(9)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users u WHERE u.organization_id = \$1 AND EXISTS`).
			WithArgs(orgID, RoleStaff, StatusActive, "%ada\\_%").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery(`LIMIT \$5 OFFSET \$6`).
			WithArgs(orgID, RoleStaff, StatusActive, "%ada\\_%", 2, 2).
			WillReturnRows(sqlmock.NewRows(listColumns).AddRow(
				7, "uuid-7", "ada@example.com", "hash", "Ada", "Agent", "",
				9, true, true, "active", nil, nil, now, now, "{admin,staff}",
			))

		users, total, err := store.List(context.Background(), UserFilter{
			OrganizationID: &orgID, Role: RoleStaff, Status: StatusActive, Search: "ada_", Page: 2, PerPage: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, users, 1)
		assert.Equal(t, []string{"admin", "staff"}, users[0].Roles)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unfiltered", func(t *testing.T) {
		store, mock, _ := newUserStore(t)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users u$`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`LIMIT \$1 OFFSET \$2`).
			WithArgs(15, 0).
			WillReturnRows(sqlmock.NewRows(listColumns).AddRow(
				1, "uuid-1", "root@example.com", "hash", "Root", "User", "",
				nil, true, true, "active", nil, nil, now, now, "{}",
			))

		users, total, err := store.List(context.Background(), UserFilter{Page: 1, PerPage: 15})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Nil(t, users[0].OrganizationID)
		assert.Equal(t, []string{}, users[0].Roles)
	})
}

func TestUserStore_SetStatus(t *testing.T) {
	store, mock, db := newUserStore(t)
	mock.ExpectExec(`UPDATE users SET status = \$1, is_active = \$2`).
		WithArgs(StatusActive, true, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET status`).
		WithArgs(StatusInactive, false, int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.SetStatus(context.Background(), db, 4, StatusActive, true))
	assert.ErrorIs(t, store.SetStatus(context.Background(), db, 404, StatusInactive, false), apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_UpdateProfile(t *testing.T) {
	store, mock, _ := newUserStore(t)
	now := time.Now()
	mock.ExpectQuery(`UPDATE users SET first_name = \$1, last_name = \$2, phone = \$3`).
		WithArgs("Ada", "Lovelace", "555-0100", int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectQuery(`UPDATE users SET first_name`).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	u := &User{ID: 4, FirstName: "Ada", LastName: "Lovelace", Phone: "555-0100"}
	require.NoError(t, store.UpdateProfile(context.Background(), u))
	assert.Equal(t, now, u.UpdatedAt)

	assert.ErrorIs(t, store.UpdateProfile(context.Background(), &User{ID: 404}), apperrors.ErrNotFound)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "bob@example.com", NormalizeEmail("  Bob@Example.COM "))
}
