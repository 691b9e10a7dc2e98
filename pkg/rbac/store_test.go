package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/auth"
)

func TestStore_ReplaceRolePermissions(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes removed edges then inserts new ones", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		mock.ExpectExec(`DELETE FROM role_permissions WHERE role_id = \$1 AND NOT \(permission_id = ANY\(\$2\)\)`).
			WithArgs(int64(3), "{1,5}").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`INSERT INTO role_permissions \(role_id, permission_id\)\s+SELECT \$1, unnest\(\$2::bigint\[\]\)`).
			WithArgs(int64(3), "{1,5}").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.ReplaceRolePermissions(ctx, db, 3, []int64{1, 5}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps failures", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)
		mock.ExpectExec(`DELETE FROM role_permissions`).WillReturnError(errors.New("connection reset"))

		err := store.ReplaceRolePermissions(ctx, db, 3, []int64{1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to remove role permissions")
	})
}

func TestStore_GetRoleByName_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM roles WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(roleColumns))

	_, err := NewStore(db).GetRoleByName(context.Background(), db, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCountAdmins(t *testing.T) {
	db, mock := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(`WHERE u.organization_id = \$1 AND r.name = \$2\s*$`).
		WithArgs(int64(9), auth.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`r.name = \$2 AND u.id <> \$3`).
		WithArgs(int64(9), auth.RoleAdmin, int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := CountAdmins(ctx, db, 9)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CountOtherAdmins(ctx, db, 9, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
