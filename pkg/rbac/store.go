package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/database"
)

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListRoles returns every role with its permissions. The super_admin role is
// excluded unless includeSuperAdmin is set.
func (s *Store) ListRoles(ctx context.Context, includeSuperAdmin bool) ([]Role, error) {
	query := `SELECT id, name, label, created_at, updated_at FROM roles`
	var args []any
	if !includeSuperAdmin {
		query += ` WHERE name <> $1`
		args = append(args, auth.RoleSuperAdmin)
	}
	query += ` ORDER BY id`

	roles, err := s.queryRoles(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}

	edges, err := s.rolePermissionEdges(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = edges[roles[i].ID]
		if roles[i].Permissions == nil {
			roles[i].Permissions = []Permission{}
		}
	}
	return roles, nil
}

// AllRoles returns every role without permissions
func (s *Store) AllRoles(ctx context.Context) ([]Role, error) {
	return s.queryRoles(ctx, s.db, `SELECT id, name, label, created_at, updated_at FROM roles ORDER BY id`)
}

// UserCounts returns the number of users holding each role
func (s *Store) UserCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role_id, COUNT(*) FROM user_roles GROUP BY role_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count role users: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var roleID int64
		var n int
		if err := rows.Scan(&roleID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		counts[roleID] = n
	}
	return counts, rows.Err()
}

// ListPermissions returns every permission in creation order
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, s.db, `SELECT id, name, label, group_name FROM permissions ORDER BY id`)
}

// RolePermissionEdges maps role id to the permissions it holds
func (s *Store) RolePermissionEdges(ctx context.Context) (map[int64][]Permission, error) {
	return s.rolePermissionEdges(ctx, s.db)
}

func (s *Store) rolePermissionEdges(ctx context.Context, q database.Querier) (map[int64][]Permission, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT rp.role_id, p.id, p.name, p.label, p.group_name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY rp.role_id, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	edges := make(map[int64][]Permission)
	for rows.Next() {
		var roleID int64
		var p Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Label, &p.Group); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		edges[roleID] = append(edges[roleID], p)
	}
	return edges, rows.Err()
}

// GetRoleByName loads a role and its permissions
func (s *Store) GetRoleByName(ctx context.Context, q database.Querier, name string) (*Role, error) {
	var role Role
	err := q.QueryRowContext(ctx,
		`SELECT id, name, label, created_at, updated_at FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.Label, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	role.Permissions, err = s.RolePermissions(ctx, q, role.ID)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRoleByID loads a role without its permissions
func (s *Store) GetRoleByID(ctx context.Context, q database.Querier, id int64) (*Role, error) {
	var role Role
	err := q.QueryRowContext(ctx,
		`SELECT id, name, label, created_at, updated_at FROM roles WHERE id = $1`, id,
	).Scan(&role.ID, &role.Name, &role.Label, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// RolePermissions returns the permissions held by a role
func (s *Store) RolePermissions(ctx context.Context, q database.Querier, roleID int64) ([]Permission, error) {
	return s.queryPermissions(ctx, q, `
		SELECT p.id, p.name, p.label, p.group_name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.id
	`, roleID)
}

// RolesByNames returns the roles whose names are listed; unknown names are
// simply absent from the result
func (s *Store) RolesByNames(ctx context.Context, q database.Querier, names []string) ([]Role, error) {
	return s.queryRoles(ctx, q,
		`SELECT id, name, label, created_at, updated_at FROM roles WHERE name = ANY($1) ORDER BY id`,
		pq.Array(names),
	)
}

// PermissionsByNames returns the permissions whose names are listed
func (s *Store) PermissionsByNames(ctx context.Context, q database.Querier, names []string) ([]Permission, error) {
	return s.queryPermissions(ctx, q,
		`SELECT id, name, label, group_name FROM permissions WHERE name = ANY($1) ORDER BY id`,
		pq.Array(names),
	)
}

// ReplaceRolePermissions makes permissionIDs the exact permission set of the
// role: removed edges are deleted and new ones inserted
func (s *Store) ReplaceRolePermissions(ctx context.Context, q database.Querier, roleID int64, permissionIDs []int64) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND NOT (permission_id = ANY($2))`,
		roleID, pq.Array(permissionIDs),
	); err != nil {
		return fmt.Errorf("failed to remove role permissions: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`, roleID, pq.Array(permissionIDs)); err != nil {
		return fmt.Errorf("failed to add role permissions: %w", err)
	}
	return nil
}

// ReplaceUserRoles makes roleIDs the exact role set of the user
func (s *Store) ReplaceUserRoles(ctx context.Context, q database.Querier, userID int64, roleIDs []int64) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND NOT (role_id = ANY($2))`,
		userID, pq.Array(roleIDs),
	); err != nil {
		return fmt.Errorf("failed to remove user roles: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`, userID, pq.Array(roleIDs)); err != nil {
		return fmt.Errorf("failed to add user roles: %w", err)
	}
	return nil
}

// AssignRole adds a single role edge. Assigning a held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, q database.Querier, userID, roleID int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// CountAdmins counts users holding the admin role that still reference the
// organization, active or not
func CountAdmins(ctx context.Context, q database.Querier, orgID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT u.id)
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		JOIN roles r ON r.id = ur.role_id
		WHERE u.organization_id = $1 AND r.name = $2
	`, orgID, auth.RoleAdmin).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

// CountOtherAdmins counts admin-role holders of the organization other than
// userID, active or not
func CountOtherAdmins(ctx context.Context, q database.Querier, orgID, userID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT u.id)
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		JOIN roles r ON r.id = ur.role_id
		WHERE u.organization_id = $1 AND r.name = $2 AND u.id <> $3
	`, orgID, auth.RoleAdmin, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

func (s *Store) queryRoles(ctx context.Context, q database.Querier, query string, args ...any) ([]Role, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Label, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *Store) queryPermissions(ctx context.Context, q database.Querier, query string, args ...any) ([]Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Label, &p.Group); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
