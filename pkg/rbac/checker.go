package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
)

// Checker evaluates permissions. Every check reads the join tables, so role
// and permission changes apply to the next request without invalidation.
type Checker struct {
	db   *sql.DB
	gate *authz.Gate
}

// NewChecker creates a permission checker
func NewChecker(db *sql.DB, gate *authz.Gate) *Checker {
	return &Checker{db: db, gate: gate}
}

// EffectivePermissions returns the union of the permissions of the user's
// roles, sorted by name
func (c *Checker) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load effective permissions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// HasPermission reports whether any of the user's roles grants the permission
func (c *Checker) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	var ok bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM permissions p
			JOIN role_permissions rp ON rp.permission_id = p.id
			JOIN user_roles ur ON ur.role_id = rp.role_id
			WHERE ur.user_id = $1 AND p.name = $2
		)
	`, userID, permission).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return ok, nil
}

// Allows is HasPermission with the super-admin bypass applied
func (c *Checker) Allows(ctx context.Context, u *auth.User, permission string) (bool, error) {
	if u == nil {
		return false, nil
	}
	if c.gate != nil && c.gate.IsSuperAdmin(u) {
		return true, nil
	}
	return c.HasPermission(ctx, u.ID, permission)
}
