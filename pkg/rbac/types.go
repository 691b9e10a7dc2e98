package rbac

import (
	"time"
)

// Role is a named set of permissions. Roles are global reference data shared
// by every organization.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Label       string       `json:"label"`
	Permissions []Permission `json:"permissions"`
	// UsersCount is only populated for super-admin callers
	UsersCount *int      `json:"users_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Permission is a named capability, e.g. "manage deals"
type Permission struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

// RoleRef is a role entry in the permission matrix
type RoleRef struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// MatrixPermission is a permission with every role and whether it holds it
type MatrixPermission struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Label string    `json:"label"`
	Roles []RoleRef `json:"roles"`
}

// PermissionGroup groups permissions by category
type PermissionGroup struct {
	Group       string             `json:"group"`
	Permissions []MatrixPermission `json:"permissions"`
}

// PermissionMatrix is the full role by permission grid
type PermissionMatrix struct {
	Groups           []PermissionGroup `json:"permission_groups"`
	TotalPermissions int               `json:"total_permissions"`
}

// defaultLabel derives a display label from a name: "manage deals" ->
// "Manage Deals", "super_admin" -> "Super Admin"
func defaultLabel(name string) string {
	out := []byte(name)
	upper := true
	for i, c := range out {
		switch {
		case c == '_' || c == ' ':
			out[i] = ' '
			upper = true
		case upper && c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
			upper = false
		default:
			upper = false
		}
	}
	return string(out)
}
