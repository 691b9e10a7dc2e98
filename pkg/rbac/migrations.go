package rbac

import "github.com/platinummonkey/dealflow/pkg/database"

// Migrations creates the role and permission tables and their join tables
var Migrations = []database.Migration{
	{
		Version:     3,
		Description: "create roles and permissions",
		SQL: `
			CREATE TABLE roles (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				label TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE permissions (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				label TEXT NOT NULL DEFAULT '',
				group_name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE role_permissions (
				role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
				PRIMARY KEY (role_id, permission_id)
			);
			CREATE INDEX idx_role_permissions_permission ON role_permissions(permission_id);
		`,
	},
	{
		Version:     4,
		Description: "create user_roles",
		SQL: `
			CREATE TABLE user_roles (
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				PRIMARY KEY (user_id, role_id)
			);
			CREATE INDEX idx_user_roles_role ON user_roles(role_id);
		`,
	},
}
