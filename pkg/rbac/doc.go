// Package rbac is the role and permission registry.
//
// Roles and permissions are global reference data: every organization shares
// the same catalog. Users hold roles through user_roles and roles hold
// permissions through role_permissions. A user's effective permissions are the
// union over its roles, read fresh from the join tables on every check.
//
// # Built-in Roles
//
//   - super_admin: every permission; sees and manages all organizations
//   - admin: manages users, roles and settings of its own organization
//   - staff: works deals, leads, properties and campaigns
//
// # Seeding
//
// The default catalog is embedded from seed.yaml and applied idempotently:
//
//	catalog, err := rbac.LoadCatalogFile(cfg.RBACCatalogPath) // "" = embedded
//	result, err := registry.Store().ApplyCatalog(ctx, catalog)
//
// # Registry Operations
//
//	roles, err := registry.ListRoles(ctx, actor)
//	matrix, err := registry.ListPermissionsGrouped(ctx, actor)        // super-admin
//	role, err := registry.SetRolePermissions(ctx, actor, "staff", names) // super-admin
//	user, err := registry.SetUserRoles(ctx, actor, userID, []string{"admin"})
//
// SetUserRoles refuses to demote the last active admin of an organization.
// The organization row is locked for the check so two admins cannot demote
// each other concurrently.
//
// # HTTP
//
//	GET  /rbac/roles                   (requires "view roles")
//	GET  /rbac/permissions             (super-admin)
//	PUT  /rbac/roles/{name}/permissions (super-admin)
//	PUT  /rbac/users/{id}/roles
//	GET  /rbac/users/{id}/permissions
package rbac
