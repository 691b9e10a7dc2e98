package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
)

// Registry manages roles, permissions and role assignments on behalf of an
// acting user
type Registry struct {
	db      *sql.DB
	store   *Store
	users   *auth.UserStore
	checker *Checker
	gate    *authz.Gate
	audit   audit.Logger
	logger  *observability.Logger
}

// NewRegistry creates a registry
func NewRegistry(db *sql.DB, gate *authz.Gate, auditLogger audit.Logger, logger *observability.Logger) *Registry {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		db:      db,
		store:   NewStore(db),
		users:   auth.NewUserStore(db),
		checker: NewChecker(db, gate),
		gate:    gate,
		audit:   auditLogger,
		logger:  logger,
	}
}

// Store exposes the underlying store for seeding and internal role grants
func (r *Registry) Store() *Store {
	return r.store
}

// Checker exposes the permission checker
func (r *Registry) Checker() *Checker {
	return r.checker
}

// ListRoles returns all roles with their permissions. Only super-admins see
// the super_admin role and per-role user counts.
func (r *Registry) ListRoles(ctx context.Context, actor *auth.User) ([]Role, error) {
	if actor == nil {
		return nil, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}
	super := r.gate.IsSuperAdmin(actor)

	roles, err := r.store.ListRoles(ctx, super)
	if err != nil {
		return nil, err
	}
	if !super {
		return roles, nil
	}

	counts, err := r.store.UserCounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		n := counts[roles[i].ID]
		roles[i].UsersCount = &n
	}
	return roles, nil
}

// ListPermissionsGrouped returns the full role by permission matrix, grouped
// by permission category. Super-admin only.
func (r *Registry) ListPermissionsGrouped(ctx context.Context, actor *auth.User) (*PermissionMatrix, error) {
	if err := r.gate.RequireSuperAdmin(ctx, actor); err != nil {
		return nil, err
	}

	var (
		perms []Permission
		roles []Role
		edges map[int64][]Permission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		perms, err = r.store.ListPermissions(gctx)
		return err
	})
	g.Go(func() (err error) {
		roles, err = r.store.AllRoles(gctx)
		return err
	})
	g.Go(func() (err error) {
		edges, err = r.store.RolePermissionEdges(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	held := make(map[int64]map[int64]bool, len(edges))
	for roleID, ps := range edges {
		set := make(map[int64]bool, len(ps))
		for _, p := range ps {
			set[p.ID] = true
		}
		held[roleID] = set
	}

	matrix := &PermissionMatrix{Groups: []PermissionGroup{}, TotalPermissions: len(perms)}
	index := make(map[string]int)
	for _, p := range perms {
		refs := make([]RoleRef, len(roles))
		for i, role := range roles {
			refs[i] = RoleRef{ID: role.ID, Name: role.Name, Label: role.Label, Enabled: held[role.ID][p.ID]}
		}

		i, ok := index[p.Group]
		if !ok {
			i = len(matrix.Groups)
			index[p.Group] = i
			matrix.Groups = append(matrix.Groups, PermissionGroup{Group: p.Group})
		}
		matrix.Groups[i].Permissions = append(matrix.Groups[i].Permissions, MatrixPermission{
			ID: p.ID, Name: p.Name, Label: p.Label, Roles: refs,
		})
	}
	return matrix, nil
}

// SetRolePermissions replaces the permission set of a role. Super-admin only.
// Unknown permission names reject the whole request.
func (r *Registry) SetRolePermissions(ctx context.Context, actor *auth.User, roleName string, permissionNames []string) (*Role, error) {
	if err := r.gate.RequireSuperAdmin(ctx, actor); err != nil {
		return nil, err
	}
	names := normalizeNames(permissionNames)
	if len(names) == 0 {
		return nil, apperrors.InvalidField("permissions", "the permissions field is required")
	}

	var (
		role   *Role
		before []string
	)
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		role, err = r.store.GetRoleByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		before = permissionNamesOf(role.Permissions)

		perms, err := r.store.PermissionsByNames(ctx, tx, names)
		if err != nil {
			return err
		}
		if unknown := missingNames(names, permissionNamesOf(perms)); len(unknown) > 0 {
			return apperrors.InvalidReference("INVALID_PERMISSIONS", "some permissions do not exist").
				WithDetail("unknown_permissions", unknown)
		}

		ids := make([]int64, len(perms))
		for i, p := range perms {
			ids[i] = p.ID
		}
		if err := r.store.ReplaceRolePermissions(ctx, tx, role.ID, ids); err != nil {
			return err
		}
		role.Permissions, err = r.store.RolePermissions(ctx, tx, role.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logMutation(ctx, audit.EventTypeAuthzRolePermissions, actor, audit.ResourceTypeRole,
		strconv.FormatInt(role.ID, 10), "permissions", before, permissionNamesOf(role.Permissions),
		"role permissions updated")
	return role, nil
}

// SetUserRoles replaces the roles of a user. Super-admins may set any roles
// on anyone; organization admins only on users of their own organization and
// never super_admin. An organization is never left without an admin.
func (r *Registry) SetUserRoles(ctx context.Context, actor *auth.User, userID int64, roleNames []string) (*auth.User, error) {
	if actor == nil {
		return nil, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}
	super := r.gate.IsSuperAdmin(actor)
	if !super && !actor.HasRole(auth.RoleAdmin) {
		return nil, apperrors.Forbidden("ORGANIZATION_ADMIN_REQUIRED", "only organization admins may change user roles")
	}
	names := normalizeNames(roleNames)
	if len(names) == 0 {
		return nil, apperrors.InvalidField("roles", "the roles field is required")
	}

	var (
		target *auth.User
		before []string
	)
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		target, err = r.users.GetByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		before = target.Roles

		if !super {
			if target.OrganizationID == nil {
				return apperrors.Forbidden("NOT_ORGANIZATION_MEMBER", "you may only manage users of your organization")
			}
			if err := r.gate.AuthorizeOrg(ctx, actor, *target.OrganizationID, authz.LevelAdmin); err != nil {
				return err
			}
			if r.gate.IsSuperAdmin(target) {
				return apperrors.Forbidden("SUPER_ADMIN_GRANT_FORBIDDEN", "only super-admins may change the roles of a super-admin")
			}
		}

		roles, err := r.store.RolesByNames(ctx, tx, names)
		if err != nil {
			return err
		}
		found := make([]string, len(roles))
		ids := make([]int64, len(roles))
		for i, role := range roles {
			found[i] = role.Name
			ids[i] = role.ID
		}
		if unknown := missingNames(names, found); len(unknown) > 0 {
			return apperrors.InvalidReference("INVALID_ROLES", "some roles do not exist").
				WithDetail("unknown_roles", unknown)
		}
		if !super && containsName(found, auth.RoleSuperAdmin) {
			return apperrors.Forbidden("SUPER_ADMIN_GRANT_FORBIDDEN", "only super-admins may grant the super_admin role")
		}

		if target.OrganizationID != nil &&
			target.HasRole(auth.RoleAdmin) && !containsName(found, auth.RoleAdmin) {
			if err := r.requireAnotherAdmin(ctx, tx, *target.OrganizationID, target.ID); err != nil {
				return err
			}
		}

		if err := r.store.ReplaceUserRoles(ctx, tx, target.ID, ids); err != nil {
			return err
		}
		target.Roles, err = auth.RoleNames(ctx, tx, target.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logMutation(ctx, audit.EventTypeAuthzUserRolesChange, actor, audit.ResourceTypeUser,
		strconv.FormatInt(target.ID, 10), "roles", before, target.Roles, "user roles updated")
	return target, nil
}

// requireAnotherAdmin locks the organization row so concurrent demotions
// serialize, then fails if userID is its only admin-role holder
func (r *Registry) requireAnotherAdmin(ctx context.Context, tx *sql.Tx, orgID, userID int64) error {
	var locked int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to lock organization: %w", err)
	}
	others, err := CountOtherAdmins(ctx, tx, orgID, userID)
	if err != nil {
		return err
	}
	if others == 0 {
		return apperrors.PreconditionFailed("CANNOT_REMOVE_LAST_ADMIN",
			"the organization must keep at least one admin")
	}
	return nil
}

// UserPermissions returns a user's effective permissions. Callers may read
// their own; admins those of their organization's users.
func (r *Registry) UserPermissions(ctx context.Context, actor *auth.User, userID int64) ([]string, error) {
	target, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := r.gate.AuthorizeOwner(ctx, actor, target.ID, target.OrganizationID); err != nil {
		return nil, err
	}
	return r.checker.EffectivePermissions(ctx, target.ID)
}

// AssignRoleByName grants a role inside the caller's transaction. Used when
// accounts are created, where no acting user applies.
func (r *Registry) AssignRoleByName(ctx context.Context, q database.Querier, userID int64, roleName string) error {
	roles, err := r.store.RolesByNames(ctx, q, []string{roleName})
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return apperrors.InvalidReference("UNKNOWN_ROLE", "role %q does not exist; has the catalog been seeded?", roleName)
	}
	return r.store.AssignRole(ctx, q, userID, roles[0].ID)
}

func (r *Registry) logMutation(ctx context.Context, eventType audit.EventType, actor *auth.User,
	resourceType audit.ResourceType, resourceID, field string, before, after []string, message string) {
	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{field: before},
		After:  map[string]interface{}{field: after},
	}
	if err := r.audit.LogDataMutation(ctx, eventType, &actor.ID, resourceType, resourceID, changes, message); err != nil {
		observability.FromContext(ctx, r.logger).WithError(err).Warn("failed to write audit event")
	}
}

func normalizeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func missingNames(requested, found []string) []string {
	have := make(map[string]bool, len(found))
	for _, n := range found {
		have[n] = true
	}
	var missing []string
	for _, n := range requested {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	sort.Strings(missing)
	return missing
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func permissionNamesOf(perms []Permission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.Name
	}
	return names
}
