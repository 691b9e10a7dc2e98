// Package authz is the single place authorization decisions are made.
//
// The Gate derives super-admin status, checks organization membership and
// admin rights, and gates logins on account and subscription standing. Lookup
// wraps every load of a tenant-owned resource so a caller from another tenant
// sees the resource as absent.
package authz

import (
	"context"
	"fmt"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/observability"
)

// Level is the membership level an organization-scoped action requires
type Level int

const (
	// LevelMember allows any user of the organization
	LevelMember Level = iota
	// LevelAdmin requires the admin role within the organization
	LevelAdmin
)

func (l Level) String() string {
	if l == LevelAdmin {
		return "admin"
	}
	return "member"
}

// statusActive mirrors the organization status that permits staff logins
const statusActive = "active"

// OrgStanding is what the login check needs to know about an organization
type OrgStanding struct {
	ID     int64
	Name   string
	Status string
}

// Gate makes authorization decisions
type Gate struct {
	superAdminEmail string
	metrics         *observability.Metrics
	audit           audit.Logger
}

// Option configures a Gate
type Option func(*Gate)

// WithMetrics records decisions in dealflow_authz_decisions_total
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithAuditLogger records denials in the audit trail
func WithAuditLogger(l audit.Logger) Option {
	return func(g *Gate) { g.audit = l }
}

// NewGate creates a gate. superAdminEmail is the configured bootstrap
// address; empty disables the email path.
func NewGate(superAdminEmail string, opts ...Option) *Gate {
	g := &Gate{
		superAdminEmail: auth.NormalizeEmail(superAdminEmail),
		audit:           audit.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsSuperAdmin reports whether the user holds the super_admin role or has the
// configured super-admin email.
func (g *Gate) IsSuperAdmin(u *auth.User) bool {
	if u == nil {
		return false
	}
	if u.HasRole(auth.RoleSuperAdmin) {
		return true
	}
	return g.superAdminEmail != "" && auth.NormalizeEmail(u.Email) == g.superAdminEmail
}

// IsOrgAdmin reports whether the user is an admin member of the organization
func (g *Gate) IsOrgAdmin(u *auth.User, orgID int64) bool {
	return u.BelongsTo(orgID) && u.HasRole(auth.RoleAdmin)
}

// RequireSuperAdmin rejects anyone who is not a super-admin
func (g *Gate) RequireSuperAdmin(ctx context.Context, actor *auth.User) error {
	if actor == nil {
		return g.deny(ctx, actor, "unauthenticated", "", apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required"))
	}
	if !g.IsSuperAdmin(actor) {
		return g.deny(ctx, actor, "not_super_admin", "",
			apperrors.Forbidden("SUPER_ADMIN_REQUIRED", "only super-admins may perform this action"))
	}
	g.allow("super_admin")
	return nil
}

// AuthorizeOrg checks that actor may act on the organization at level.
// Super-admins are always allowed.
func (g *Gate) AuthorizeOrg(ctx context.Context, actor *auth.User, orgID int64, level Level) error {
	resource := fmt.Sprint(orgID)
	switch {
	case actor == nil:
		return g.deny(ctx, actor, "unauthenticated", resource, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required"))
	case g.IsSuperAdmin(actor):
		g.allow("super_admin")
		return nil
	case !actor.BelongsTo(orgID):
		return g.deny(ctx, actor, "other_organization", resource,
			apperrors.Forbidden("NOT_ORGANIZATION_MEMBER", "you do not belong to this organization"))
	case level == LevelAdmin && !actor.HasRole(auth.RoleAdmin):
		return g.deny(ctx, actor, "not_org_admin", resource,
			apperrors.Forbidden("ORGANIZATION_ADMIN_REQUIRED", "only organization admins may perform this action"))
	}
	g.allow(level.String())
	return nil
}

// AuthorizeOwner allows a super-admin, an admin of the owning organization, or
// the owner themselves.
func (g *Gate) AuthorizeOwner(ctx context.Context, actor *auth.User, ownerID int64, orgID *int64) error {
	resource := fmt.Sprint(ownerID)
	switch {
	case actor == nil:
		return g.deny(ctx, actor, "unauthenticated", resource, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required"))
	case g.IsSuperAdmin(actor):
		g.allow("super_admin")
		return nil
	case actor.ID == ownerID:
		g.allow("owner")
		return nil
	case orgID != nil && g.IsOrgAdmin(actor, *orgID):
		g.allow("admin")
		return nil
	}
	return g.deny(ctx, actor, "not_owner", resource,
		apperrors.Forbidden("NOT_RESOURCE_OWNER", "you may not act on this resource"))
}

// CheckLogin decides whether an authenticated user may start a session.
// org is nil for users without an organization.
func (g *Gate) CheckLogin(u *auth.User, org *OrgStanding) error {
	if !u.IsActive {
		g.record("deny", "account_deactivated")
		return apperrors.Forbidden("ACCOUNT_DEACTIVATED", "your account has been deactivated")
	}
	if g.IsSuperAdmin(u) || u.HasRole(auth.RoleAdmin) || org == nil {
		g.allow("login")
		return nil
	}
	if org.Status != statusActive {
		g.record("deny", "subscription_inactive")
		return apperrors.Forbidden("SUBSCRIPTION_INACTIVE", "your organization's subscription is not active").
			WithDetail("subscription_status", org.Status)
	}
	g.allow("login")
	return nil
}

func (g *Gate) allow(reason string) {
	g.record("allow", reason)
}

func (g *Gate) deny(ctx context.Context, actor *auth.User, reason, resourceID string, err *apperrors.Error) error {
	g.record("deny", reason)

	var userID *int64
	if actor != nil {
		userID = &actor.ID
	}
	if logErr := g.audit.LogAuthorization(ctx, audit.EventTypeAuthzAccessDenied, userID,
		audit.ResourceTypeOrganization, resourceID, audit.EventStatusDenied, reason); logErr != nil {
		observability.FromContext(ctx, nil).WithError(logErr).Warn("failed to record authorization denial")
	}
	return err
}

func (g *Gate) record(decision, reason string) {
	if g.metrics != nil {
		g.metrics.AuthzDecisionsTotal.WithLabelValues(decision, reason).Inc()
	}
}
