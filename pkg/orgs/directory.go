package orgs

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/rbac"
	"github.com/platinummonkey/dealflow/pkg/validation"
)

const (
	defaultPerPage = 15
	maxPerPage     = 100
)

// Directory manages organizations on behalf of an acting user
type Directory struct {
	db      *sql.DB
	store   *Store
	users   *auth.UserStore
	gate    *authz.Gate
	audit   audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewDirectory creates an organization directory. metrics may be nil.
func NewDirectory(db *sql.DB, gate *authz.Gate, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) *Directory {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Directory{
		db:      db,
		store:   NewStore(db),
		users:   auth.NewUserStore(db),
		gate:    gate,
		audit:   auditLogger,
		metrics: metrics,
		logger:  logger,
	}
}

// Store exposes the underlying store
func (d *Directory) Store() *Store {
	return d.store
}

// Create creates an organization through the administrative path.
// Super-admin only.
func (d *Directory) Create(ctx context.Context, actor *auth.User, req CreateRequest) (*Organization, error) {
	if err := d.gate.RequireSuperAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	org, err := newOrganization(req.Name, req.Profile)
	if err != nil {
		return nil, err
	}
	if err := d.store.Insert(ctx, d.db, org); err != nil {
		return nil, err
	}

	d.logMutation(ctx, audit.EventTypeOrgCreate, actor, org.ID, nil,
		map[string]interface{}{"name": org.Name, "slug": org.Slug}, "organization created")
	return org, nil
}

// newOrganization builds an organization in status new with its slug
func newOrganization(name string, profile Profile) (*Organization, error) {
	name = strings.TrimSpace(name)
	slug := Slugify(name)
	if slug == "" {
		return nil, apperrors.InvalidField("name", "the name must contain at least one letter or digit")
	}
	return &Organization{
		Name:               name,
		Slug:               slug,
		SubscriptionStatus: StatusNew,
		Industry:           profile.Industry,
		OrganizationSize:   profile.OrganizationSize,
		BusinessEmail:      profile.BusinessEmail,
		BusinessPhone:      profile.BusinessPhone,
		Website:            profile.Website,
		StreetAddress:      profile.StreetAddress,
		City:               profile.City,
		StateProvince:      profile.StateProvince,
		ZipPostalCode:      profile.ZipPostalCode,
		Country:            profile.Country,
		Timezone:           profile.Timezone,
	}, nil
}

// Get returns an organization the actor may see. Another tenant's
// organization is reported as not found.
func (d *Directory) Get(ctx context.Context, actor *auth.User, id int64) (*Organization, error) {
	return authz.Lookup[*Organization](ctx, d.gate, actor, id, "organization", d.store.Get)
}

// List returns a page of organizations for super-admins, and the caller's
// own organization for everyone else
func (d *Directory) List(ctx context.Context, actor *auth.User, filter ListFilter) (*ListResult, error) {
	if actor == nil {
		return nil, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}

	if !d.gate.IsSuperAdmin(actor) {
		if actor.OrganizationID == nil {
			return nil, apperrors.NotFound("organization")
		}
		org, err := d.store.Get(ctx, *actor.OrganizationID)
		if err != nil {
			return nil, err
		}
		return &ListResult{
			Organizations:  []*Organization{org},
			Pagination:     newPagination(1, 1, 1, 1),
			FiltersApplied: map[string]string{},
		}, nil
	}

	if filter.Status != "" && !SubscriptionStatus(filter.Status).Valid() {
		return nil, apperrors.InvalidField("subscription_status", "the selected subscription status is invalid")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = defaultPerPage
	}
	if filter.PerPage > maxPerPage {
		filter.PerPage = maxPerPage
	}
	filter.Search = strings.TrimSpace(filter.Search)

	orgs, total, err := d.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	applied := map[string]string{}
	if filter.Status != "" {
		applied["subscription_status"] = filter.Status
	}
	if filter.Search != "" {
		applied["search"] = filter.Search
	}
	return &ListResult{
		Organizations:  orgs,
		Pagination:     newPagination(filter.Page, filter.PerPage, total, len(orgs)),
		FiltersApplied: applied,
	}, nil
}

// Update changes an organization's profile. A new name recomputes the slug.
func (d *Directory) Update(ctx context.Context, actor *auth.User, id int64, req UpdateRequest) (*Organization, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, apperrors.InvalidField("name", "the name field is required")
	}
	if err := d.gate.AuthorizeOrg(ctx, actor, id, authz.LevelAdmin); err != nil {
		return nil, err
	}

	var (
		org     *Organization
		oldName string
	)
	err := database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		var err error
		org, err = d.store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		oldName = org.Name

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			slug := Slugify(name)
			if slug == "" {
				return apperrors.InvalidField("name", "the name must contain at least one letter or digit")
			}
			org.Name, org.Slug = name, slug
		}
		applyProfile(org, req)
		return d.store.Update(ctx, tx, org)
	})
	if err != nil {
		return nil, err
	}

	d.logMutation(ctx, audit.EventTypeOrgUpdate, actor, org.ID,
		map[string]interface{}{"name": oldName},
		map[string]interface{}{"name": org.Name, "slug": org.Slug},
		"organization updated")
	return org, nil
}

func applyProfile(org *Organization, req UpdateRequest) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&org.Industry, req.Industry)
	set(&org.OrganizationSize, req.OrganizationSize)
	set(&org.BusinessEmail, req.BusinessEmail)
	set(&org.BusinessPhone, req.BusinessPhone)
	set(&org.Website, req.Website)
	set(&org.StreetAddress, req.StreetAddress)
	set(&org.City, req.City)
	set(&org.StateProvince, req.StateProvince)
	set(&org.ZipPostalCode, req.ZipPostalCode)
	set(&org.Country, req.Country)
	set(&org.Timezone, req.Timezone)
}

// Delete removes an organization that no admin references any more
func (d *Directory) Delete(ctx context.Context, actor *auth.User, id int64) error {
	if err := d.gate.AuthorizeOrg(ctx, actor, id, authz.LevelAdmin); err != nil {
		return err
	}

	var name string
	err := database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		org, err := d.store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		name = org.Name

		admins, err := rbac.CountAdmins(ctx, tx, id)
		if err != nil {
			return err
		}
		if admins > 0 {
			return apperrors.PreconditionFailed("ORGANIZATION_HAS_ADMIN_USERS",
				"cannot delete an organization with admin users").
				WithDetail("admin_count", admins).
				WithDetail("organization_id", id)
		}
		return d.store.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	d.logMutation(ctx, audit.EventTypeOrgDelete, actor, id,
		map[string]interface{}{"name": name}, nil, "organization deleted")
	return nil
}

// GetStatus reports the subscription standing of the caller's organization
func (d *Directory) GetStatus(ctx context.Context, actor *auth.User) (*StatusResult, error) {
	if actor == nil {
		return nil, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}
	if d.gate.IsSuperAdmin(actor) {
		return &StatusResult{Status: StatusSuperAdmin}, nil
	}
	if actor.OrganizationID == nil {
		return nil, apperrors.NotFound("organization")
	}

	org, err := d.store.Get(ctx, *actor.OrganizationID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:           string(org.SubscriptionStatus),
		OrganizationID:   &org.ID,
		OrganizationName: org.Name,
	}, nil
}

// SetSubscriptionStatus sets an administrative status by hand
func (d *Directory) SetSubscriptionStatus(ctx context.Context, actor *auth.User, id int64, status string) (*Organization, error) {
	s := SubscriptionStatus(strings.TrimSpace(status))
	if s == "" {
		return nil, apperrors.InvalidField("subscription_status", "the subscription status field is required")
	}
	if !s.Administrative() {
		return nil, apperrors.InvalidField("subscription_status",
			"the subscription status must be one of: new, active, suspended, waiting")
	}
	if err := d.gate.AuthorizeOrg(ctx, actor, id, authz.LevelAdmin); err != nil {
		return nil, err
	}

	var (
		org    *Organization
		before SubscriptionStatus
	)
	err := database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		var err error
		org, err = d.store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		before = org.SubscriptionStatus
		if err := d.store.SetStatus(ctx, tx, id, s); err != nil {
			return err
		}
		org.SubscriptionStatus = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.recordStatus("admin", s)
	d.logMutation(ctx, audit.EventTypeOrgStatusChange, actor, id,
		map[string]interface{}{"subscription_status": before},
		map[string]interface{}{"subscription_status": s},
		"subscription status changed")
	return org, nil
}

// ApplyBillingStatus sets any status from the billing reconciler, inside its
// transaction. No actor check applies.
func (d *Directory) ApplyBillingStatus(ctx context.Context, q database.Querier, id int64, status SubscriptionStatus) error {
	if !status.Valid() {
		return apperrors.InvalidField("subscription_status", "unknown subscription status "+strconv.Quote(string(status)))
	}
	return d.store.SetStatus(ctx, q, id, status)
}

// RecordBillingStatus counts a status change applied by billing once its
// transaction has committed
func (d *Directory) RecordBillingStatus(status SubscriptionStatus) {
	d.recordStatus("billing", status)
}

// RemoveUser deactivates a member of the organization. The organization row
// is locked so two admins cannot remove each other concurrently.
func (d *Directory) RemoveUser(ctx context.Context, actor *auth.User, orgID, userID int64) error {
	if err := d.gate.AuthorizeOrg(ctx, actor, orgID, authz.LevelAdmin); err != nil {
		return err
	}

	err := database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		if _, err := d.store.GetForUpdate(ctx, tx, orgID); err != nil {
			return err
		}

		target, err := d.users.GetByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !target.BelongsTo(orgID) {
			return apperrors.NotFound("user")
		}

		if target.HasRole(auth.RoleAdmin) {
			others, err := rbac.CountOtherAdmins(ctx, tx, orgID, target.ID)
			if err != nil {
				return err
			}
			if others == 0 {
				return apperrors.PreconditionFailed("CANNOT_REMOVE_LAST_ADMIN",
					"cannot remove the only admin user from an organization").
					WithDetail("user_id", target.ID).
					WithDetail("organization_id", orgID)
			}
		}
		return d.users.Deactivate(ctx, tx, target.ID)
	})
	if err != nil {
		return err
	}

	if logErr := d.audit.LogAdminAction(ctx, audit.EventTypeOrgMemberRemove, &actor.ID, &userID,
		"user removed from organization "+strconv.FormatInt(orgID, 10)); logErr != nil {
		observability.FromContext(ctx, d.logger).WithError(logErr).Warn("failed to write audit event")
	}
	return nil
}

// Standing implements authz.StandingLookup for the login check
func (d *Directory) Standing(ctx context.Context, orgID int64) (*authz.OrgStanding, error) {
	org, err := d.store.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &authz.OrgStanding{ID: org.ID, Name: org.Name, Status: string(org.SubscriptionStatus)}, nil
}

func (d *Directory) recordStatus(source string, status SubscriptionStatus) {
	if d.metrics != nil {
		d.metrics.OrganizationStatusTotal.WithLabelValues(source, string(status)).Inc()
	}
}

func (d *Directory) logMutation(ctx context.Context, eventType audit.EventType, actor *auth.User, orgID int64,
	before, after map[string]interface{}, message string) {
	var actorID *int64
	if actor != nil {
		actorID = &actor.ID
	}
	changes := &audit.ChangeDetails{Before: before, After: after}
	if err := d.audit.LogDataMutation(ctx, eventType, actorID, audit.ResourceTypeOrganization,
		strconv.FormatInt(orgID, 10), changes, message); err != nil {
		observability.FromContext(ctx, d.logger).WithError(err).Warn("failed to write audit event")
	}
}
