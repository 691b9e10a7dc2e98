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

// MemberFilter narrows a user listing. OrganizationID is honoured for
// super-admins only; everyone else sees their own organization.
type MemberFilter struct {
	OrganizationID *int64
	Role           string
	Status         string
	Search         string
	Page           int
	PerPage        int
}

// MemberList is a page of users
type MemberList struct {
	Users          []*auth.User      `json:"users"`
	Pagination     Pagination        `json:"pagination"`
	FiltersApplied map[string]string `json:"filters_applied"`
}

// UpdateStatusRequest activates or deactivates an account
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

// UpdateProfileRequest edits a user's profile. Nil fields are left untouched.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=255"`
	LastName  *string `json:"last_name" validate:"omitempty,max=255"`
	Phone     *string `json:"phone" validate:"omitempty,max=255"`
}

// Members manages the user accounts of organizations
type Members struct {
	db     *sql.DB
	store  *Store
	users  *auth.UserStore
	gate   *authz.Gate
	audit  audit.Logger
	logger *observability.Logger
}

// NewMembers creates the member service
func NewMembers(db *sql.DB, gate *authz.Gate, auditLogger audit.Logger, logger *observability.Logger) *Members {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Members{
		db:     db,
		store:  NewStore(db),
		users:  auth.NewUserStore(db),
		gate:   gate,
		audit:  auditLogger,
		logger: logger,
	}
}

// List returns a page of users. Super-admins list across organizations;
// members list their own organization.
func (m *Members) List(ctx context.Context, actor *auth.User, filter MemberFilter) (*MemberList, error) {
	if actor == nil {
		return nil, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}

	query := auth.UserFilter{
		Role:    strings.TrimSpace(filter.Role),
		Status:  strings.TrimSpace(filter.Status),
		Search:  strings.TrimSpace(filter.Search),
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}
	if m.gate.IsSuperAdmin(actor) {
		query.OrganizationID = filter.OrganizationID
	} else {
		if actor.OrganizationID == nil {
			return nil, apperrors.Forbidden("NOT_ORGANIZATION_MEMBER", "you do not belong to an organization")
		}
		if err := m.gate.AuthorizeOrg(ctx, actor, *actor.OrganizationID, authz.LevelMember); err != nil {
			return nil, err
		}
		query.OrganizationID = actor.OrganizationID
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 {
		query.PerPage = defaultPerPage
	}
	if query.PerPage > maxPerPage {
		query.PerPage = maxPerPage
	}

	users, total, err := m.users.List(ctx, query)
	if err != nil {
		return nil, err
	}

	applied := map[string]string{}
	if query.OrganizationID != nil && m.gate.IsSuperAdmin(actor) {
		applied["organization_id"] = strconv.FormatInt(*query.OrganizationID, 10)
	}
	if query.Role != "" {
		applied["role"] = query.Role
	}
	if query.Status != "" {
		applied["status"] = query.Status
	}
	if query.Search != "" {
		applied["search"] = query.Search
	}
	return &MemberList{
		Users:          users,
		Pagination:     newPagination(query.Page, query.PerPage, total, len(users)),
		FiltersApplied: applied,
	}, nil
}

// Get loads a user visible to actor. Users of another organization are
// reported as not found.
func (m *Members) Get(ctx context.Context, actor *auth.User, id int64) (*auth.User, error) {
	return authz.Lookup[*auth.User](ctx, m.gate, actor, id, "user", m.users.GetByID)
}

// UpdateStatus activates or deactivates a user. Organization admins act on
// their own organization only and never on a super-admin. Deactivating the
// organization's only admin-role holder is refused.
func (m *Members) UpdateStatus(ctx context.Context, actor *auth.User, id int64, req UpdateStatusRequest) (*auth.User, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	target, err := m.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if !m.gate.IsSuperAdmin(actor) {
		if target.OrganizationID == nil {
			return nil, apperrors.NotFound("user")
		}
		if err := m.gate.AuthorizeOrg(ctx, actor, *target.OrganizationID, authz.LevelAdmin); err != nil {
			return nil, err
		}
		if m.gate.IsSuperAdmin(target) {
			return nil, apperrors.Forbidden("SUPER_ADMIN_PROTECTED", "only super-admins may change the status of a super-admin")
		}
	}

	active := req.Status == auth.StatusActive
	before := target.Status
	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		if !active && target.OrganizationID != nil && target.HasRole(auth.RoleAdmin) {
			if err := m.requireOtherAdmin(ctx, tx, *target.OrganizationID, target.ID); err != nil {
				return err
			}
		}
		return m.users.SetStatus(ctx, tx, target.ID, req.Status, active)
	})
	if err != nil {
		return nil, err
	}
	target.Status, target.IsActive = req.Status, active

	m.logChange(ctx, audit.EventTypeUserStatusChange, actor, target.ID,
		map[string]interface{}{"status": before},
		map[string]interface{}{"status": target.Status},
		"user status updated")
	return target, nil
}

// UpdateProfile edits a user's name and phone. Allowed for the user, an admin
// of their organization, or a super-admin.
func (m *Members) UpdateProfile(ctx context.Context, actor *auth.User, id int64, req UpdateProfileRequest) (*auth.User, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	fields := map[string]string{}
	if req.FirstName != nil && strings.TrimSpace(*req.FirstName) == "" {
		fields["first_name"] = "the first name field is required"
	}
	if req.LastName != nil && strings.TrimSpace(*req.LastName) == "" {
		fields["last_name"] = "the last name field is required"
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(fields)
	}

	target, err := m.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := m.gate.AuthorizeOwner(ctx, actor, target.ID, target.OrganizationID); err != nil {
		return nil, err
	}

	before := map[string]interface{}{"first_name": target.FirstName, "last_name": target.LastName, "phone": target.Phone}
	if req.FirstName != nil {
		target.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		target.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Phone != nil {
		target.Phone = strings.TrimSpace(*req.Phone)
	}
	if err := m.users.UpdateProfile(ctx, target); err != nil {
		return nil, err
	}

	m.logChange(ctx, audit.EventTypeUserProfileEdit, actor, target.ID, before,
		map[string]interface{}{"first_name": target.FirstName, "last_name": target.LastName, "phone": target.Phone},
		"user profile updated")
	return target, nil
}

// requireOtherAdmin locks the organization row and fails when userID is its
// only admin-role holder
func (m *Members) requireOtherAdmin(ctx context.Context, tx *sql.Tx, orgID, userID int64) error {
	if _, err := m.store.GetForUpdate(ctx, tx, orgID); err != nil {
		return err
	}
	others, err := rbac.CountOtherAdmins(ctx, tx, orgID, userID)
	if err != nil {
		return err
	}
	if others == 0 {
		return apperrors.PreconditionFailed("CANNOT_REMOVE_LAST_ADMIN",
			"cannot deactivate the only admin user of an organization").
			WithDetail("user_id", userID).
			WithDetail("organization_id", orgID)
	}
	return nil
}

func (m *Members) logChange(ctx context.Context, eventType audit.EventType, actor *auth.User, userID int64,
	before, after map[string]interface{}, message string) {
	changes := &audit.ChangeDetails{Before: before, After: after}
	if err := m.audit.LogDataMutation(ctx, eventType, &actor.ID, audit.ResourceTypeUser,
		strconv.FormatInt(userID, 10), changes, message); err != nil {
		observability.FromContext(ctx, m.logger).WithError(err).Warn("failed to write audit event")
	}
}
