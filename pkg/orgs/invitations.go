package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/notify"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/rbac"
	"github.com/platinummonkey/dealflow/pkg/validation"
)

// InvitationsConfig wires the invitation workflow
type InvitationsConfig struct {
	DB       *sql.DB
	Gate     *authz.Gate
	Roles    *rbac.Store
	Tokens   *auth.TokenStore
	Notifier notify.Notifier
	Audit    audit.Logger
	Metrics  *observability.Metrics
	Logger   *observability.Logger
	TokenTTL time.Duration
}

// Invitations runs the invite, validate and accept flow
type Invitations struct {
	db       *sql.DB
	orgs     *Store
	users    *auth.UserStore
	roles    *rbac.Store
	tokens   *auth.TokenStore
	gate     *authz.Gate
	notifier notify.Notifier
	audit    audit.Logger
	metrics  *observability.Metrics
	logger   *observability.Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewInvitations creates the invitation workflow
func NewInvitations(cfg InvitationsConfig) *Invitations {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier("", cfg.Logger)
	}
	return &Invitations{
		db:       cfg.DB,
		orgs:     NewStore(cfg.DB),
		users:    auth.NewUserStore(cfg.DB),
		roles:    cfg.Roles,
		tokens:   cfg.Tokens,
		gate:     cfg.Gate,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		tokenTTL: cfg.TokenTTL,
		now:      time.Now,
	}
}

// Create invites an email address into the actor's organization with one
// role. The invitation is stored before the notification is sent; a failed
// notification is reported but does not undo the invitation.
func (s *Invitations) Create(ctx context.Context, actor *auth.User, req CreateInvitationRequest) (*CreatedInvitation, error) {
	if actor == nil {
		return nil, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}
	super := s.gate.IsSuperAdmin(actor)
	if !super && !actor.HasRole(auth.RoleAdmin) {
		return nil, apperrors.Forbidden("ORGANIZATION_ADMIN_REQUIRED", "only organization admins may send invitations")
	}
	if actor.OrganizationID == nil {
		return nil, apperrors.PreconditionFailed("NO_ORGANIZATION", "you must belong to an organization to send invitations")
	}
	req.Email = auth.NormalizeEmail(req.Email)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	role, err := s.roles.GetRoleByID(ctx, s.db, req.RoleID)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil, apperrors.InvalidReference("INVALID_ROLE", "the selected role does not exist").
			WithDetail("role_id", req.RoleID)
	}
	if err != nil {
		return nil, err
	}
	if !super && role.Name == auth.RoleSuperAdmin {
		return nil, apperrors.Forbidden("SUPER_ADMIN_GRANT_FORBIDDEN", "only super-admins may invite super-admins")
	}

	existing, err := s.findByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.count("create", "duplicate")
		return nil, duplicateInvitation(req.Email).
			WithDetail("existing_invitation_id", existing.ID).
			WithDetail("existing_invitation_created", existing.CreatedAt.UTC().Format(time.RFC3339))
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}
	inv := &Invitation{
		Email:          req.Email,
		RoleID:         role.ID,
		OrganizationID: *actor.OrganizationID,
		Token:          token,
		InvitedBy:      &actor.ID,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (email, role_id, organization_id, token, invited_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, inv.Email, inv.RoleID, inv.OrganizationID, inv.Token, inv.InvitedBy).Scan(&inv.ID, &inv.CreatedAt)
	if database.IsUniqueViolation(err, "invitations_email_key") {
		s.count("create", "duplicate")
		return nil, duplicateInvitation(req.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	s.count("create", "success")

	logger := observability.FromContext(ctx, s.logger).WithFields(map[string]interface{}{
		"invitation_id":   inv.ID,
		"organization_id": inv.OrganizationID,
	})
	sent := s.send(ctx, logger, actor, inv, role)

	if err := s.audit.LogDataMutation(ctx, audit.EventTypeInvitationCreate, &actor.ID, audit.ResourceTypeInvitation,
		strconv.FormatInt(inv.ID, 10), &audit.ChangeDetails{After: map[string]interface{}{
			"email": inv.Email, "role": role.Name, "organization_id": inv.OrganizationID,
		}}, "invitation created"); err != nil {
		logger.WithError(err).Warn("failed to write audit event")
	}

	return &CreatedInvitation{
		InvitationID:     inv.ID,
		Email:            inv.Email,
		Role:             role.Name,
		CreatedAt:        inv.CreatedAt,
		NotificationSent: sent,
	}, nil
}

func (s *Invitations) send(ctx context.Context, logger *observability.Logger, actor *auth.User, inv *Invitation, role *rbac.Role) bool {
	org, err := s.orgs.Get(ctx, inv.OrganizationID)
	if err != nil {
		logger.WithError(err).Warn("failed to load organization for invitation mail")
		s.count("notify", "failure")
		return false
	}

	err = s.notifier.SendInvitation(ctx, notify.Invitation{
		Email:            inv.Email,
		Token:            inv.Token,
		RoleName:         role.Name,
		RoleLabel:        role.Label,
		OrganizationName: org.Name,
		InvitedBy:        actor.FullName(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to send invitation")
		s.count("notify", "failure")
		return false
	}
	s.count("notify", "success")
	return true
}

func duplicateInvitation(email string) *apperrors.Error {
	return apperrors.Conflict("INVITATION_ALREADY_EXISTS", "an invitation has already been sent to this email address").
		WithDetail("email", email)
}

func (s *Invitations) findByEmail(ctx context.Context, email string) (*Invitation, error) {
	var inv Invitation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM invitations WHERE email = $1`, email,
	).Scan(&inv.ID, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}
	return &inv, nil
}

// ValidateToken describes the invitation behind token without consuming it
func (s *Invitations) ValidateToken(ctx context.Context, token string) (*InvitationDetails, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.InvalidField("token", "the invitation token is required").WithCode("MISSING_TOKEN")
	}

	details := &InvitationDetails{}
	err := s.db.QueryRowContext(ctx, `
		SELECT i.email, r.name, r.label, o.id, o.name, i.token
		FROM invitations i
		JOIN roles r ON r.id = i.role_id
		JOIN organizations o ON o.id = i.organization_id
		WHERE i.token = $1
	`, token).Scan(&details.Email, &details.Role, &details.RoleLabel,
		&details.Organization.ID, &details.Organization.Name, &details.Token)
	if errors.Is(err, sql.ErrNoRows) {
		s.count("validate", "invalid")
		return nil, invalidToken()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate invitation: %w", err)
	}
	s.count("validate", "success")
	return details, nil
}

func invalidToken() *apperrors.Error {
	return apperrors.NotFound("invitation").WithCode("INVALID_INVITATION_TOKEN")
}

// Accept creates the invitee's account in the inviting organization with
// exactly the invited role, consumes the invitation and signs the user in.
// The invitation row is locked so a token can be used only once.
func (s *Invitations) Accept(ctx context.Context, req AcceptRequest) (*Session, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	var (
		user *auth.User
		inv  Invitation
	)
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id, email, role_id, organization_id
			FROM invitations
			WHERE token = $1
			FOR UPDATE
		`, strings.TrimSpace(req.Token)).Scan(&inv.ID, &inv.Email, &inv.RoleID, &inv.OrganizationID)
		if errors.Is(err, sql.ErrNoRows) {
			return invalidToken()
		}
		if err != nil {
			return fmt.Errorf("failed to load invitation: %w", err)
		}

		orgID := inv.OrganizationID
		user = &auth.User{
			Email:          inv.Email,
			PasswordHash:   hash,
			FirstName:      strings.TrimSpace(req.FirstName),
			LastName:       strings.TrimSpace(req.LastName),
			Phone:          strings.TrimSpace(req.Phone),
			OrganizationID: &orgID,
			IsActive:       true,
		}
		if err := s.users.Create(ctx, tx, user); err != nil {
			return err
		}
		if err := s.roles.AssignRole(ctx, tx, user.ID, inv.RoleID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1`, inv.ID); err != nil {
			return fmt.Errorf("failed to consume invitation: %w", err)
		}
		user.Roles, err = auth.RoleNames(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		if apperrors.KindOf(err) != "" {
			s.count("accept", "rejected")
		}
		return nil, err
	}
	s.count("accept", "success")

	if logErr := s.audit.LogDataMutation(ctx, audit.EventTypeInvitationAccept, &user.ID, audit.ResourceTypeInvitation,
		strconv.FormatInt(inv.ID, 10), &audit.ChangeDetails{After: map[string]interface{}{
			"user_id": user.ID, "organization_id": inv.OrganizationID, "roles": user.Roles,
		}}, "invitation accepted"); logErr != nil {
		observability.FromContext(ctx, s.logger).WithError(logErr).Warn("failed to write audit event")
	}

	logger := observability.FromContext(ctx, s.logger)
	session := newSession(ctx, s.tokens, logger, user, nil, "invitation", s.tokenTTL)
	if session.Organization, err = s.orgs.Get(ctx, inv.OrganizationID); err != nil {
		logger.WithError(err).WithField("organization_id", inv.OrganizationID).
			Warn("failed to reload organization after accepting invitation")
	}
	return session, nil
}

// PurgeStale deletes invitations created more than olderThan ago and returns
// how many were removed
func (s *Invitations) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged invitations: %w", err)
	}
	if n > 0 {
		s.count("purge", "success")
	}
	return n, nil
}

func (s *Invitations) count(action, outcome string) {
	if s.metrics != nil {
		s.metrics.InvitationsTotal.WithLabelValues(action, outcome).Inc()
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
