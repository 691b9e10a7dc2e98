package orgs

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/rbac"
	"github.com/platinummonkey/dealflow/pkg/validation"
)

// CustomerProvisioner creates the payment provider customer for a new
// account and returns its id
type CustomerProvisioner interface {
	CreateCustomer(ctx context.Context, email, name string, organizationID int64) (string, error)
}

// RegistrarConfig wires tenant self-registration
type RegistrarConfig struct {
	DB        *sql.DB
	Roles     *rbac.Registry
	Tokens    *auth.TokenStore
	Customers CustomerProvisioner
	Audit     audit.Logger
	Logger    *observability.Logger
	TokenTTL  time.Duration
}

// Registrar signs up a new organization together with its first admin
type Registrar struct {
	db        *sql.DB
	orgs      *Store
	users     *auth.UserStore
	roles     *rbac.Registry
	tokens    *auth.TokenStore
	customers CustomerProvisioner
	audit     audit.Logger
	logger    *observability.Logger
	tokenTTL  time.Duration
}

// NewRegistrar creates a registrar. Customers may be nil when billing is not
// configured.
func NewRegistrar(cfg RegistrarConfig) *Registrar {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Registrar{
		db:        cfg.DB,
		orgs:      NewStore(cfg.DB),
		users:     auth.NewUserStore(cfg.DB),
		roles:     cfg.Roles,
		tokens:    cfg.Tokens,
		customers: cfg.Customers,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		tokenTTL:  cfg.TokenTTL,
	}
}

// Register creates the organization (status new), the user and its admin role
// in one transaction, then provisions the payment customer and issues a
// token. Provider and token failures are logged and leave the registration
// in place.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	req.Email = auth.NormalizeEmail(req.Email)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	org, err := newOrganization(req.OrganizationName, Profile{})
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &auth.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        strings.TrimSpace(req.Phone),
		IsActive:     true,
	}
	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.orgs.Insert(ctx, tx, org); err != nil {
			return err
		}
		user.OrganizationID = &org.ID
		if err := r.users.Create(ctx, tx, user); err != nil {
			return err
		}
		if err := r.roles.AssignRoleByName(ctx, tx, user.ID, auth.RoleAdmin); err != nil {
			return err
		}
		user.Roles = []string{auth.RoleAdmin}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx, r.logger).WithFields(map[string]interface{}{
		"user_id":         user.ID,
		"organization_id": org.ID,
	})
	r.provisionCustomer(ctx, logger, user, org.ID)

	if err := r.audit.LogDataMutation(ctx, audit.EventTypeAuthRegister, &user.ID, audit.ResourceTypeOrganization,
		strconv.FormatInt(org.ID, 10), &audit.ChangeDetails{After: map[string]interface{}{
			"organization": org.Name, "email": user.Email,
		}}, "organization registered"); err != nil {
		logger.WithError(err).Warn("failed to write audit event")
	}

	return newSession(ctx, r.tokens, logger, user, org, "registration", r.tokenTTL), nil
}

func (r *Registrar) provisionCustomer(ctx context.Context, logger *observability.Logger, user *auth.User, orgID int64) {
	if r.customers == nil {
		return
	}
	customerID, err := r.customers.CreateCustomer(ctx, user.Email, user.FullName(), orgID)
	if err != nil {
		logger.WithError(err).Warn("failed to create payment customer; registration kept")
		return
	}
	if err := r.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		logger.WithError(err).Warn("failed to store payment customer id")
		return
	}
	user.StripeCustomerID = customerID
}

// newSession signs the user in once their account is committed. A token
// failure is logged and yields a session without a token; the caller can
// still sign in with the password.
func newSession(ctx context.Context, tokens *auth.TokenStore, logger *observability.Logger, user *auth.User,
	org *Organization, name string, ttl time.Duration) *Session {
	session := &Session{User: user, Organization: org}
	apiToken, plaintext, err := tokens.Issue(ctx, user.ID, name, ttl)
	if err != nil {
		logger.WithError(err).WithField("user_id", user.ID).Error("account created but token issuance failed")
		return session
	}
	session.Token, session.ExpiresAt = plaintext, apiToken.ExpiresAt
	return session
}
