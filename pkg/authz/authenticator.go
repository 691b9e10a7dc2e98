package authz

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/validation"
)

// Throttle limits login attempts per client key
type Throttle interface {
	// Allow counts an attempt and reports whether it is within the limit
	Allow(ctx context.Context, key string) (bool, error)
	// Reset clears the attempt count after a successful login
	Reset(ctx context.Context, key string) error
}

// StandingLookup resolves the organization standing used by the login check
type StandingLookup interface {
	Standing(ctx context.Context, orgID int64) (*OrgStanding, error)
}

// LoginRequest is the credential payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned on a successful login
type LoginResult struct {
	User      *auth.User     `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Org       *OrgStanding   `json:"-"`
	APIToken  *auth.APIToken `json:"-"`
}

// Authenticator runs the login and logout flows
type Authenticator struct {
	users     *auth.UserStore
	tokens    *auth.TokenStore
	gate      *Gate
	standings StandingLookup
	throttle  Throttle
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
	tokenTTL  time.Duration
	now       func() time.Time
}

// AuthenticatorConfig wires the authenticator's collaborators
type AuthenticatorConfig struct {
	Users     *auth.UserStore
	Tokens    *auth.TokenStore
	Gate      *Gate
	Standings StandingLookup
	Throttle  Throttle
	Audit     audit.Logger
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	TokenTTL  time.Duration
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	a := &Authenticator{
		users:     cfg.Users,
		tokens:    cfg.Tokens,
		gate:      cfg.Gate,
		standings: cfg.Standings,
		throttle:  cfg.Throttle,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		tokenTTL:  cfg.TokenTTL,
		now:       time.Now,
	}
	if a.audit == nil {
		a.audit = audit.NopLogger()
	}
	if a.logger == nil {
		a.logger = observability.NopLogger()
	}
	return a
}

// Login verifies credentials and issues a bearer token. Attempts are
// throttled per account and clientKey, usually the client address.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest, clientKey string) (*LoginResult, error) {
	logger := observability.FromContext(ctx, a.logger)

	if err := validation.Struct(req); err != nil {
		a.count("invalid")
		return nil, err
	}

	throttleKey := loginThrottleKey(req.Email, clientKey)
	if a.throttle != nil {
		allowed, err := a.throttle.Allow(ctx, throttleKey)
		if err != nil {
			logger.WithError(err).Warn("login throttle unavailable, allowing attempt")
		} else if !allowed {
			a.count("throttled")
			return nil, apperrors.RateLimited("too many login attempts, please try again later")
		}
	}

	user, err := a.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if user == nil || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		a.count("invalid_credentials")
		var userID *int64
		if user != nil {
			userID = &user.ID
		}
		a.logAudit(ctx, audit.EventTypeAuthLoginFailed, userID, req.Email, audit.EventStatusFailure, "invalid credentials")
		return nil, apperrors.Unauthenticated("INVALID_CREDENTIALS", "the provided credentials are incorrect")
	}

	var standing *OrgStanding
	if user.OrganizationID != nil {
		standing, err = a.standings.Standing(ctx, *user.OrganizationID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	if err := a.gate.CheckLogin(user, standing); err != nil {
		code := ""
		if appErr, ok := apperrors.As(err); ok {
			code = appErr.Code
		}
		a.count(code)
		a.logAudit(ctx, audit.EventTypeAuthLoginFailed, &user.ID, user.Email, audit.EventStatusDenied, code)
		return nil, err
	}

	token, plaintext, err := a.tokens.Issue(ctx, user.ID, "login", a.tokenTTL)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if err := a.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		logger.WithError(err).Warn("failed to record last login")
	} else {
		user.LastLoginAt = &now
	}

	if a.throttle != nil {
		if err := a.throttle.Reset(ctx, throttleKey); err != nil {
			logger.WithError(err).Warn("failed to reset login throttle")
		}
	}

	a.count("success")
	a.logAudit(ctx, audit.EventTypeAuthLogin, &user.ID, user.Email, audit.EventStatusSuccess, "login")

	return &LoginResult{
		User:      user,
		Token:     plaintext,
		ExpiresAt: token.ExpiresAt,
		Org:       standing,
		APIToken:  token,
	}, nil
}

// Logout revokes the token the request authenticated with
func (a *Authenticator) Logout(ctx context.Context, authCtx *auth.AuthContext) error {
	if authCtx == nil || authCtx.User == nil || authCtx.Token == nil {
		return apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}
	if err := a.tokens.Revoke(ctx, authCtx.Token.ID); err != nil {
		return err
	}
	tokenID := strconv.FormatInt(authCtx.Token.ID, 10)
	if err := a.audit.LogDataMutation(ctx, audit.EventTypeAuthLogout, &authCtx.User.ID, audit.ResourceTypeToken, tokenID,
		&audit.ChangeDetails{After: map[string]interface{}{"revoked": true, "token_prefix": authCtx.Token.TokenPrefix}},
		"logout"); err != nil {
		observability.FromContext(ctx, a.logger).WithError(err).Warn("failed to write audit event")
	}
	return nil
}

func loginThrottleKey(email, clientKey string) string {
	return "login:" + auth.NormalizeEmail(email) + ":" + clientKey
}

func (a *Authenticator) count(outcome string) {
	if a.metrics != nil {
		a.metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func (a *Authenticator) logAudit(ctx context.Context, eventType audit.EventType, userID *int64, email string, status audit.EventStatus, message string) {
	if err := a.audit.LogAuthentication(ctx, eventType, userID, email, status, message); err != nil {
		observability.FromContext(ctx, a.logger).WithError(err).Warn("failed to write audit event")
	}
}
