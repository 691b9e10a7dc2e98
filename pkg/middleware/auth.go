package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/contextkeys"
	"github.com/platinummonkey/dealflow/pkg/httputil"
)

// TokenValidator resolves a plaintext bearer token
type TokenValidator interface {
	Validate(ctx context.Context, plaintext string) (*auth.APIToken, error)
}

// UserLoader loads the token owner with its current roles
type UserLoader interface {
	GetByID(ctx context.Context, id int64) (*auth.User, error)
}

// AuthMiddleware authenticates requests carrying a bearer token
type AuthMiddleware struct {
	tokens TokenValidator
	users  UserLoader
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, users UserLoader) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handler wraps an HTTP handler with authentication. The user and roles are
// reloaded on every request so role and status changes apply immediately.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteAppError(w, r, apperrors.Unauthenticated("UNAUTHENTICATED", "missing authorization header"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteAppError(w, r, apperrors.Unauthenticated("UNAUTHENTICATED", "invalid authorization header format"))
			return
		}

		apiToken, err := m.tokens.Validate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}

		user, err := m.users.GetByID(r.Context(), apiToken.UserID)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				err = apperrors.Unauthenticated("INVALID_TOKEN", "invalid token")
			}
			httputil.WriteAppError(w, r, err)
			return
		}
		if !user.IsActive {
			httputil.WriteAppError(w, r, apperrors.Forbidden("ACCOUNT_DEACTIVATED", "your account has been deactivated"))
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: user, Token: apiToken})
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// CurrentUser returns the authenticated user, or nil
func CurrentUser(r *http.Request) *auth.User {
	if authCtx := GetAuthContext(r); authCtx != nil {
		return authCtx.User
	}
	return nil
}

// RequireSuperAdmin rejects callers the gate does not consider super-admins
func RequireSuperAdmin(gate *authz.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gate.RequireSuperAdmin(r.Context(), CurrentUser(r)); err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
