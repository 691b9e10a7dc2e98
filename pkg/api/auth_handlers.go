package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/contextkeys"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
	"github.com/platinummonkey/dealflow/pkg/orgs"
)

// AuthHandlers handles sign-up, login and session requests
type AuthHandlers struct {
	authenticator Authenticator
	registrar     Registrar
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(authenticator Authenticator, registrar Registrar) *AuthHandlers {
	return &AuthHandlers{authenticator: authenticator, registrar: registrar}
}

// RegisterPublicRoutes registers routes reachable without a token.
// Registration is mounted by the server so it can be rate limited.
func (h *AuthHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.Login).Methods("POST")
}

// RegisterRoutes registers routes that need an authenticated caller
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/user", h.CurrentUser).Methods("GET")
	router.HandleFunc("/logout", h.Logout).Methods("POST")
}

// Register handles POST /register
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req orgs.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.registrar.Register(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, session)
}

// Login handles POST /login. Attempts are throttled per account and client address.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req authz.LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.authenticator.Login(r.Context(), req, contextkeys.GetClientIP(r.Context()))
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindRateLimited {
			w.Header().Set("Retry-After", "60")
		}
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Logout handles POST /logout
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authenticator.Logout(r.Context(), middleware.GetAuthContext(r)); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"message": "logged out"})
}

// CurrentUser handles GET /user
func (h *AuthHandlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r)
	if user == nil {
		httputil.WriteAppError(w, r, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required"))
		return
	}
	httputil.WriteSuccess(w, user)
}
