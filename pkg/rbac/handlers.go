package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	registry *Registry
}

// NewHandlers creates new RBAC handlers
func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// RegisterRoutes registers all RBAC routes. The router must already run the
// authentication middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	checker := h.registry.Checker()

	router.Handle("/rbac/roles",
		RequirePermission(checker, PermissionViewRoles)(http.HandlerFunc(h.ListRoles))).Methods("GET")
	router.HandleFunc("/rbac/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/rbac/roles/{name}/permissions", h.SetRolePermissions).Methods("PUT")

	router.HandleFunc("/rbac/users/{id}/roles", h.SetUserRoles).Methods("PUT")
	router.HandleFunc("/rbac/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
}

// ListRoles lists roles visible to the caller
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.ListRoles(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles":       roles,
		"total_roles": len(roles),
	})
}

// ListPermissions returns the grouped permission matrix
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.registry.ListPermissionsGrouped(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

// SetRolePermissions replaces a role's permissions
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.registry.SetRolePermissions(r.Context(), middleware.CurrentUser(r),
		httputil.ParsePathString(r, "name"), req.Permissions)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// SetUserRoles replaces a user's roles
func (h *Handlers) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Roles []string `json:"roles"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.registry.SetUserRoles(r.Context(), middleware.CurrentUser(r), userID, req.Roles)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// GetUserPermissions returns a user's effective permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.registry.UserPermissions(r.Context(), middleware.CurrentUser(r), userID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": perms,
	})
}
