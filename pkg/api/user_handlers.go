package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
	"github.com/platinummonkey/dealflow/pkg/orgs"
)

// UserHandlers handles user management requests
type UserHandlers struct {
	members MemberService
}

// NewUserHandlers creates a new UserHandlers
func NewUserHandlers(members MemberService) *UserHandlers {
	return &UserHandlers{members: members}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users/{id:[0-9]+}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id:[0-9]+}/status", h.UpdateStatus).Methods("PATCH")
	router.HandleFunc("/users/{id:[0-9]+}/profile", h.UpdateProfile).Methods("PUT")
}

// ListUsers handles GET /users
func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r, defaultOrgsPerPage, maxOrgsPerPage)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	filter := orgs.MemberFilter{
		Role:    httputil.ParseQueryString(r, "role", ""),
		Status:  httputil.ParseQueryString(r, "status", ""),
		Search:  httputil.ParseQueryString(r, "search", ""),
		Page:    page.Page,
		PerPage: page.PerPage,
	}
	if raw := r.URL.Query().Get("organization_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteAppError(w, r, apperrors.InvalidField("organization_id", "the organization id must be an integer"))
			return
		}
		filter.OrganizationID = &id
	}

	result, err := h.members.List(r.Context(), middleware.CurrentUser(r), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// GetUser handles GET /users/{id}
func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.members.Get(r.Context(), middleware.CurrentUser(r), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateStatus handles PATCH /users/{id}/status
func (h *UserHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req orgs.UpdateStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.members.UpdateStatus(r.Context(), middleware.CurrentUser(r), id, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateProfile handles PUT /users/{id}/profile
func (h *UserHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req orgs.UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.members.UpdateProfile(r.Context(), middleware.CurrentUser(r), id, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}
