package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
	"github.com/platinummonkey/dealflow/pkg/orgs"
)

const (
	defaultOrgsPerPage = 15
	maxOrgsPerPage     = 100
)

// OrgHandlers handles organization-related HTTP requests
type OrgHandlers struct {
	orgs OrgDirectory
}

// NewOrgHandlers creates a new OrgHandlers
func NewOrgHandlers(directory OrgDirectory) *OrgHandlers {
	return &OrgHandlers{orgs: directory}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.ListOrganizations).Methods("GET")
	router.HandleFunc("/organizations", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/organizations/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/organizations/{id:[0-9]+}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/organizations/{id:[0-9]+}", h.UpdateOrganization).Methods("PUT")
	router.HandleFunc("/organizations/{id:[0-9]+}", h.DeleteOrganization).Methods("DELETE")
	router.HandleFunc("/organizations/{id:[0-9]+}/subscription-status", h.SetSubscriptionStatus).Methods("PATCH")

	// Members
	router.HandleFunc("/organizations/{id:[0-9]+}/users/{user_id:[0-9]+}", h.RemoveUser).Methods("DELETE")
}

// ListOrganizations handles GET /organizations
func (h *OrgHandlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r, defaultOrgsPerPage, maxOrgsPerPage)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	result, err := h.orgs.List(r.Context(), middleware.CurrentUser(r), orgs.ListFilter{
		Status:  httputil.ParseQueryString(r, "subscription_status", ""),
		Search:  httputil.ParseQueryString(r, "search", ""),
		Page:    page.Page,
		PerPage: page.PerPage,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// CreateOrganization handles POST /organizations
func (h *OrgHandlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.orgs.Create(r.Context(), middleware.CurrentUser(r), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// GetStatus handles GET /organizations/status
func (h *OrgHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orgs.GetStatus(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// GetOrganization handles GET /organizations/{id}
func (h *OrgHandlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	org, err := h.orgs.Get(r.Context(), middleware.CurrentUser(r), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// UpdateOrganization handles PUT /organizations/{id}
func (h *OrgHandlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req orgs.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.orgs.Update(r.Context(), middleware.CurrentUser(r), id, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// DeleteOrganization handles DELETE /organizations/{id}
func (h *OrgHandlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.orgs.Delete(r.Context(), middleware.CurrentUser(r), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetSubscriptionStatus handles PATCH /organizations/{id}/subscription-status
func (h *OrgHandlers) SetSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		SubscriptionStatus string `json:"subscription_status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.orgs.SetSubscriptionStatus(r.Context(), middleware.CurrentUser(r), id, req.SubscriptionStatus)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// RemoveUser handles DELETE /organizations/{id}/users/{user_id}
func (h *OrgHandlers) RemoveUser(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.orgs.RemoveUser(r.Context(), middleware.CurrentUser(r), orgID, userID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
