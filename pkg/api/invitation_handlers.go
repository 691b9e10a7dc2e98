package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
	"github.com/platinummonkey/dealflow/pkg/orgs"
)

// InvitationHandlers handles the invitation workflow
type InvitationHandlers struct {
	invitations InvitationService
}

// NewInvitationHandlers creates invitation handlers
func NewInvitationHandlers(invitations InvitationService) *InvitationHandlers {
	return &InvitationHandlers{invitations: invitations}
}

// RegisterPublicRoutes registers the invitee side of the workflow
func (h *InvitationHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/validate-invitation", h.Validate).Methods("GET")
	router.HandleFunc("/invitee-register", h.Accept).Methods("POST")
}

// RegisterRoutes registers the inviter side of the workflow
func (h *InvitationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitations", h.Create).Methods("POST")
}

// Create handles POST /invitations
func (h *InvitationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	created, err := h.invitations.Create(r.Context(), middleware.CurrentUser(r), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// Validate handles GET /validate-invitation?token=
func (h *InvitationHandlers) Validate(w http.ResponseWriter, r *http.Request) {
	details, err := h.invitations.ValidateToken(r.Context(), httputil.ParseQueryString(r, "token", ""))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, details)
}

// Accept handles POST /invitee-register
func (h *InvitationHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	var req orgs.AcceptRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.invitations.Accept(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, session)
}
