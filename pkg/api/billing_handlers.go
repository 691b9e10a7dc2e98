package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/billing"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
)

// BillingHandlers handles subscription purchase and billing portal requests
type BillingHandlers struct {
	billing BillingService
}

// NewBillingHandlers creates billing handlers
func NewBillingHandlers(service BillingService) *BillingHandlers {
	return &BillingHandlers{billing: service}
}

// RegisterRoutes registers billing routes. Everything except the package
// list needs the caller to belong to an organization.
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscription-packs", h.ListPackages).Methods("GET")

	withOrg := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireOrganization(fn)
	}
	router.Handle("/create-checkout-session", withOrg(h.CreateCheckoutSession)).Methods("POST")
	router.Handle("/create-customer-portal-session", withOrg(h.CreatePortalSession)).Methods("POST")
	router.Handle("/invoices", withOrg(h.ListInvoices)).Methods("GET")
	router.Handle("/current-subscription", withOrg(h.CurrentSubscription)).Methods("GET")
}

// ListPackages handles GET /subscription-packs
func (h *BillingHandlers) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.billing.ListPackages(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"packages": packages})
}

// CreateCheckoutSession handles POST /create-checkout-session
func (h *BillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req billing.CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	redirect, err := h.billing.CreateCheckoutSession(r.Context(), middleware.CurrentUser(r), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, redirect)
}

// CreatePortalSession handles POST /create-customer-portal-session. The body
// is optional.
func (h *BillingHandlers) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	var req billing.PortalRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	redirect, err := h.billing.CreatePortalSession(r.Context(), middleware.CurrentUser(r), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, redirect)
}

// ListInvoices handles GET /invoices
func (h *BillingHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.billing.ListInvoices(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invoices": invoices})
}

// CurrentSubscription handles GET /current-subscription
func (h *BillingHandlers) CurrentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.GetSubscription(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// WebhookHandlers receives signed provider events
type WebhookHandlers struct {
	webhooks WebhookHandler
}

// NewWebhookHandlers creates webhook handlers
func NewWebhookHandlers(webhooks WebhookHandler) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// RegisterRoutes registers the public webhook endpoint
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/stripe/webhook", h.Receive).Methods("POST")
}

// Receive handles POST /stripe/webhook. The raw body is needed for the
// signature check, so it is read before any decoding.
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteAppError(w, r, apperrors.InvalidField("body", "the request body could not be read"))
		return
	}

	result, err := h.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(billing.SignatureHeaderName))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
