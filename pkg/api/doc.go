// Package api assembles the dealflow HTTP API.
//
// # Overview
//
// The router is built on gorilla/mux. Handlers stay thin: each one parses
// the request, calls a domain service from pkg/orgs, pkg/authz or
// pkg/billing, and renders the result with pkg/httputil. Every decision
// about who may do what is made by the services, never by a handler.
//
// # Routes
//
// Public:
//
//	POST   /api/register                                   - Sign up an organization and its first admin
//	POST   /api/login                                      - Exchange credentials for a bearer token
//	GET    /api/validate-invitation?token=                 - Describe a pending invitation
//	POST   /api/invitee-register                           - Accept an invitation
//	POST   /api/stripe/webhook                             - Signed billing provider events
//
// Authenticated (Authorization: Bearer <token>):
//
//	GET    /api/user                                       - Current user
//	POST   /api/logout                                     - Revoke the current token
//	POST   /api/invitations                                - Invite someone into the caller's organization
//	GET    /api/organizations                              - List organizations
//	POST   /api/organizations                              - Create an organization (super-admin)
//	GET    /api/organizations/status                       - Caller's subscription standing
//	GET    /api/organizations/{id}                         - Get an organization
//	PUT    /api/organizations/{id}                         - Update an organization
//	DELETE /api/organizations/{id}                         - Delete an organization
//	PATCH  /api/organizations/{id}/subscription-status     - Set an administrative status
//	DELETE /api/organizations/{id}/users/{user_id}         - Deactivate a member
//	GET    /api/subscription-packs                         - Purchasable packages
//	POST   /api/create-checkout-session                    - Start a hosted checkout
//	POST   /api/create-customer-portal-session             - Open the billing portal
//	GET    /api/invoices                                   - Recent invoices
//	GET    /api/current-subscription                       - Latest subscription of the caller's organization
//	       /api/rbac/...                                   - Role and permission management
//	GET    /api/audit/events                               - Audit trail (super-admin)
//
// # Usage
//
//	server := api.NewServer(api.Config{
//		Orgs:          directory,
//		Invitations:   invitations,
//		Registrar:     registrar,
//		Authenticator: authenticator,
//		Billing:       billingService,
//		Webhooks:      reconciler,
//		Authenticate:  middleware.NewAuthMiddleware(tokens, users).Handler,
//		Gate:          gate,
//	})
//	http.ListenAndServe(":8080", server.Handler())
package api
