package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/billing"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/orgs"
)

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is unset
const DefaultMaxBodyBytes = 1 << 20

// OrgDirectory is the organization surface used by the handlers
type OrgDirectory interface {
	Create(ctx context.Context, actor *auth.User, req orgs.CreateRequest) (*orgs.Organization, error)
	Get(ctx context.Context, actor *auth.User, id int64) (*orgs.Organization, error)
	List(ctx context.Context, actor *auth.User, filter orgs.ListFilter) (*orgs.ListResult, error)
	Update(ctx context.Context, actor *auth.User, id int64, req orgs.UpdateRequest) (*orgs.Organization, error)
	Delete(ctx context.Context, actor *auth.User, id int64) error
	GetStatus(ctx context.Context, actor *auth.User) (*orgs.StatusResult, error)
	SetSubscriptionStatus(ctx context.Context, actor *auth.User, id int64, status string) (*orgs.Organization, error)
	RemoveUser(ctx context.Context, actor *auth.User, orgID, userID int64) error
}

// MemberService manages user accounts within organizations
type MemberService interface {
	List(ctx context.Context, actor *auth.User, filter orgs.MemberFilter) (*orgs.MemberList, error)
	Get(ctx context.Context, actor *auth.User, id int64) (*auth.User, error)
	UpdateStatus(ctx context.Context, actor *auth.User, id int64, req orgs.UpdateStatusRequest) (*auth.User, error)
	UpdateProfile(ctx context.Context, actor *auth.User, id int64, req orgs.UpdateProfileRequest) (*auth.User, error)
}

// InvitationService creates and redeems invitations
type InvitationService interface {
	Create(ctx context.Context, actor *auth.User, req orgs.CreateInvitationRequest) (*orgs.CreatedInvitation, error)
	ValidateToken(ctx context.Context, token string) (*orgs.InvitationDetails, error)
	Accept(ctx context.Context, req orgs.AcceptRequest) (*orgs.Session, error)
}

// Registrar signs up new tenants
type Registrar interface {
	Register(ctx context.Context, req orgs.RegisterRequest) (*orgs.Session, error)
}

// Authenticator issues and revokes bearer tokens
type Authenticator interface {
	Login(ctx context.Context, req authz.LoginRequest, clientKey string) (*authz.LoginResult, error)
	Logout(ctx context.Context, authCtx *auth.AuthContext) error
}

// BillingService is the outbound billing surface
type BillingService interface {
	ListPackages(ctx context.Context) ([]*billing.Package, error)
	GetSubscription(ctx context.Context, actor *auth.User) (*billing.Subscription, error)
	CreateCheckoutSession(ctx context.Context, actor *auth.User, req billing.CheckoutRequest) (*billing.Redirect, error)
	CreatePortalSession(ctx context.Context, actor *auth.User, req billing.PortalRequest) (*billing.Redirect, error)
	ListInvoices(ctx context.Context, actor *auth.User) ([]billing.Invoice, error)
}

// WebhookHandler verifies and applies provider events
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*billing.Result, error)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Config wires the server to its services. Orgs, Invitations, Registrar,
// Authenticator, Authenticate and Gate are required; the rest are optional
// and their routes are omitted when nil.
type Config struct {
	Orgs          OrgDirectory
	Members       MemberService
	Invitations   InvitationService
	Registrar     Registrar
	Authenticator Authenticator
	Billing       BillingService
	Webhooks      WebhookHandler

	// Authenticate resolves the bearer token into an auth context
	Authenticate func(http.Handler) http.Handler
	Gate         *authz.Gate

	RBAC  RouteRegistrar
	Audit audit.Searcher

	// SignupThrottle limits registration attempts per client address
	SignupThrottle authz.Throttle
	// TrustedProxies may set X-Forwarded-For; empty means the socket peer
	// is the client
	TrustedProxies httputil.TrustedProxies

	Metrics        *observability.Metrics
	Logger         *observability.Logger
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server is the dealflow HTTP API
type Server struct {
	config  Config
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer builds the router and its middleware chain
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
		logger: cfg.Logger,
	}
	// Router middleware runs after matching, so the metrics see the route
	// template rather than the raw path.
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(cfg.TrustedProxies),
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware(cfg.Logger),
		httputil.CORSMiddleware(cfg.AllowedOrigins),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "dealflow.api")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	authHandlers := NewAuthHandlers(s.config.Authenticator, s.config.Registrar)
	invitationHandlers := NewInvitationHandlers(s.config.Invitations)
	orgHandlers := NewOrgHandlers(s.config.Orgs)

	// Public routes
	register := http.Handler(http.HandlerFunc(authHandlers.Register))
	if s.config.SignupThrottle != nil {
		register = middleware.RateLimit(s.config.SignupThrottle, "register", s.logger)(register)
	}
	api.Handle("/register", register).Methods("POST")
	authHandlers.RegisterPublicRoutes(api)
	invitationHandlers.RegisterPublicRoutes(api)
	if s.config.Webhooks != nil {
		NewWebhookHandlers(s.config.Webhooks).RegisterRoutes(api)
	}

	// Authenticated routes
	authed := api.NewRoute().Subrouter()
	authed.Use(s.config.Authenticate)

	authHandlers.RegisterRoutes(authed)
	invitationHandlers.RegisterRoutes(authed)
	orgHandlers.RegisterRoutes(authed)
	if s.config.Members != nil {
		NewUserHandlers(s.config.Members).RegisterRoutes(authed)
	}
	if s.config.Billing != nil {
		NewBillingHandlers(s.config.Billing).RegisterRoutes(authed)
	}
	if s.config.RBAC != nil {
		s.config.RBAC.RegisterRoutes(authed)
	}

	if s.config.Audit != nil {
		superAdmin := authed.NewRoute().Subrouter()
		superAdmin.Use(middleware.RequireSuperAdmin(s.config.Gate))
		audit.NewHandlers(s.config.Audit).RegisterRoutes(superAdmin)
	}
}

// Router returns the bare router, without the middleware chain
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the full middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
