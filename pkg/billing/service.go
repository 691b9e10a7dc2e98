package billing

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/validation"
)

const invoiceListLimit = 10

// Provider is the outbound part of the payment provider. *StripeClient
// implements it.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name string, organizationID int64) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
}

// ServiceConfig wires the billing service
type ServiceConfig struct {
	DB       *sql.DB
	Gate     *authz.Gate
	Provider Provider
	Audit    audit.Logger
	Logger   *observability.Logger
	// FrontendURL is the base of the default success, cancel and portal
	// return pages
	FrontendURL string
}

// Service runs the customer-facing billing operations
type Service struct {
	store       *Store
	users       *auth.UserStore
	gate        *authz.Gate
	provider    Provider
	audit       audit.Logger
	logger      *observability.Logger
	frontendURL string
}

// NewService creates the billing service. Provider may be nil when no
// payment provider is configured; provider operations then fail with a
// precondition error.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Service{
		store:       NewStore(cfg.DB),
		users:       auth.NewUserStore(cfg.DB),
		gate:        cfg.Gate,
		provider:    cfg.Provider,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
	}
}

// ListPackages returns the purchasable packages, cheapest first
func (s *Service) ListPackages(ctx context.Context) ([]*Package, error) {
	return s.store.ListPackages(ctx)
}

// GetSubscription returns the latest subscription of the actor's organization
func (s *Service) GetSubscription(ctx context.Context, actor *auth.User) (*Subscription, error) {
	orgID, err := s.organizationOf(ctx, actor, authz.LevelMember)
	if err != nil {
		return nil, err
	}
	return s.store.LatestForOrganization(ctx, orgID)
}

// CreateCheckoutSession starts a provider checkout for a package. The
// organization, package and user ids travel as metadata and come back on the
// checkout.session.completed event.
func (s *Service) CreateCheckoutSession(ctx context.Context, actor *auth.User, req CheckoutRequest) (*Redirect, error) {
	orgID, err := s.organizationOf(ctx, actor, authz.LevelAdmin)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.requireProvider(); err != nil {
		return nil, err
	}

	pkg, err := s.store.GetPackage(ctx, req.PackageID)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil, apperrors.InvalidReference("INVALID_PACKAGE", "the selected package does not exist").
			WithDetail("package_id", req.PackageID)
	}
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, actor, orgID)
	if err != nil {
		return nil, err
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.frontendURL + "/app/payment-success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.frontendURL + "/app/payment-cancel"
	}

	url, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    pkg.StripePriceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"organization_id": strconv.FormatInt(orgID, 10),
			"package_id":      strconv.FormatInt(pkg.ID, 10),
			"user_id":         strconv.FormatInt(actor.ID, 10),
		},
	})
	if err != nil {
		return nil, err
	}

	if logErr := s.audit.LogDataMutation(ctx, audit.EventTypeBillingCheckoutCreate, &actor.ID, audit.ResourceTypeSubscription,
		strconv.FormatInt(orgID, 10), &audit.ChangeDetails{After: map[string]interface{}{
			"package_id": pkg.ID, "price_id": pkg.StripePriceID,
		}}, "checkout session created"); logErr != nil {
		observability.FromContext(ctx, s.logger).WithError(logErr).Warn("failed to write audit event")
	}
	return &Redirect{RedirectURL: url}, nil
}

// CreatePortalSession opens the provider's billing portal for the actor
func (s *Service) CreatePortalSession(ctx context.Context, actor *auth.User, req PortalRequest) (*Redirect, error) {
	if _, err := s.organizationOf(ctx, actor, authz.LevelAdmin); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.requireProvider(); err != nil {
		return nil, err
	}
	if actor.StripeCustomerID == "" {
		return nil, apperrors.PreconditionFailed("NO_BILLING_CUSTOMER", "no billing account exists for this user yet")
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.frontendURL + "/app/billing"
	}
	url, err := s.provider.CreatePortalSession(ctx, actor.StripeCustomerID, returnURL)
	if err != nil {
		return nil, err
	}
	return &Redirect{RedirectURL: url}, nil
}

// ListInvoices returns the actor's most recent provider invoices
func (s *Service) ListInvoices(ctx context.Context, actor *auth.User) ([]Invoice, error) {
	if _, err := s.organizationOf(ctx, actor, authz.LevelAdmin); err != nil {
		return nil, err
	}
	if err := s.requireProvider(); err != nil {
		return nil, err
	}
	if actor.StripeCustomerID == "" {
		return []Invoice{}, nil
	}
	invoices, err := s.provider.ListInvoices(ctx, actor.StripeCustomerID, invoiceListLimit)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	return invoices, nil
}

// organizationOf returns the actor's organization after checking the actor
// may act on it at level
func (s *Service) organizationOf(ctx context.Context, actor *auth.User, level authz.Level) (int64, error) {
	if actor == nil {
		return 0, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}
	if actor.OrganizationID == nil {
		return 0, apperrors.NotFound("organization")
	}
	orgID := *actor.OrganizationID
	if err := s.gate.AuthorizeOrg(ctx, actor, orgID, level); err != nil {
		return 0, err
	}
	return orgID, nil
}

func (s *Service) requireProvider() error {
	if s.provider == nil {
		return apperrors.PreconditionFailed("BILLING_NOT_CONFIGURED", "no payment provider is configured")
	}
	return nil
}

func (s *Service) ensureCustomer(ctx context.Context, actor *auth.User, orgID int64) (string, error) {
	if actor.StripeCustomerID != "" {
		return actor.StripeCustomerID, nil
	}
	customerID, err := s.provider.CreateCustomer(ctx, actor.Email, actor.FullName(), orgID)
	if err != nil {
		return "", err
	}
	if err := s.users.SetStripeCustomerID(ctx, actor.ID, customerID); err != nil {
		return "", err
	}
	actor.StripeCustomerID = customerID
	return customerID, nil
}
