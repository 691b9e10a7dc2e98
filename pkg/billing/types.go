package billing

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/dealflow/pkg/orgs"
)

// Webhook event types the reconciler acts on
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventPaymentFailed       = "invoice.payment_failed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionUpdated = "customer.subscription.updated"
)

// Outcomes of applying an event, used as the webhook metric result label
const (
	OutcomeApplied             = "applied"
	OutcomeIgnored             = "ignored"
	OutcomeStale               = "stale"
	OutcomeUnknownSubscription = "unknown_subscription"
	OutcomeMissingMetadata     = "missing_metadata"
)

// Package is a purchasable plan mirrored from the provider's price catalog
type Package struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Interval        string    `json:"interval,omitempty"`
	StripeProductID string    `json:"stripe_product_id"`
	StripePriceID   string    `json:"stripe_price_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Subscription is the local mirror of a provider subscription
type Subscription struct {
	ID                   int64      `json:"id"`
	OrganizationID       int64      `json:"organization_id"`
	UserID               *int64     `json:"user_id,omitempty"`
	PackageID            *int64     `json:"package_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripePriceID        string     `json:"stripe_price_id,omitempty"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CardLast4            string     `json:"card_last4,omitempty"`
	CardBrand            string     `json:"card_brand,omitempty"`
	LastEventAt          *time.Time `json:"last_event_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	Package *Package `json:"package,omitempty"`
}

// Event is a provider webhook envelope
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreatedAt returns the provider timestamp of the event
func (e *Event) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// Result describes what applying one event did
type Result struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
}

// checkoutSession is the object of checkout.session.completed
type checkoutSession struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	Customer     string            `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
}

// invoiceObject is the object of invoice.* events
type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
}

// ProviderSubscription is a provider subscription as returned by the API and
// carried by customer.subscription.* events
type ProviderSubscription struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	Customer             string `json:"customer"`
	CurrentPeriodEnd     int64  `json:"current_period_end"`
	DefaultPaymentMethod string `json:"default_payment_method"`
	LatestInvoice        string `json:"latest_invoice"`
	Items                struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the price of the first item
func (s *ProviderSubscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// PeriodEnd returns the end of the current period. Newer API versions only
// report it on the items.
func (s *ProviderSubscription) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// Card is the displayable part of a payment card
type Card struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// Invoice is a provider invoice as listed to the customer
type Invoice struct {
	ID               string `json:"id"`
	Number           string `json:"number"`
	Status           string `json:"status"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	Created          int64  `json:"created"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
}

// CheckoutRequest starts a checkout for a package
type CheckoutRequest struct {
	PackageID  int64  `json:"package_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// PortalRequest opens the customer billing portal
type PortalRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

// Redirect is a provider hosted page the client should navigate to
type Redirect struct {
	RedirectURL string `json:"redirect_url"`
}

// OrganizationStatus maps a provider subscription status onto the
// organization enumeration. Statuses the organization already knows pass
// through unchanged.
func OrganizationStatus(providerStatus string) orgs.SubscriptionStatus {
	s := orgs.SubscriptionStatus(providerStatus)
	if s.Valid() {
		return s
	}
	switch providerStatus {
	case "trialing":
		return orgs.StatusActive
	case "unpaid":
		return orgs.StatusPastDue
	case "incomplete_expired":
		return orgs.StatusCanceled
	case "incomplete", "paused":
		return orgs.StatusWaiting
	}
	return orgs.StatusSuspended
}
