package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/platinummonkey/dealflow/pkg/observability"
)

// StripeConfig configures the provider client
type StripeConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// StripeClient calls the payment provider's REST API
type StripeClient struct {
	http    *resty.Client
	metrics *observability.Metrics
	logger  *observability.Logger
}

// stripeError is the provider's error envelope
type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type listEnvelope[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

// Product is a provider product
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Price is a provider price
type Price struct {
	ID         string `json:"id"`
	Currency   string `json:"currency"`
	UnitAmount int64  `json:"unit_amount"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

// CheckoutParams describes a subscription checkout
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// NewStripeClient creates a provider client. metrics may be nil.
func NewStripeClient(cfg StripeConfig, metrics *observability.Metrics, logger *observability.Logger) *StripeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json")

	return &StripeClient{http: client, metrics: metrics, logger: logger}
}

// CreateCustomer creates a customer tagged with its organization
func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string, organizationID int64) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "create_customer", "/v1/customers", map[string]string{
		"email":                     email,
		"name":                      name,
		"metadata[organization_id]": strconv.FormatInt(organizationID, 10),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateCheckoutSession starts a hosted subscription checkout and returns its
// URL
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	form := map[string]string{
		"mode":                    "subscription",
		"customer":                p.CustomerID,
		"payment_method_types[0]": "card",
		"line_items[0][price]":    p.PriceID,
		"line_items[0][quantity]": "1",
		"success_url":             p.SuccessURL,
		"cancel_url":              p.CancelURL,
	}
	for k, v := range p.Metadata {
		form["metadata["+k+"]"] = v
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.post(ctx, "create_checkout_session", "/v1/checkout/sessions", form, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// CreatePortalSession opens the customer billing portal and returns its URL
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.post(ctx, "create_portal_session", "/v1/billing_portal/sessions", map[string]string{
		"customer":   customerID,
		"return_url": returnURL,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetSubscription retrieves a subscription
func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	var out ProviderSubscription
	req := c.http.R().SetPathParam("id", id)
	if err := c.get(ctx, "get_subscription", req, "/v1/subscriptions/{id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentMethodCard returns the card of a payment method, or nil when it is
// not a card
func (c *StripeClient) PaymentMethodCard(ctx context.Context, paymentMethodID string) (*Card, error) {
	var out struct {
		Card *Card `json:"card"`
	}
	req := c.http.R().SetPathParam("id", paymentMethodID)
	if err := c.get(ctx, "get_payment_method", req, "/v1/payment_methods/{id}", &out); err != nil {
		return nil, err
	}
	return out.Card, nil
}

// InvoicePaymentCard returns the card that paid an invoice, or nil
func (c *StripeClient) InvoicePaymentCard(ctx context.Context, invoiceID string) (*Card, error) {
	var out struct {
		PaymentIntent *struct {
			PaymentMethod *struct {
				Card *Card `json:"card"`
			} `json:"payment_method"`
		} `json:"payment_intent"`
	}
	req := c.http.R().
		SetPathParam("id", invoiceID).
		SetQueryParam("expand[]", "payment_intent.payment_method")
	if err := c.get(ctx, "get_invoice", req, "/v1/invoices/{id}", &out); err != nil {
		return nil, err
	}
	if out.PaymentIntent == nil || out.PaymentIntent.PaymentMethod == nil {
		return nil, nil
	}
	return out.PaymentIntent.PaymentMethod.Card, nil
}

// ListInvoices returns the most recent invoices of a customer
func (c *StripeClient) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	var out listEnvelope[Invoice]
	req := c.http.R().SetQueryParams(map[string]string{
		"customer": customerID,
		"limit":    strconv.Itoa(limit),
	})
	if err := c.get(ctx, "list_invoices", req, "/v1/invoices", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListActiveProducts pages through every active product
func (c *StripeClient) ListActiveProducts(ctx context.Context) ([]Product, error) {
	return listAll[Product](ctx, c, "list_products", "/v1/products", map[string]string{"active": "true"},
		func(p Product) string { return p.ID })
}

// ListActivePrices pages through the active prices of a product
func (c *StripeClient) ListActivePrices(ctx context.Context, productID string) ([]Price, error) {
	return listAll[Price](ctx, c, "list_prices", "/v1/prices", map[string]string{"active": "true", "product": productID},
		func(p Price) string { return p.ID })
}

func listAll[T any](ctx context.Context, c *StripeClient, op, path string, params map[string]string, id func(T) string) ([]T, error) {
	var all []T
	cursor := ""
	for {
		req := c.http.R().SetQueryParams(params).SetQueryParam("limit", "100")
		if cursor != "" {
			req.SetQueryParam("starting_after", cursor)
		}
		var page listEnvelope[T]
		if err := c.get(ctx, op, req, path, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		cursor = id(page.Data[len(page.Data)-1])
	}
}

func (c *StripeClient) post(ctx context.Context, op, path string, form map[string]string, out any) error {
	req := c.http.R().
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetFormData(form)
	return c.do(ctx, op, req, resty.MethodPost, path, out)
}

func (c *StripeClient) get(ctx context.Context, op string, req *resty.Request, path string, out any) error {
	return c.do(ctx, op, req, resty.MethodGet, path, out)
}

func (c *StripeClient) do(ctx context.Context, op string, req *resty.Request, method, path string, out any) error {
	var apiErr stripeError
	resp, err := req.SetContext(ctx).SetResult(out).SetError(&apiErr).Execute(method, path)
	if err != nil {
		c.count(op, "error")
		return fmt.Errorf("failed to call payment provider (%s): %w", op, err)
	}
	if resp.IsError() {
		c.count(op, strconv.Itoa(resp.StatusCode()))
		c.logger.WithFields(map[string]interface{}{
			"operation":   op,
			"status_code": resp.StatusCode(),
			"error_type":  apiErr.Error.Type,
			"error_code":  apiErr.Error.Code,
		}).Warn("payment provider returned an error")
		return fmt.Errorf("payment provider %s failed with status %d: %s", op, resp.StatusCode(), apiErr.Error.Message)
	}
	c.count(op, "ok")
	return nil
}

func (c *StripeClient) count(op, status string) {
	if c.metrics != nil {
		c.metrics.ProviderRequestsTotal.WithLabelValues(op, status).Inc()
	}
}
