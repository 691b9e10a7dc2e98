package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/orgs"
)

// StatusWriter applies billing-driven organization status changes.
// *orgs.Directory implements it.
type StatusWriter interface {
	ApplyBillingStatus(ctx context.Context, q database.Querier, id int64, status orgs.SubscriptionStatus) error
	RecordBillingStatus(status orgs.SubscriptionStatus)
}

// SubscriptionSource reads provider subscriptions and the card that pays
// them. *StripeClient implements it.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	PaymentMethodCard(ctx context.Context, paymentMethodID string) (*Card, error)
	InvoicePaymentCard(ctx context.Context, invoiceID string) (*Card, error)
}

// ReconcilerConfig wires the subscription reconciler
type ReconcilerConfig struct {
	DB            *sql.DB
	Orgs          StatusWriter
	Provider      SubscriptionSource
	WebhookSecret string
	Tolerance     time.Duration
	Audit         audit.Logger
	Metrics       *observability.Metrics
	Logger        *observability.Logger
}

// Reconciler mirrors provider subscription events onto local subscriptions
// and organization status
type Reconciler struct {
	db        *sql.DB
	store     *Store
	orgs      StatusWriter
	provider  SubscriptionSource
	secret    string
	tolerance time.Duration
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Reconciler{
		db:        cfg.DB,
		store:     NewStore(cfg.DB),
		orgs:      cfg.Orgs,
		provider:  cfg.Provider,
		secret:    cfg.WebhookSecret,
		tolerance: cfg.Tolerance,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// HandleWebhook verifies and applies one delivery. Nothing is applied when
// the signature does not verify.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	if err := VerifySignature(payload, signatureHeader, r.secret, r.tolerance, r.now()); err != nil {
		r.count("unknown", "invalid_signature")
		observability.FromContext(ctx, r.logger).WithError(err).Warn("rejected webhook with invalid signature")
		return nil, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil || event.Type == "" {
		r.count("unknown", "malformed")
		return nil, apperrors.InvalidField("payload", "the webhook payload is not a valid event").WithCode("INVALID_PAYLOAD")
	}
	return r.Apply(ctx, &event)
}

// Apply processes one event. Unknown event types are accepted and ignored.
func (r *Reconciler) Apply(ctx context.Context, event *Event) (*Result, error) {
	ctx, span := observability.Tracer("billing").Start(ctx, "billing.reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("billing.event_id", event.ID),
		attribute.String("billing.event_type", event.Type),
	)

	start := time.Now()
	logger := observability.FromContext(ctx, r.logger).WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	var (
		outcome string
		err     error
	)
	switch event.Type {
	case EventCheckoutCompleted:
		outcome, err = r.checkoutCompleted(ctx, logger, event)
	case EventPaymentFailed:
		outcome, err = r.paymentFailed(ctx, event)
	case EventSubscriptionDeleted:
		outcome, err = r.subscriptionDeleted(ctx, event)
	case EventSubscriptionUpdated:
		outcome, err = r.subscriptionUpdated(ctx, event)
	default:
		outcome = OutcomeIgnored
	}

	if r.metrics != nil {
		r.metrics.WebhookHandlingDuration.WithLabelValues(event.Type).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.count(event.Type, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("failed to apply webhook event")
		return nil, err
	}

	r.count(event.Type, outcome)
	span.SetAttributes(attribute.String("billing.outcome", outcome))
	logger.WithField("outcome", outcome).Info("webhook event processed")
	return &Result{EventID: event.ID, Type: event.Type, Outcome: outcome}, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, logger *observability.Logger, event *Event) (string, error) {
	var session checkoutSession
	if err := decodeObject(event, &session); err != nil {
		return "", err
	}

	orgID, okOrg := metadataID(session.Metadata, "organization_id")
	packageID, okPkg := metadataID(session.Metadata, "package_id")
	if !okOrg || !okPkg {
		logger.WithField("checkout_session", session.ID).Warn("checkout session is missing organization or package metadata")
		return OutcomeMissingMetadata, nil
	}

	var sub *Subscription
	if session.Subscription != "" {
		remote, err := r.provider.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return "", err
		}
		card := r.card(ctx, logger, remote)
		sub = &Subscription{
			OrganizationID:       orgID,
			PackageID:            &packageID,
			StripeSubscriptionID: remote.ID,
			StripeCustomerID:     remote.Customer,
			StripePriceID:        remote.PriceID(),
			Status:               remote.Status,
			CurrentPeriodEnd:     remote.PeriodEnd(),
			LastEventAt:          eventTime(event),
		}
		if sub.StripeSubscriptionID == "" {
			sub.StripeSubscriptionID = session.Subscription
		}
		if userID, ok := metadataID(session.Metadata, "user_id"); ok {
			sub.UserID = &userID
		}
		if card != nil {
			sub.CardBrand, sub.CardLast4 = card.Brand, card.Last4
		}
	}

	outcome := OutcomeApplied
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if sub != nil {
			existing, err := r.store.FindForUpdate(ctx, tx, sub.StripeSubscriptionID)
			if err != nil {
				return err
			}
			if isStale(existing, event) {
				outcome = OutcomeStale
				return nil
			}
			if err := r.store.Upsert(ctx, tx, sub); err != nil {
				return err
			}
		}
		return r.orgs.ApplyBillingStatus(ctx, tx, orgID, orgs.StatusActive)
	})
	if err != nil || outcome != OutcomeApplied {
		return outcome, err
	}

	r.applied(ctx, orgID, sub, orgs.StatusActive, event)
	return outcome, nil
}

// card finds the paying card: the default payment method first, then the
// latest invoice. Lookup failures only lose the card details.
func (r *Reconciler) card(ctx context.Context, logger *observability.Logger, sub *ProviderSubscription) *Card {
	if sub.DefaultPaymentMethod != "" {
		card, err := r.provider.PaymentMethodCard(ctx, sub.DefaultPaymentMethod)
		if err != nil {
			logger.WithError(err).Warn("failed to load default payment method")
		} else if card != nil && card.Last4 != "" {
			return card
		}
	}
	if sub.LatestInvoice != "" {
		card, err := r.provider.InvoicePaymentCard(ctx, sub.LatestInvoice)
		if err != nil {
			logger.WithError(err).Warn("failed to load latest invoice payment")
			return nil
		}
		return card
	}
	return nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, event *Event) (string, error) {
	var invoice invoiceObject
	if err := decodeObject(event, &invoice); err != nil {
		return "", err
	}
	return r.transition(ctx, event, invoice.Subscription, func(tx *sql.Tx, sub *Subscription) (orgs.SubscriptionStatus, error) {
		sub.Status = string(orgs.StatusPastDue)
		return orgs.StatusPastDue, r.store.SetStatus(ctx, tx, sub.ID, sub.Status, eventTime(event))
	})
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, event *Event) (string, error) {
	var remote ProviderSubscription
	if err := decodeObject(event, &remote); err != nil {
		return "", err
	}
	return r.transition(ctx, event, remote.ID, func(tx *sql.Tx, sub *Subscription) (orgs.SubscriptionStatus, error) {
		sub.Status = string(orgs.StatusCanceled)
		return orgs.StatusCanceled, r.store.SetStatus(ctx, tx, sub.ID, sub.Status, eventTime(event))
	})
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, event *Event) (string, error) {
	var remote ProviderSubscription
	if err := decodeObject(event, &remote); err != nil {
		return "", err
	}
	return r.transition(ctx, event, remote.ID, func(tx *sql.Tx, sub *Subscription) (orgs.SubscriptionStatus, error) {
		sub.Status = remote.Status
		sub.CurrentPeriodEnd = remote.PeriodEnd()
		return OrganizationStatus(remote.Status),
			r.store.Mirror(ctx, tx, sub.ID, sub.Status, sub.CurrentPeriodEnd, eventTime(event))
	})
}

// transition locks the local subscription and applies change to it and its
// organization in one transaction. Unknown subscriptions and stale events are
// no-ops.
func (r *Reconciler) transition(ctx context.Context, event *Event, stripeID string,
	change func(tx *sql.Tx, sub *Subscription) (orgs.SubscriptionStatus, error)) (string, error) {
	if stripeID == "" {
		return OutcomeUnknownSubscription, nil
	}

	var (
		outcome = OutcomeApplied
		sub     *Subscription
		status  orgs.SubscriptionStatus
	)
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		sub, err = r.store.FindForUpdate(ctx, tx, stripeID)
		if err != nil {
			return err
		}
		if sub == nil {
			outcome = OutcomeUnknownSubscription
			return nil
		}
		if isStale(sub, event) {
			outcome = OutcomeStale
			return nil
		}
		status, err = change(tx, sub)
		if err != nil {
			return err
		}
		return r.orgs.ApplyBillingStatus(ctx, tx, sub.OrganizationID, status)
	})
	if err != nil || outcome != OutcomeApplied {
		return outcome, err
	}

	r.applied(ctx, sub.OrganizationID, sub, status, event)
	return outcome, nil
}

func (r *Reconciler) applied(ctx context.Context, orgID int64, sub *Subscription, status orgs.SubscriptionStatus, event *Event) {
	r.orgs.RecordBillingStatus(status)

	after := map[string]interface{}{
		"organization_status": status,
		"event_id":            event.ID,
		"event_type":          event.Type,
	}
	resourceID := strconv.FormatInt(orgID, 10)
	if sub != nil {
		after["subscription_status"] = sub.Status
		resourceID = sub.StripeSubscriptionID
	}
	if err := r.audit.LogDataMutation(ctx, audit.EventTypeBillingSubscriptionSync, nil, audit.ResourceTypeSubscription,
		resourceID, &audit.ChangeDetails{After: after}, "subscription synchronized from provider"); err != nil {
		observability.FromContext(ctx, r.logger).WithError(err).Warn("failed to write audit event")
	}
}

func (r *Reconciler) count(eventType, result string) {
	if r.metrics != nil {
		r.metrics.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
	}
}

func decodeObject(event *Event, dst any) error {
	if len(event.Data.Object) == 0 {
		return apperrors.InvalidField("data.object", "the event has no object").WithCode("INVALID_PAYLOAD")
	}
	if err := json.Unmarshal(event.Data.Object, dst); err != nil {
		return apperrors.InvalidField("data.object", fmt.Sprintf("the %s object is malformed", event.Type)).
			WithCode("INVALID_PAYLOAD")
	}
	return nil
}

func metadataID(metadata map[string]string, key string) (int64, bool) {
	raw, ok := metadata[key]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// eventTime is nil for events without a provider timestamp, which bypass the
// ordering guard
func eventTime(event *Event) *time.Time {
	if event.Created <= 0 {
		return nil
	}
	t := event.CreatedAt()
	return &t
}

// isStale reports whether event is older than the last event applied to sub.
// Equal timestamps re-apply.
func isStale(sub *Subscription, event *Event) bool {
	at := eventTime(event)
	if sub == nil || sub.LastEventAt == nil || at == nil {
		return false
	}
	return at.Before(*sub.LastEventAt)
}
