package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/database"
)

const (
	packageColumns = `id, name, description, amount_cents, currency, billing_interval,
		stripe_product_id, stripe_price_id, created_at, updated_at`

	subscriptionColumns = `id, organization_id, user_id, package_id, stripe_subscription_id,
		stripe_customer_id, stripe_price_id, status, current_period_end, card_last4, card_brand,
		last_event_at, created_at, updated_at`
)

// Store persists packages and subscriptions
type Store struct {
	db *sql.DB
}

// NewStore creates a billing store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListPackages returns every package, cheapest first
func (s *Store) ListPackages(ctx context.Context) ([]*Package, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+packageColumns+" FROM subscription_packages ORDER BY amount_cents, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	packages := []*Package{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// GetPackage loads a package
func (s *Store) GetPackage(ctx context.Context, id int64) (*Package, error) {
	p, err := scanPackage(s.db.QueryRowContext(ctx,
		"SELECT "+packageColumns+" FROM subscription_packages WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("package")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return p, nil
}

// UpsertPackage inserts or refreshes a package keyed by its price id
func (s *Store) UpsertPackage(ctx context.Context, q database.Querier, p *Package) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO subscription_packages (name, description, amount_cents, currency, billing_interval,
			stripe_product_id, stripe_price_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_price_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			billing_interval = EXCLUDED.billing_interval,
			stripe_product_id = EXCLUDED.stripe_product_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, p.Name, p.Description, p.AmountCents, p.Currency, p.Interval, p.StripeProductID, p.StripePriceID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}

// FindForUpdate locks the subscription with the given provider id. It returns
// nil when no local row exists.
func (s *Store) FindForUpdate(ctx context.Context, q database.Querier, stripeSubscriptionID string) (*Subscription, error) {
	sub, err := scanSubscription(q.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE stripe_subscription_id = $1 FOR UPDATE",
		stripeSubscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// Upsert writes a subscription keyed by its provider id. A nil LastEventAt
// keeps the stored one.
func (s *Store) Upsert(ctx context.Context, q database.Querier, sub *Subscription) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO subscriptions (organization_id, user_id, package_id, stripe_subscription_id,
			stripe_customer_id, stripe_price_id, status, current_period_end, card_last4, card_brand,
			last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			user_id = EXCLUDED.user_id,
			package_id = EXCLUDED.package_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			card_last4 = EXCLUDED.card_last4,
			card_brand = EXCLUDED.card_brand,
			last_event_at = COALESCE(EXCLUDED.last_event_at, subscriptions.last_event_at),
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`,
		sub.OrganizationID, sub.UserID, sub.PackageID, sub.StripeSubscriptionID,
		sub.StripeCustomerID, sub.StripePriceID, sub.Status, sub.CurrentPeriodEnd, sub.CardLast4, sub.CardBrand,
		sub.LastEventAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// SetStatus changes the provider status of a subscription
func (s *Store) SetStatus(ctx context.Context, q database.Querier, id int64, status string, eventAt *time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $1, last_event_at = COALESCE($2, last_event_at), updated_at = NOW()
		WHERE id = $3
	`, status, eventAt, id)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// Mirror copies the provider's status and period end onto a subscription
func (s *Store) Mirror(ctx context.Context, q database.Querier, id int64, status string, periodEnd, eventAt *time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $1, current_period_end = $2, last_event_at = COALESCE($3, last_event_at), updated_at = NOW()
		WHERE id = $4
	`, status, periodEnd, eventAt, id)
	if err != nil {
		return fmt.Errorf("failed to mirror subscription: %w", err)
	}
	return nil
}

// LatestForOrganization returns the most recent subscription of an
// organization together with its package
func (s *Store) LatestForOrganization(ctx context.Context, orgID int64) (*Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE organization_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("subscription")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if sub.PackageID != nil {
		pkg, err := s.GetPackage(ctx, *sub.PackageID)
		switch {
		case err == nil:
			sub.Package = pkg
		case apperrors.KindOf(err) != apperrors.KindNotFound:
			return nil, err
		}
	}
	return sub, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPackage(row scanner) (*Package, error) {
	var p Package
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.AmountCents, &p.Currency, &p.Interval,
		&p.StripeProductID, &p.StripePriceID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSubscription(row scanner) (*Subscription, error) {
	var (
		sub       Subscription
		userID    sql.NullInt64
		packageID sql.NullInt64
		periodEnd sql.NullTime
		lastEvent sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.OrganizationID, &userID, &packageID, &sub.StripeSubscriptionID,
		&sub.StripeCustomerID, &sub.StripePriceID, &sub.Status, &periodEnd, &sub.CardLast4, &sub.CardBrand,
		&lastEvent, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		sub.UserID = &userID.Int64
	}
	if packageID.Valid {
		sub.PackageID = &packageID.Int64
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if lastEvent.Valid {
		sub.LastEventAt = &lastEvent.Time
	}
	return &sub, nil
}
