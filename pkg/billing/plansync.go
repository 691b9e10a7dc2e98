package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/dealflow/pkg/async"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
)

// Catalog lists the provider's active products and prices. *StripeClient
// implements it.
type Catalog interface {
	ListActiveProducts(ctx context.Context) ([]Product, error)
	ListActivePrices(ctx context.Context, productID string) ([]Price, error)
}

// planSyncWorkers bounds concurrent price requests to the provider
const planSyncWorkers = 4

// PlanSync copies the provider catalog into subscription_packages, one
// package per active price
type PlanSync struct {
	db      *sql.DB
	store   *Store
	catalog Catalog
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewPlanSync creates a plan synchronizer. metrics may be nil.
func NewPlanSync(db *sql.DB, catalog Catalog, metrics *observability.Metrics, logger *observability.Logger) *PlanSync {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PlanSync{db: db, store: NewStore(db), catalog: catalog, metrics: metrics, logger: logger}
}

// Run fetches the catalog and upserts every price in one transaction. It
// returns the number of packages written.
func (p *PlanSync) Run(ctx context.Context) (int, error) {
	ctx, span := observability.Tracer("billing").Start(ctx, "billing.plan_sync")
	defer span.End()

	products, err := p.catalog.ListActiveProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list products: %w", err)
	}

	perProduct, err := async.Map(ctx, products, planSyncWorkers, func(ctx context.Context, product Product) ([]Price, error) {
		prices, err := p.catalog.ListActivePrices(ctx, product.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list prices for product %s: %w", product.ID, err)
		}
		return prices, nil
	})
	if err != nil {
		return 0, err
	}

	var packages []*Package
	for i, product := range products {
		for _, price := range perProduct[i] {
			pkg := &Package{
				Name:            product.Name,
				Description:     product.Description,
				AmountCents:     price.UnitAmount,
				Currency:        price.Currency,
				StripeProductID: product.ID,
				StripePriceID:   price.ID,
			}
			if price.Recurring != nil {
				pkg.Interval = price.Recurring.Interval
			}
			packages = append(packages, pkg)
		}
	}

	err = database.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		for _, pkg := range packages {
			if err := p.store.UpsertPackage(ctx, tx, pkg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if p.metrics != nil {
		p.metrics.PlanSyncPackages.Set(float64(len(packages)))
	}
	p.logger.WithFields(map[string]interface{}{
		"products": len(products),
		"packages": len(packages),
	}).Info("plan catalog synchronized")
	return len(packages), nil
}
