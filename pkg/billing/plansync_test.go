package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/observability"
)

type fakeCatalog struct {
	products  []Product
	prices    map[string][]Price
	pricesErr error
}

func (f *fakeCatalog) ListActiveProducts(context.Context) ([]Product, error) {
	return f.products, nil
}

func (f *fakeCatalog) ListActivePrices(_ context.Context, productID string) ([]Price, error) {
	return f.prices[productID], f.pricesErr
}

func monthly(id string, cents int64) Price {
	p := Price{ID: id, Currency: "usd", UnitAmount: cents}
	p.Recurring = &struct {
		Interval string `json:"interval"`
	}{Interval: "month"}
	return p
}

func TestPlanSync_Run(t *testing.T) {
	db, mock := setupMockDB(t)
	metrics := observability.NewTestMetrics()
	catalog := &fakeCatalog{
		products: []Product{
			{ID: "prod_basic", Name: "Basic", Description: "Solo brokers"},
			{ID: "prod_pro", Name: "Pro", Description: "Teams"},
		},
		prices: map[string][]Price{
			"prod_basic": {monthly("price_basic", 4900)},
			"prod_pro":   {monthly("price_pro", 9900), {ID: "price_pro_once", Currency: "usd", UnitAmount: 99000}},
		},
	}
	returning := func(id int) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, time.Now(), time.Now())
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO subscription_packages`).
		WithArgs("Basic", "Solo brokers", int64(4900), "usd", "month", "prod_basic", "price_basic").
		WillReturnRows(returning(1))
	mock.ExpectQuery(`INSERT INTO subscription_packages`).
		WithArgs("Pro", "Teams", int64(9900), "usd", "month", "prod_pro", "price_pro").
		WillReturnRows(returning(2))
	mock.ExpectQuery(`INSERT INTO subscription_packages`).
		WithArgs("Pro", "Teams", int64(99000), "usd", "", "prod_pro", "price_pro_once").
		WillReturnRows(returning(3))
	mock.ExpectCommit()

	n, err := NewPlanSync(db, catalog, metrics, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PlanSyncPackages))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanSync_RunCatalogError(t *testing.T) {
	db, mock := setupMockDB(t)
	catalog := &fakeCatalog{
		products:  []Product{{ID: "prod_basic", Name: "Basic"}},
		pricesErr: errors.New("provider unavailable"),
	}

	_, err := NewPlanSync(db, catalog, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prod_basic")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanSync_RunRollsBackOnWriteError(t *testing.T) {
	db, mock := setupMockDB(t)
	catalog := &fakeCatalog{
		products: []Product{{ID: "prod_basic", Name: "Basic"}},
		prices:   map[string][]Price{"prod_basic": {monthly("price_basic", 4900)}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO subscription_packages`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := NewPlanSync(db, catalog, nil, nil).Run(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
