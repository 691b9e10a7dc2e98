package billing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

var (
	packageRowColumns = []string{
		"id", "name", "description", "amount_cents", "currency", "billing_interval",
		"stripe_product_id", "stripe_price_id", "created_at", "updated_at",
	}
	subscriptionRowColumns = []string{
		"id", "organization_id", "user_id", "package_id", "stripe_subscription_id",
		"stripe_customer_id", "stripe_price_id", "status", "current_period_end", "card_last4", "card_brand",
		"last_event_at", "created_at", "updated_at",
	}
)

func int64p(v int64) *int64 { return &v }

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func packageRows() *sqlmock.Rows {
	return sqlmock.NewRows(packageRowColumns)
}

func addPackage(rows *sqlmock.Rows, id int64, name string, cents int64, priceID string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, name, name+" plan", cents, "usd", "month", "prod_"+name, priceID, now, now)
}

// subscriptionRow builds a locked subscription row. lastEvent may be nil.
func subscriptionRow(id, orgID int64, stripeID, status string, lastEvent interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(subscriptionRowColumns).AddRow(
		id, orgID, int64(2), int64(3), stripeID, "cus_1", "price_basic", status, nil, "4242", "visa",
		lastEvent, now, now,
	)
}

func TestStore_ListPackages(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery(`FROM subscription_packages ORDER BY amount_cents, id`).
		WillReturnRows(addPackage(addPackage(packageRows(), 1, "basic", 4900, "price_basic"), 2, "pro", 9900, "price_pro"))

	packages, err := store.ListPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "basic", packages[0].Name)
	assert.Equal(t, int64(9900), packages[1].AmountCents)
	assert.Equal(t, "month", packages[1].Interval)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListPackagesEmpty(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM subscription_packages`).WillReturnRows(packageRows())

	packages, err := NewStore(db).ListPackages(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, packages)
	assert.Empty(t, packages)
}

func TestStore_GetPackage(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM subscription_packages WHERE id = \$1`).WithArgs(int64(1)).
			WillReturnRows(addPackage(packageRows(), 1, "basic", 4900, "price_basic"))

		p, err := NewStore(db).GetPackage(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "price_basic", p.StripePriceID)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM subscription_packages WHERE id = \$1`).WithArgs(int64(7)).
			WillReturnError(sql.ErrNoRows)

		_, err := NewStore(db).GetPackage(context.Background(), 7)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "PACKAGE_NOT_FOUND", appErr.Code)
	})
}

func TestStore_UpsertPackage(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO subscription_packages .* ON CONFLICT \(stripe_price_id\) DO UPDATE`).
		WithArgs("Pro", "For teams", int64(9900), "usd", "month", "prod_pro", "price_pro").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(5, now, now))

	p := &Package{Name: "Pro", Description: "For teams", AmountCents: 9900, Currency: "usd",
		Interval: "month", StripeProductID: "prod_pro", StripePriceID: "price_pro"}
	require.NoError(t, NewStore(db).UpsertPackage(context.Background(), db, p))
	assert.Equal(t, int64(5), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindForUpdate(t *testing.T) {
	t.Run("locks the row", func(t *testing.T) {
		db, mock := setupMockDB(t)
		seen := time.Unix(1_700_000_000, 0)
		mock.ExpectQuery(`FROM subscriptions WHERE stripe_subscription_id = \$1 FOR UPDATE`).
			WithArgs("sub_1").
			WillReturnRows(subscriptionRow(11, 9, "sub_1", "active", seen))

		sub, err := NewStore(db).FindForUpdate(context.Background(), db, "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, int64(9), sub.OrganizationID)
		assert.Equal(t, int64(2), *sub.UserID)
		assert.Equal(t, int64(3), *sub.PackageID)
		assert.Nil(t, sub.CurrentPeriodEnd)
		require.NotNil(t, sub.LastEventAt)
		assert.True(t, sub.LastEventAt.Equal(seen))
	})

	t.Run("absent row is nil", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("sub_x").WillReturnError(sql.ErrNoRows)

		sub, err := NewStore(db).FindForUpdate(context.Background(), db, "sub_x")
		require.NoError(t, err)
		assert.Nil(t, sub)
	})
}

func TestStore_Upsert(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()
	end := time.Unix(1_702_000_000, 0).UTC()
	eventAt := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectQuery(`INSERT INTO subscriptions .* ON CONFLICT \(stripe_subscription_id\) DO UPDATE .*COALESCE`).
		WithArgs(int64(9), int64(2), int64(3), "sub_1", "cus_1", "price_basic", "active", end, "4242", "visa", eventAt).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))

	sub := &Subscription{
		OrganizationID: 9, UserID: int64p(2), PackageID: int64p(3),
		StripeSubscriptionID: "sub_1", StripeCustomerID: "cus_1", StripePriceID: "price_basic",
		Status: "active", CurrentPeriodEnd: &end, CardLast4: "4242", CardBrand: "visa", LastEventAt: &eventAt,
	}
	require.NoError(t, NewStore(db).Upsert(context.Background(), db, sub))
	assert.Equal(t, int64(11), sub.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetStatusAndMirror(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)
	eventAt := time.Unix(1_700_000_000, 0).UTC()
	end := time.Unix(1_702_000_000, 0).UTC()

	mock.ExpectExec(`UPDATE subscriptions\s+SET status = \$1, last_event_at = COALESCE\(\$2, last_event_at\)`).
		WithArgs("past_due", eventAt, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE subscriptions\s+SET status = \$1, current_period_end = \$2`).
		WithArgs("trialing", end, nil, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetStatus(context.Background(), db, 11, "past_due", &eventAt))
	require.NoError(t, store.Mirror(context.Background(), db, 11, "trialing", &end, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestForOrganization(t *testing.T) {
	t.Run("with package", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM subscriptions WHERE organization_id = \$1 ORDER BY created_at DESC, id DESC LIMIT 1`).
			WithArgs(int64(9)).
			WillReturnRows(subscriptionRow(11, 9, "sub_1", "active", nil))
		mock.ExpectQuery(`FROM subscription_packages WHERE id = \$1`).WithArgs(int64(3)).
			WillReturnRows(addPackage(packageRows(), 3, "basic", 4900, "price_basic"))

		sub, err := NewStore(db).LatestForOrganization(context.Background(), 9)
		require.NoError(t, err)
		require.NotNil(t, sub.Package)
		assert.Equal(t, "basic", sub.Package.Name)
		assert.Nil(t, sub.LastEventAt)
	})

	t.Run("deleted package is tolerated", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM subscriptions WHERE organization_id`).WithArgs(int64(9)).
			WillReturnRows(subscriptionRow(11, 9, "sub_1", "active", nil))
		mock.ExpectQuery(`FROM subscription_packages WHERE id`).WithArgs(int64(3)).
			WillReturnError(sql.ErrNoRows)

		sub, err := NewStore(db).LatestForOrganization(context.Background(), 9)
		require.NoError(t, err)
		assert.Nil(t, sub.Package)
	})

	t.Run("none", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`FROM subscriptions WHERE organization_id`).WithArgs(int64(9)).
			WillReturnError(sql.ErrNoRows)

		_, err := NewStore(db).LatestForOrganization(context.Background(), 9)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
