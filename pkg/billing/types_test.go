package billing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/orgs"
)

func TestOrganizationStatus(t *testing.T) {
	tests := map[string]orgs.SubscriptionStatus{
		"active":             orgs.StatusActive,
		"past_due":           orgs.StatusPastDue,
		"canceled":           orgs.StatusCanceled,
		"trialing":           orgs.StatusActive,
		"unpaid":             orgs.StatusPastDue,
		"incomplete_expired": orgs.StatusCanceled,
		"incomplete":         orgs.StatusWaiting,
		"paused":             orgs.StatusWaiting,
		"something_new":      orgs.StatusSuspended,
	}
	for provider, want := range tests {
		t.Run(provider, func(t *testing.T) {
			assert.Equal(t, want, OrganizationStatus(provider))
		})
	}
}

func TestProviderSubscriptionPeriodEnd(t *testing.T) {
	t.Run("top level", func(t *testing.T) {
		var sub ProviderSubscription
		require.NoError(t, json.Unmarshal([]byte(`{"current_period_end":1700000000,
			"items":{"data":[{"current_period_end":1800000000}]}}`), &sub))
		require.NotNil(t, sub.PeriodEnd())
		assert.Equal(t, int64(1_700_000_000), sub.PeriodEnd().Unix())
	})

	t.Run("item fallback", func(t *testing.T) {
		var sub ProviderSubscription
		require.NoError(t, json.Unmarshal([]byte(`{"items":{"data":[{"price":{"id":"price_1"},"current_period_end":1800000000}]}}`), &sub))
		require.NotNil(t, sub.PeriodEnd())
		assert.Equal(t, int64(1_800_000_000), sub.PeriodEnd().Unix())
		assert.Equal(t, "price_1", sub.PriceID())
	})

	t.Run("unknown", func(t *testing.T) {
		var sub ProviderSubscription
		assert.Nil(t, sub.PeriodEnd())
		assert.Empty(t, sub.PriceID())
	})
}

func TestEventCreatedAt(t *testing.T) {
	e := Event{Created: 1_700_000_000}
	assert.Equal(t, "2023-11-14T22:13:20Z", e.CreatedAt().Format("2006-01-02T15:04:05Z07:00"))
}
