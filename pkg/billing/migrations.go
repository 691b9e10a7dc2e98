package billing

import "github.com/platinummonkey/dealflow/pkg/database"

// Migrations creates the package catalog and the subscription mirror
var Migrations = []database.Migration{
	{
		Version:     7,
		Description: "create subscription packages",
		SQL: `
			CREATE TABLE subscription_packages (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				amount_cents BIGINT NOT NULL,
				currency TEXT NOT NULL,
				billing_interval TEXT NOT NULL DEFAULT '',
				stripe_product_id TEXT NOT NULL,
				stripe_price_id TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT subscription_packages_stripe_price_id_key UNIQUE (stripe_price_id)
			);
		`,
	},
	{
		Version:     8,
		Description: "create subscriptions",
		SQL: `
			CREATE TABLE subscriptions (
				id BIGSERIAL PRIMARY KEY,
				organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
				user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
				package_id BIGINT REFERENCES subscription_packages(id) ON DELETE SET NULL,
				stripe_subscription_id TEXT NOT NULL,
				stripe_customer_id TEXT NOT NULL DEFAULT '',
				stripe_price_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'active',
				current_period_end TIMESTAMPTZ,
				card_last4 TEXT NOT NULL DEFAULT '',
				card_brand TEXT NOT NULL DEFAULT '',
				last_event_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT subscriptions_stripe_subscription_id_key UNIQUE (stripe_subscription_id)
			);

			CREATE INDEX idx_subscriptions_organization ON subscriptions(organization_id, created_at DESC);
		`,
	},
}
