package auth

import "github.com/platinummonkey/dealflow/pkg/database"

// Migrations creates the users and api_tokens tables. The users table
// references organizations, created by the orgs migrations.
var Migrations = []database.Migration{
	{
		Version:     2,
		Description: "create users",
		SQL: `
			CREATE TABLE users (
				id BIGSERIAL PRIMARY KEY,
				uuid UUID NOT NULL UNIQUE,
				email TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				organization_id BIGINT REFERENCES organizations(id) ON DELETE SET NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				is_verified BOOLEAN NOT NULL DEFAULT FALSE,
				status TEXT NOT NULL DEFAULT 'active',
				stripe_customer_id TEXT,
				last_login_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT users_email_key UNIQUE (email)
			);
			CREATE INDEX idx_users_organization ON users(organization_id);
			CREATE UNIQUE INDEX idx_users_email_lower ON users(LOWER(email));
		`,
	},
	{
		Version:     6,
		Description: "create api_tokens",
		SQL: `
			CREATE TABLE api_tokens (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				token_hash TEXT NOT NULL UNIQUE,
				token_prefix TEXT NOT NULL,
				expires_at TIMESTAMPTZ,
				last_used_at TIMESTAMPTZ,
				revoked_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_api_tokens_user ON api_tokens(user_id);
		`,
	},
}
