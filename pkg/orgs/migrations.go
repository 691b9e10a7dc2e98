package orgs

import "github.com/platinummonkey/dealflow/pkg/database"

// Migrations creates the organizations and invitations tables. Invitations
// reference users and roles, so they come after the auth and rbac sets.
var Migrations = []database.Migration{
	{
		Version:     1,
		Description: "create organizations",
		SQL: `
			CREATE TABLE organizations (
				id BIGSERIAL PRIMARY KEY,
				uuid UUID NOT NULL UNIQUE,
				name TEXT NOT NULL,
				slug TEXT NOT NULL,
				subscription_status TEXT NOT NULL DEFAULT 'new',
				industry TEXT NOT NULL DEFAULT '',
				organization_size TEXT NOT NULL DEFAULT '',
				business_email TEXT NOT NULL DEFAULT '',
				business_phone TEXT NOT NULL DEFAULT '',
				website TEXT NOT NULL DEFAULT '',
				street_address TEXT NOT NULL DEFAULT '',
				city TEXT NOT NULL DEFAULT '',
				state_province TEXT NOT NULL DEFAULT '',
				zip_postal_code TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				timezone TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT organizations_name_key UNIQUE (name),
				CONSTRAINT organizations_slug_key UNIQUE (slug),
				CONSTRAINT organizations_status_check CHECK (subscription_status IN
					('new', 'active', 'past_due', 'suspended', 'waiting', 'canceled'))
			);
			CREATE INDEX idx_organizations_status ON organizations(subscription_status);
		`,
	},
	{
		Version:     5,
		Description: "create invitations",
		SQL: `
			CREATE TABLE invitations (
				id BIGSERIAL PRIMARY KEY,
				email TEXT NOT NULL,
				role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
				token TEXT NOT NULL,
				invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT invitations_email_key UNIQUE (email),
				CONSTRAINT invitations_token_key UNIQUE (token)
			);
			CREATE INDEX idx_invitations_created ON invitations(created_at);
		`,
	},
}
