// Package cli implements dealflow-admin, the operator tool for preparing a
// dealflow database.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	dealflow-admin migrate
//
// seed: Load the role and permission catalog. Re-running is safe; grants are
// additive and super_admin always receives every permission.
//
//	dealflow-admin seed
//	dealflow-admin seed --catalog ./catalog.yaml
//
// create-super-admin: Create a platform account holding the super_admin role.
// The catalog must be seeded first.
//
//	DEALFLOW_ADMIN_PASSWORD=... dealflow-admin create-super-admin \
//		--email ops@example.com \
//		--first-name Ops --last-name Team
//
// # Configuration
//
// The database connection comes from the same DATABASE_* environment
// variables (or .env file) as the API server; see pkg/config.
package cli
