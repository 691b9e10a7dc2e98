// Package config loads dealflow configuration from DEALFLOW_* environment
// variables, optionally seeded from an env file (DEALFLOW_ENV_FILE, default
// ".env"). Variables already present in the process environment are never
// overridden by the file.
//
// Server settings:
//
//	DEALFLOW_HOST="0.0.0.0"
//	DEALFLOW_PORT="8080"
//	DEALFLOW_HEALTH_PORT="9090"
//
// Database and Redis:
//
//	DEALFLOW_DATABASE_URL="postgres://localhost/dealflow?sslmode=disable"
//	DEALFLOW_REDIS_URL="redis://localhost:6379/0"
//
// Authorization:
//
//	DEALFLOW_SUPER_ADMIN_EMAIL="ops@example.com"
//	DEALFLOW_LOGIN_ATTEMPTS="10"
//	DEALFLOW_LOGIN_WINDOW="15m"
//
// Billing:
//
//	DEALFLOW_STRIPE_SECRET_KEY="sk_live_..."
//	DEALFLOW_STRIPE_WEBHOOK_SECRET="whsec_..."
//
// Validation runs at load time; LoadConfig returns an error rather than a
// partially usable configuration.
package config
