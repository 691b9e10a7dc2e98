package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      database.Config
	Redis         RedisConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Mail          MailConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig

	// RBACCatalogPath points at a YAML role/permission catalog. Empty means
	// the embedded default catalog.
	RBACCatalogPath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	AllowedOrigins []string
	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For
	TrustedProxies []string
}

// RedisConfig configures the shared login throttle store
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig holds authentication and authorization settings
type AuthConfig struct {
	// SuperAdminEmail is the bootstrap escape hatch: a user with this email is
	// treated as a super-admin even without the role. Empty disables it.
	SuperAdminEmail string
	TokenTTL        time.Duration

	LoginAttempts int
	LoginWindow   time.Duration
}

// BillingConfig holds payment provider settings
type BillingConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	APIBaseURL       string
	RequestTimeout   time.Duration
	// FrontendURL is the base of the checkout return and portal pages
	FrontendURL string
}

// MailConfig configures invitation delivery
type MailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	Sender       string
	// AcceptURL is the frontend page the invitation link points to; the
	// token is appended as a query parameter.
	AcceptURL string
}

// SchedulerConfig holds cron schedules for background jobs
type SchedulerConfig struct {
	PlanSyncSchedule        string
	InvitationPurgeSchedule string
	InvitationMaxAge        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from an optional env file and the process
// environment. Real environment variables always win over the file.
func LoadConfig() (*Config, error) {
	envFile := getEnv("DEALFLOW_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{
		Server:          loadServerConfig(),
		Database:        loadDatabaseConfig(),
		Redis:           loadRedisConfig(),
		Auth:            loadAuthConfig(),
		Billing:         loadBillingConfig(),
		Mail:            loadMailConfig(),
		Scheduler:       loadSchedulerConfig(),
		Observability:   loadObservabilityConfig(),
		RBACCatalogPath: getEnv("DEALFLOW_RBAC_CATALOG", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DEALFLOW_HOST", "0.0.0.0"),
		Port:            getEnv("DEALFLOW_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DEALFLOW_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DEALFLOW_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DEALFLOW_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DEALFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DEALFLOW_HEALTH_PORT", "9090"),
		AllowedOrigins:  getEnvList("DEALFLOW_ALLOWED_ORIGINS", nil),
		TrustedProxies:  getEnvList("DEALFLOW_TRUSTED_PROXIES", nil),
	}
}

func loadDatabaseConfig() database.Config {
	return database.Config{
		URL:         getEnv("DEALFLOW_DATABASE_URL", ""),
		MaxConns:    getEnvInt("DEALFLOW_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("DEALFLOW_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("DEALFLOW_DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("DEALFLOW_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("DEALFLOW_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("DEALFLOW_REDIS_URL", ""),
		Password: getEnv("DEALFLOW_REDIS_PASSWORD", ""),
		DB:       getEnvInt("DEALFLOW_REDIS_DB", 0),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SuperAdminEmail: getEnv("DEALFLOW_SUPER_ADMIN_EMAIL", ""),
		TokenTTL:        getEnvDuration("DEALFLOW_TOKEN_TTL", 30*24*time.Hour),
		LoginAttempts:   getEnvInt("DEALFLOW_LOGIN_ATTEMPTS", 10),
		LoginWindow:     getEnvDuration("DEALFLOW_LOGIN_WINDOW", 15*time.Minute),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		SecretKey:        getEnv("DEALFLOW_STRIPE_SECRET_KEY", ""),
		WebhookSecret:    getEnv("DEALFLOW_STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: getEnvDuration("DEALFLOW_STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		APIBaseURL:       getEnv("DEALFLOW_STRIPE_API_URL", "https://api.stripe.com"),
		RequestTimeout:   getEnvDuration("DEALFLOW_STRIPE_TIMEOUT", 20*time.Second),
		FrontendURL:      getEnv("DEALFLOW_FRONTEND_URL", "http://localhost:3000"),
	}
}

func loadMailConfig() MailConfig {
	return MailConfig{
		SMTPHost:     getEnv("DEALFLOW_SMTP_HOST", ""),
		SMTPPort:     getEnv("DEALFLOW_SMTP_PORT", "587"),
		SMTPUsername: getEnv("DEALFLOW_SMTP_USERNAME", ""),
		SMTPPassword: getEnv("DEALFLOW_SMTP_PASSWORD", ""),
		Sender:       getEnv("DEALFLOW_SMTP_SENDER", "no-reply@localhost"),
		AcceptURL:    getEnv("DEALFLOW_INVITATION_ACCEPT_URL", "http://localhost:3000/invitations/accept"),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PlanSyncSchedule:        getEnv("DEALFLOW_PLAN_SYNC_SCHEDULE", "0 */6 * * *"),
		InvitationPurgeSchedule: getEnv("DEALFLOW_INVITATION_PURGE_SCHEDULE", "30 3 * * *"),
		InvitationMaxAge:        getEnvDuration("DEALFLOW_INVITATION_MAX_AGE", 30*24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("DEALFLOW_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DEALFLOW_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DEALFLOW_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DEALFLOW_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DEALFLOW_OTEL_SERVICE_NAME", "dealflow-api"),
		OTelServiceVersion: getEnv("DEALFLOW_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DEALFLOW_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("DEALFLOW_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (DEALFLOW_DATABASE_URL)")
	}

	if c.Billing.SecretKey != "" && c.Billing.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required when a payment provider key is configured")
	}

	if c.Auth.LoginAttempts <= 0 {
		return fmt.Errorf("login attempts must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
