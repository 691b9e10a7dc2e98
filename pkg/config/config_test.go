package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "DEALFLOW_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "DEALFLOW_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"TRUE", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run("value="+tt.envValue, func(t *testing.T) {
			t.Setenv("DEALFLOW_TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.want, getEnvBool("DEALFLOW_TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvIntAndDuration(t *testing.T) {
	t.Setenv("DEALFLOW_TEST_INT", "42")
	t.Setenv("DEALFLOW_TEST_BAD_INT", "forty")
	t.Setenv("DEALFLOW_TEST_DURATION", "90s")
	t.Setenv("DEALFLOW_TEST_BAD_DURATION", "soon")

	assert.Equal(t, 42, getEnvInt("DEALFLOW_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("DEALFLOW_TEST_BAD_INT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("DEALFLOW_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("DEALFLOW_TEST_BAD_DURATION", time.Second))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("DEALFLOW_TEST_LIST", " https://a.example.com, ,https://b.example.com ")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, getEnvList("DEALFLOW_TEST_LIST", nil))
	assert.Nil(t, getEnvList("DEALFLOW_TEST_LIST_UNSET", nil))
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", HealthPort: "9090"},
		Auth:   AuthConfig{LoginAttempts: 5, TokenTTL: time.Hour},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) {},
			wantErr: "database URL is required",
		},
		{
			name: "same server and health port",
			mutate: func(c *Config) {
				c.Database.URL = "postgres://x"
				c.Server.HealthPort = "8080"
			},
			wantErr: "must be different",
		},
		{
			name: "provider key without webhook secret",
			mutate: func(c *Config) {
				c.Database.URL = "postgres://x"
				c.Billing.SecretKey = "sk_test"
			},
			wantErr: "webhook secret is required",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Database.URL = "postgres://x"
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "api"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
		{
			name: "valid",
			mutate: func(c *Config) {
				c.Database.URL = "postgres://x"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("reads env file without overriding process env", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, "test.env")
		content := "DEALFLOW_DATABASE_URL=postgres://from-file/dealflow\n" +
			"DEALFLOW_SUPER_ADMIN_EMAIL=file@example.com\n" +
			"DEALFLOW_LOG_LEVEL=debug\n"
		require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

		t.Setenv("DEALFLOW_ENV_FILE", envFile)
		t.Setenv("DEALFLOW_SUPER_ADMIN_EMAIL", "ops@example.com")
		// godotenv.Load sets variables it reads; register them for cleanup.
		t.Setenv("DEALFLOW_DATABASE_URL", "")
		t.Setenv("DEALFLOW_LOG_LEVEL", "")
		os.Unsetenv("DEALFLOW_DATABASE_URL")
		os.Unsetenv("DEALFLOW_LOG_LEVEL")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "postgres://from-file/dealflow", cfg.Database.URL)
		assert.Equal(t, "ops@example.com", cfg.Auth.SuperAdminEmail)
		assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, 5*time.Minute, cfg.Billing.WebhookTolerance)
	})

	t.Run("missing env file is not an error", func(t *testing.T) {
		t.Setenv("DEALFLOW_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
		t.Setenv("DEALFLOW_DATABASE_URL", "postgres://env/dealflow")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "postgres://env/dealflow", cfg.Database.URL)
	})

	t.Run("fails validation", func(t *testing.T) {
		t.Setenv("DEALFLOW_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
		t.Setenv("DEALFLOW_DATABASE_URL", "postgres://env/dealflow")
		t.Setenv("DEALFLOW_PORT", "9090")

		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
	})
}
