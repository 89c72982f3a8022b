package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultAgentsBaseURL, cfg.AgentsBaseURL)
	assert.Equal(t, DefaultMCPBaseURL, cfg.MCPBaseURL)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 30*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 0.10, cfg.ErrorRateWarning)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "API_BASE_URL", "http://api.internal:8181")
	setEnv(t, "MAX_RETRIES", "4")
	setEnv(t, "RECOVERY_TIMEOUT", "45s")
	setEnv(t, "LATENCY_WARNING_MS", "1500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://api.internal:8181", cfg.APIBaseURL)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 1500.0, cfg.LatencyWarningMS)
}

func TestLoad_InvalidBaseURL(t *testing.T) {
	setEnv(t, "MCP_BASE_URL", "not-a-url")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MCP_BASE_URL")
}

func TestLoad_MalformedNumberFallsBack(t *testing.T) {
	setEnv(t, "MAX_RETRIES", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			APIBaseURL:        "http://localhost:8181",
			AgentsBaseURL:     "http://localhost:8052",
			MCPBaseURL:        "http://localhost:8051",
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			ErrorRateWarning:  0.10,
			ErrorRateCritical: 0.50,
			LatencyWarningMS:  2000,
			LatencyCriticalMS: 5000,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "relative base URL",
			mutate:  func(c *Config) { c.AgentsBaseURL = "agents:8052" },
			wantErr: "AGENTS_BASE_URL",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.FailureThreshold = 0 },
			wantErr: "FAILURE_THRESHOLD",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: "MAX_RETRIES",
		},
		{
			name:    "inverted error rate thresholds",
			mutate:  func(c *Config) { c.ErrorRateWarning = 0.6 },
			wantErr: "ERROR_RATE_WARNING",
		},
		{
			name:    "inverted latency thresholds",
			mutate:  func(c *Config) { c.LatencyWarningMS = 9000 },
			wantErr: "LATENCY_WARNING_MS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	assert.True(t, (&Config{Env: "development"}).IsDevelopment())
	assert.False(t, (&Config{Env: "production"}).IsDevelopment())
	assert.True(t, (&Config{Env: "production"}).IsProduction())
}
