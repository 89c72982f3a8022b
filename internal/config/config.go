// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Downstream service base URLs
	APIBaseURL    string
	AgentsBaseURL string
	MCPBaseURL    string

	// Client tuning
	MaxConnections   int
	MaxPerHost       int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Monitor tuning
	MonitorInterval   time.Duration
	OpenCriticalAfter time.Duration
	ErrorRateWarning  float64
	ErrorRateCritical float64
	LatencyWarningMS  float64
	LatencyCriticalMS float64

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, alerts stay in memory if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC collector; empty disables tracing

	// Security
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort          = "8054"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultAPIBaseURL    = "http://localhost:8181"
	DefaultAgentsBaseURL = "http://localhost:8052"
	DefaultMCPBaseURL    = "http://localhost:8051"
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		APIBaseURL:    getEnv("API_BASE_URL", DefaultAPIBaseURL),
		AgentsBaseURL: getEnv("AGENTS_BASE_URL", DefaultAgentsBaseURL),
		MCPBaseURL:    getEnv("MCP_BASE_URL", DefaultMCPBaseURL),

		MaxConnections:   int(getEnvInt64("MAX_CONNECTIONS", 100)),
		MaxPerHost:       int(getEnvInt64("MAX_PER_HOST", 30)),
		MaxRetries:       int(getEnvInt64("MAX_RETRIES", 2)),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
		FailureThreshold: int(getEnvInt64("FAILURE_THRESHOLD", 5)),
		RecoveryTimeout:  getEnvDuration("RECOVERY_TIMEOUT", 30*time.Second),

		MonitorInterval:   getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
		OpenCriticalAfter: getEnvDuration("OPEN_CRITICAL_AFTER", 5*time.Minute),
		ErrorRateWarning:  getEnvFloat("ERROR_RATE_WARNING", 0.10),
		ErrorRateCritical: getEnvFloat("ERROR_RATE_CRITICAL", 0.50),
		LatencyWarningMS:  getEnvFloat("LATENCY_WARNING_MS", 2000),
		LatencyCriticalMS: getEnvFloat("LATENCY_CRITICAL_MS", 5000),

		DatabaseURL:  os.Getenv("DATABASE_URL"), // Optional, alerts stay in memory if not set
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS: int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"API_BASE_URL":    c.APIBaseURL,
		"AGENTS_BASE_URL": c.AgentsBaseURL,
		"MCP_BASE_URL":    c.MCPBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.FailureThreshold <= 0 {
		return fmt.Errorf("FAILURE_THRESHOLD must be positive")
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("RECOVERY_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.ErrorRateWarning >= c.ErrorRateCritical {
		return fmt.Errorf("ERROR_RATE_WARNING must be below ERROR_RATE_CRITICAL")
	}
	if c.LatencyWarningMS >= c.LatencyCriticalMS {
		return fmt.Errorf("LATENCY_WARNING_MS must be below LATENCY_CRITICAL_MS")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
