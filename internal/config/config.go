package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pygate/pygate/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	RulesPath     string
	StateStore    StateStoreConfig
	Consent       ConsentConfig
	API           APIConfig
	Observability ObservabilityConfig
}

// StateStoreConfig configures the durable store for grants, audit entries
// and registered tools
type StateStoreConfig struct {
	SQLitePath string
}

// ConsentConfig configures the consent manager
type ConsentConfig struct {
	Timeout time.Duration
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled  bool
	Port     int
	APIKey   string
	ReadOnly bool
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		RulesPath: getEnv("PYGATE_RULES", "pygate.yml"),
		StateStore: StateStoreConfig{
			SQLitePath: getEnv("SQLITE_PATH", "pygate.db"),
		},
		Consent: ConsentConfig{
			Timeout: getEnvDuration("CONSENT_TIMEOUT", 5*time.Minute),
		},
		API: APIConfig{
			Enabled:  getEnvBool("API_ENABLED", true),
			Port:     getEnvInt("API_PORT", 8080),
			APIKey:   getEnv("PYGATE_API_KEY", ""),
			ReadOnly: getEnvBool("API_READ_ONLY", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RulesPath == "" {
		return errors.NewPermanentf("rules path is required")
	}

	if _, err := os.Stat(c.RulesPath); os.IsNotExist(err) {
		return errors.NewPermanentf("rules file not found: %s", c.RulesPath)
	}

	if c.StateStore.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required")
	}

	if c.Consent.Timeout <= 0 {
		return errors.NewPermanentf("consent timeout must be positive, got %s", c.Consent.Timeout)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
