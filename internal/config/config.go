package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration for the gateway process.
// Per-origin state (connections, selected wallets) lives in storage.
type Config struct {
	// Database
	PostgresDSN string

	// Channel transport
	Port         int
	GatewayToken string

	// Approval flow
	RequestTimeout time.Duration

	// Shell command invoked to open a popup window. Receives the approval
	// url and geometry as arguments and prints the new window id.
	UIOpenCommand string

	// Secret store
	DefaultAutoLockMinutes int

	// Per-origin rate limiting
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:            getEnv("POSTGRES_DSN", ""),
		Port:                   getEnvInt("PORT", 8080),
		GatewayToken:           getEnv("GATEWAY_TOKEN", ""),
		RequestTimeout:         time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 300)) * time.Second,
		UIOpenCommand:          getEnv("UI_OPEN_COMMAND", ""),
		DefaultAutoLockMinutes: getEnvInt("AUTO_LOCK_MINUTES", 15),
		RateLimitRPS:           getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:         getEnvInt("RATE_LIMIT_BURST", 40),
		RateLimitEnabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.GatewayToken == "" {
		return fmt.Errorf("GATEWAY_TOKEN is required")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}

	if c.DefaultAutoLockMinutes < 0 {
		return fmt.Errorf("AUTO_LOCK_MINUTES must not be negative")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}
