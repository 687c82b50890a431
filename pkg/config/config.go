package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the payledger daemon
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL      string
	RedisPassword string

	// Ledger daemon endpoint
	LedgerURL string

	// Message relay endpoint and its bearer token
	RelayURL   string
	RelayToken string

	// JWT configuration for the device API token
	JWTSecret string

	// PrimaryDevice marks this device as the account's primary device.
	// Linked devices reconcile the full history without flagging it unread.
	PrimaryDevice bool

	// PolicyPath is an optional path to a YAML retry/reconcile policy file
	PolicyPath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8090"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		LedgerURL:     getEnv("LEDGER_URL", "http://localhost:4444"),
		RelayURL:      getEnv("RELAY_URL", ""),
		RelayToken:    getEnv("RELAY_TOKEN", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		PrimaryDevice: getEnvAsBool("PRIMARY_DEVICE", true),
		PolicyPath:    getEnv("POLICY_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.LedgerURL == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}

	// The relay is required in production but optional in development
	if c.RelayURL == "" && c.IsProduction() {
		return fmt.Errorf("RELAY_URL is required in production")
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

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
