package app

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer      string // Required: expected issuer claim on access tokens
	JWKSURL     string // Required: auth server JWKS endpoint
	AuthBaseURL string // Required: auth server base URL (login, register, refresh)
	APIBaseURL  string // Required: resource API base URL
	ChatBaseURL string // Optional: realtime chat service base URL; chat routes 503 when unset

	DatabaseFile         string        // Optional: path to SQLite session database (default: ./gateway.db)
	SealKeyFile          string        // Optional: path to session token sealing key file
	SessionTTL           time.Duration // Optional: sliding session lifetime (default: 24h)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-session sweep interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer:               os.Getenv("GATEWAY_ISSUER"),
		JWKSURL:              os.Getenv("GATEWAY_JWKS_URL"),
		AuthBaseURL:          os.Getenv("GATEWAY_AUTH_URL"),
		APIBaseURL:           os.Getenv("GATEWAY_API_URL"),
		ChatBaseURL:          os.Getenv("GATEWAY_CHAT_URL"),
		DatabaseFile:         getEnvOrDefault("GATEWAY_DATABASE_FILE", "gateway.db"),
		SealKeyFile:          os.Getenv("GATEWAY_SEAL_KEY_FILE"),
		SessionTTL:           getEnvDurationOrDefault("GATEWAY_SESSION_TTL", 24*time.Hour),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate rejects a config that cannot possibly serve. The upstream
// URLs have no sensible defaults, so they must be explicit.
func (c Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("GATEWAY_ISSUER is required")
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("GATEWAY_JWKS_URL is required")
	}
	if c.AuthBaseURL == "" {
		return fmt.Errorf("GATEWAY_AUTH_URL is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("GATEWAY_API_URL is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
