// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Frontend registry storage: "postgres" or "memory"
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// Database (PostgreSQL), required when StoreDriver is postgres
	DatabaseURL string `env:"DATABASE_URL"`

	// Cache (Redis), optional. Enables the identity cache, the shared nonce
	// store and rate limiting.
	RedisURL string `env:"REDIS_URL"`

	// Server public key (PEM) used to verify request signatures
	PublicKeyPath string `env:"PUBLIC_KEY_PATH,required,notEmpty"`

	// argon2id PHC hash of the admin bearer token; empty disables /admin
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// Signature verification
	// Comma-separated path prefixes exempt from verification
	SignatureBypassPrefixes   string        `env:"SIGNATURE_BYPASS_PREFIXES" envDefault:"/admin/,/static/"`
	SignatureReplayProtection bool          `env:"SIGNATURE_REPLAY_PROTECTION" envDefault:"false"`
	SignatureReplayWindow     time.Duration `env:"SIGNATURE_REPLAY_WINDOW" envDefault:"5m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting (requires Redis)
	RateLimitEnabled    bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPM        int  `env:"RATE_LIMIT_RPM" envDefault:"600"`
	RateLimitBurst      int  `env:"RATE_LIMIT_BURST" envDefault:"50"`
	RateLimitAdminRPS   int  `env:"RATE_LIMIT_ADMIN_RPS" envDefault:"5"`
	RateLimitAdminBurst int  `env:"RATE_LIMIT_ADMIN_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,*.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// BypassPrefixes parses SIGNATURE_BYPASS_PREFIXES. An empty
// value yields an empty, non-nil slice, so every path is verified.
func (c *Config) BypassPrefixes() []string {
	prefixes := splitList(c.SignatureBypassPrefixes)
	if prefixes == nil {
		return []string{}
	}
	return prefixes
}

// Validate checks combinations the struct tags cannot express.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}

	if c.SignatureReplayProtection && c.SignatureReplayWindow <= 0 {
		return errors.New("SIGNATURE_REPLAY_WINDOW must be positive")
	}
	if c.MaxRequestBodySize <= 0 {
		return errors.New("MAX_REQUEST_BODY_SIZE must be positive")
	}
	return nil
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
