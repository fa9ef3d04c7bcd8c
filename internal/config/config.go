// Package config provides configuration loading and validation for the
// API server and the queue worker.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Gateway execution modes. Simulated execution is an explicit opt-in mode,
// never an automatic fallback on infrastructure failure.
const (
	GatewayRemote    = "remote"
	GatewayLocal     = "local"
	GatewaySimulated = "simulated"
)

// Config carries every external dependency location and credential. It is
// passed into each component at construction; there is no ambient global
// lookup.
type Config struct {
	DatabaseURL string

	Port int

	// GatewayMode selects how agent runs execute: "remote" (Browser Use
	// cloud API), "local" (headless Chrome driven in-process), or
	// "simulated" (canned outputs for development).
	GatewayMode string

	// BrowserUseAPIKey authenticates against the remote automation vendor.
	BrowserUseAPIKey string
	// BrowserUseBaseURL overrides the vendor endpoint, mainly for tests.
	BrowserUseBaseURL string

	// GeminiAPIKey powers the local gateway's decision loop.
	GeminiAPIKey string

	// Worker runtime tuning.
	WorkerCount  int
	PollInterval time.Duration
	RetryBackoff time.Duration
	MaxAttempts  int
}

// Load builds a Config from environment variables, applying defaults for
// everything that has a sensible one.
func Load() *Config {
	return &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              envInt("PORT", 8000),
		GatewayMode:       envDefault("GATEWAY_MODE", GatewayRemote),
		BrowserUseAPIKey:  os.Getenv("BROWSER_USE_API_KEY"),
		BrowserUseBaseURL: envDefault("BROWSER_USE_BASE_URL", "https://api.browser-use.com"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		WorkerCount:       envInt("WORKER_COUNT", 2),
		PollInterval:      envDuration("POLL_INTERVAL", 2*time.Second),
		RetryBackoff:      envDuration("RETRY_BACKOFF", 60*time.Second),
		MaxAttempts:       envInt("MAX_ATTEMPTS", 3),
	}
}

// Validate checks the configuration shared by every command.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config error: DATABASE_URL is required")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("config error: WORKER_COUNT must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config error: MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// ValidateGateway checks that the credentials for the requested gateway mode
// are present. Only the worker needs this; the API server never talks to the
// gateway.
func (c *Config) ValidateGateway() error {
	switch c.GatewayMode {
	case GatewayRemote:
		if c.BrowserUseAPIKey == "" {
			return fmt.Errorf("config error: BROWSER_USE_API_KEY is required for remote gateway mode")
		}
	case GatewayLocal:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("config error: GEMINI_API_KEY is required for local gateway mode")
		}
	case GatewaySimulated:
		// nothing to check
	default:
		return fmt.Errorf("config error: unknown gateway mode %q", c.GatewayMode)
	}
	return nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
