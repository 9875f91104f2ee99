// Package config provides environment-aware configuration loading,
// generalizing the teacher's internal/config.Config (env vars + godotenv +
// flag overrides) to the grant core's storage, retry, and sweep settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all grantcored runtime configuration.
type Config struct {
	// Storage
	DatabaseDSN       string
	StatementTimeout  time.Duration
	RunMigrations     bool

	// Idempotency
	IdempotencyTTL time.Duration

	// Retry
	RetryAttempts       int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// Sweeps
	TentativeVoucherSweepInterval time.Duration
	ComplianceSweepInterval       time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load builds a Config from a .env file (if present) plus the process
// environment, falling back to documented defaults. It never fails on a
// missing .env file; a variable that is set but does not parse also
// falls back to its default. It returns an error only when the retry
// attempt count (GRANTCORE_RETRY_ATTEMPTS) is not positive.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile) // best-effort; absence is not fatal
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		DatabaseDSN:                   strings.TrimSpace(os.Getenv("GRANTCORE_DSN")),
		StatementTimeout:              durationOr("GRANTCORE_STATEMENT_TIMEOUT", 10*time.Second),
		RunMigrations:                 boolOr("GRANTCORE_RUN_MIGRATIONS", true),
		IdempotencyTTL:                durationOr("GRANTCORE_IDEMPOTENCY_TTL", 24*time.Hour),
		RetryAttempts:                 intOr("GRANTCORE_RETRY_ATTEMPTS", 3),
		RetryInitialBackoff:           durationOr("GRANTCORE_RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
		RetryMaxBackoff:               durationOr("GRANTCORE_RETRY_MAX_BACKOFF", 2*time.Second),
		TentativeVoucherSweepInterval: durationOr("GRANTCORE_TENTATIVE_SWEEP_INTERVAL", time.Minute),
		ComplianceSweepInterval:       durationOr("GRANTCORE_COMPLIANCE_SWEEP_INTERVAL", time.Hour),
		LogLevel:                      stringOr("LOG_LEVEL", "info"),
		LogFormat:                     stringOr("LOG_FORMAT", "json"),
	}

	if cfg.RetryAttempts <= 0 {
		return nil, fmt.Errorf("config: GRANTCORE_RETRY_ATTEMPTS must be positive")
	}
	return cfg, nil
}

func stringOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
