package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GRANTCORE_DSN", "")
	t.Setenv("GRANTCORE_RETRY_ATTEMPTS", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RetryAttempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.RetryAttempts)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("expected default idempotency TTL, got %v", cfg.IdempotencyTTL)
	}
	if !cfg.RunMigrations {
		t.Fatal("expected migrations to run by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GRANTCORE_RETRY_ATTEMPTS", "5")
	t.Setenv("GRANTCORE_IDEMPOTENCY_TTL", "1h")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RetryAttempts != 5 {
		t.Fatalf("expected overridden retry attempts 5, got %d", cfg.RetryAttempts)
	}
	if cfg.IdempotencyTTL != time.Hour {
		t.Fatalf("expected overridden TTL 1h, got %v", cfg.IdempotencyTTL)
	}
}

func TestLoadRejectsInvalidRetryAttempts(t *testing.T) {
	t.Setenv("GRANTCORE_RETRY_ATTEMPTS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero retry attempts")
	}
}
