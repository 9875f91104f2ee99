package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	policy := Policy{Attempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1}
	err := Do(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return apperrors.Transient(apperrors.StorageTimeout, errors.New("timeout"))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryBusinessErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return apperrors.New(apperrors.InsufficientFunds, "nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	policy := Policy{Attempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1}
	err := Do(context.Background(), policy, func() error {
		calls++
		return apperrors.Transient(apperrors.StorageSerializationFailure, errors.New("conflict"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{Attempts: 3, InitialBackoff: time.Second}
	calls := 0
	err := Do(ctx, policy, func() error {
		calls++
		return apperrors.Transient(apperrors.StorageTimeout, errors.New("timeout"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation observed, got %d", calls)
	}
}
