package apperrors

import (
	"errors"
	"testing"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	de := Wrap(InsufficientFunds, "not enough available", cause)
	if !errors.Is(de, cause) {
		t.Fatal("expected Unwrap to expose cause")
	}
	code, ok := CodeOf(de)
	if !ok || code != InsufficientFunds {
		t.Fatalf("got code=%v ok=%v", code, ok)
	}
}

func TestWithDetail(t *testing.T) {
	de := New(BatchInvariant, "control total mismatch").WithDetail("control_total")
	if de.Detail != "control_total" {
		t.Fatal("detail not attached")
	}
	if de.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestTransientIsRetryable(t *testing.T) {
	de := Transient(StorageTimeout, errors.New("deadline exceeded"))
	if !IsRetryable(de) {
		t.Fatal("expected transient error to be retryable")
	}
	if IsRetryable(New(InsufficientFunds, "no")) {
		t.Fatal("business errors must not be retryable")
	}
}

func TestIs(t *testing.T) {
	de := New(GrantCycleClosed, "closed")
	if !Is(de, GrantCycleClosed) {
		t.Fatal("expected Is to match")
	}
	if Is(de, InsufficientFunds) {
		t.Fatal("expected Is to not match a different code")
	}
	if Is(errors.New("plain"), GrantCycleClosed) {
		t.Fatal("expected Is to return false for non-DomainError")
	}
}
