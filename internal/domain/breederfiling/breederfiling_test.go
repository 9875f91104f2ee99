package breederfiling

import (
	"testing"
	"time"
)

func TestRecomputeOnTimeDueSoonOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if got := Recompute(due, nil, nil, 10, due.Add(-10*24*time.Hour)); got != StatusOnTime {
		t.Fatalf("expected ON_TIME far before due, got %s", got)
	}
	if got := Recompute(due, nil, nil, 10, due.Add(-2*24*time.Hour)); got != StatusDueSoon {
		t.Fatalf("expected DUE_SOON within 3-day window, got %s", got)
	}
	if got := Recompute(due, nil, nil, 10, due.Add(24*time.Hour)); got != StatusOverdue {
		t.Fatalf("expected OVERDUE past due with no submission, got %s", got)
	}
}

func TestRecomputeCuredWithinCureWindow(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	submitted := due.Add(5 * 24 * time.Hour)
	if got := Recompute(due, &submitted, nil, 10, due.Add(20*24*time.Hour)); got != StatusCured {
		t.Fatalf("expected CURED for late-but-within-cure-window submission, got %s", got)
	}
}

func TestRecomputeOnTimeWhenSubmittedBeforeDue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	submitted := due.Add(-24 * time.Hour)
	if got := Recompute(due, &submitted, nil, 10, due.Add(48*time.Hour)); got != StatusOnTime {
		t.Fatalf("expected ON_TIME for early submission, got %s", got)
	}
}
