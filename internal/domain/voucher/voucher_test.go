package voucher

import (
	"testing"
	"time"
)

func TestIssueTentativeThenVoidOnExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Initial("v1")
	s = IssueTentative(s, "grant-1", "cycle-1", "Kanawha", false, 50000, now.Add(time.Hour), now.Add(365*24*time.Hour))
	if !IsExpiredTentative(s, now.Add(2*time.Hour)) {
		t.Fatal("expected tentative voucher to be expired")
	}
	s = Void(s, "tentative expired")
	if s.Status != StatusVoided {
		t.Fatalf("expected VOIDED, got %s", s.Status)
	}
	if IsExpiredTentative(s, now.Add(3*time.Hour)) {
		t.Fatal("a voided voucher must not be re-swept")
	}
}

func TestCanVoidGuardsTerminalStates(t *testing.T) {
	s := Initial("v1")
	s.Status = StatusRedeemed
	if allowed, _ := CanVoid(s); allowed {
		t.Fatal("expected redeemed voucher to be non-voidable")
	}
	s.Status = StatusIssued
	if allowed, _ := CanVoid(s); !allowed {
		t.Fatal("expected issued voucher to be voidable")
	}
}

func TestCanRedeemRequiresIssuedAndUnexpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Initial("v1")
	s = Issue(s, "grant-1", "cycle-1", "Kanawha", false, 50000, now.Add(24*time.Hour))
	if allowed, _ := CanRedeem(s, now); !allowed {
		t.Fatal("expected redeemable voucher")
	}
	if allowed, _ := CanRedeem(s, now.Add(48*time.Hour)); allowed {
		t.Fatal("expected voucher past expiry to be unredeemable")
	}
}
