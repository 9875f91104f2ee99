package clinic

import (
	"testing"
	"time"
)

func TestLicenseValidAsOfServiceDateNotNow(t *testing.T) {
	s := Initial("clinic-1")
	s = Activate(s, "LIC-1", "valid", time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), "VENDOR001")

	if allowed, reason := CanAcceptClaimFor(s, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)); allowed {
		t.Fatalf("expected license-expired rejection, got allowed with reason=%q", reason)
	}
	if allowed, _ := CanAcceptClaimFor(s, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)); !allowed {
		t.Fatal("expected service date before expiry to be accepted")
	}
}

func TestSuspendedClinicRejectsClaims(t *testing.T) {
	s := Initial("clinic-1")
	s = Activate(s, "LIC-1", "valid", time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC), "VENDOR001")
	s = Suspend(s)
	if allowed, _ := CanAcceptClaimFor(s, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)); allowed {
		t.Fatal("expected suspended clinic to reject claims")
	}
}
