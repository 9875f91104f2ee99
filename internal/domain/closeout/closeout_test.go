package closeout

import "testing"

func TestPreflightPassFailBranches(t *testing.T) {
	s := Initial("cycle-1")
	s = RecordPreflight(s, []PreflightCheck{{Name: "ALL_APPROVED_CLAIMS_INVOICED", Passed: true}})
	if s.Status != StatusPreflightPassed {
		t.Fatalf("expected PREFLIGHT_PASSED, got %s", s.Status)
	}

	s2 := Initial("cycle-2")
	s2 = RecordPreflight(s2, []PreflightCheck{{Name: "NO_PENDING_ADJUSTMENTS", Passed: false}})
	if s2.Status != StatusPreflightFailed {
		t.Fatalf("expected PREFLIGHT_FAILED, got %s", s2.Status)
	}
}

func TestFinancialInvariantHoldsAtReconciledAndClosed(t *testing.T) {
	s := Initial("cycle-1")
	s = RecordPreflight(s, []PreflightCheck{{Name: "x", Passed: true}})
	s = Start(s)
	s = Reconcile(s, FinancialSummary{Awarded: 100000, Liquidated: 50000, Released: 0, Unspent: 50000}, MatchingSummary{})
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}
	s = Close(s, "admin-1")
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}
}

func TestFinancialInvariantRejectsMismatch(t *testing.T) {
	s := Initial("cycle-1")
	s = RecordPreflight(s, []PreflightCheck{{Name: "x", Passed: true}})
	s = Start(s)
	s = Reconcile(s, FinancialSummary{Awarded: 100000, Liquidated: 40000, Released: 0, Unspent: 50000}, MatchingSummary{})
	if err := CheckInvariant(s); err == nil {
		t.Fatal("expected invariant violation for mismatched financial summary")
	}
}

func TestAuditHoldRestoresPriorStatus(t *testing.T) {
	s := Initial("cycle-1")
	s = RecordPreflight(s, []PreflightCheck{{Name: "x", Passed: true}})
	s = Start(s)
	s = Reconcile(s, FinancialSummary{Awarded: 100000, Liquidated: 50000, Unspent: 50000}, MatchingSummary{})
	s = EnterAuditHold(s)
	if allowed, _ := CanClose(s); allowed {
		t.Fatal("expected audit hold to block closing")
	}
	s = ResolveAuditHold(s)
	if s.Status != StatusReconciled {
		t.Fatalf("expected RECONCILED restored, got %s", s.Status)
	}
	if allowed, _ := CanClose(s); !allowed {
		t.Fatal("expected reconciled cycle to be closeable after hold resolved")
	}
}

func TestPostCloseAllowList(t *testing.T) {
	if !IsPostCloseAllowed("PAYMENT_RECORDED") {
		t.Fatal("expected PAYMENT_RECORDED to be allow-listed")
	}
	if IsPostCloseAllowed("CLAIM_SUBMITTED") {
		t.Fatal("expected CLAIM_SUBMITTED to be blocked post-close")
	}
}
