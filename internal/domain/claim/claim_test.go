package claim

import "testing"

func TestSubmitApproveLifecycle(t *testing.T) {
	s := Initial("claim-1")
	s = Submit(s, "voucher-1", "clinic-1", "cycle-1", "fp-abc", 40000)
	if !CanAdjudicate(s) {
		t.Fatal("expected submitted claim to be adjudicable")
	}
	s = Approve(s, 40000, "within policy")
	if s.Status != StatusApproved {
		t.Fatalf("expected APPROVED, got %s", s.Status)
	}
	if CanAdjudicate(s) {
		t.Fatal("expected approved claim to no longer be adjudicable")
	}
	s = Invoice(s, "invoice-1")
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}
}

func TestDenyDoesNotRequireApprovedAmount(t *testing.T) {
	s := Initial("claim-1")
	s = Submit(s, "voucher-1", "clinic-1", "cycle-1", "fp-abc", 40000)
	s = Deny(s, "artifacts missing")
	if s.Status != StatusDenied {
		t.Fatalf("expected DENIED, got %s", s.Status)
	}
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}
}

func TestInvariantCatchesMissingInvoiceID(t *testing.T) {
	s := Initial("claim-1")
	s.Status = StatusInvoiced
	if err := CheckInvariant(s); err == nil {
		t.Fatal("expected invariant violation for missing invoice_id")
	}
}
