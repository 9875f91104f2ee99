package invoice

import "testing"

func TestEligibleForExportTracksBatchLifecycle(t *testing.T) {
	s := Initial("invoice-1")
	s = Draft(s, "clinic-1", "cycle-1", []string{"claim-1"}, 40000)
	s = Generate(s)
	s = Submit(s)
	if !EligibleForExport(s) {
		t.Fatal("expected submitted, unbatched invoice to be export-eligible")
	}

	s = AttachToBatch(s, "batch-1")
	if EligibleForExport(s) {
		t.Fatal("expected batched invoice to no longer be eligible")
	}

	s = ReleaseFromBatch(s)
	if !EligibleForExport(s) {
		t.Fatal("expected released invoice to be eligible again")
	}
}

func TestRecordPaymentTransitionsToPaid(t *testing.T) {
	s := Initial("invoice-1")
	s = Draft(s, "clinic-1", "cycle-1", nil, 0)
	s = Generate(s)
	s = Submit(s)
	s = RecordPayment(s)
	if s.Status != StatusPaid || s.PaymentCount != 1 {
		t.Fatalf("unexpected state after payment: %+v", s)
	}
}
