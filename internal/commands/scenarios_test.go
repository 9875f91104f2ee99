package commands

import (
	"context"
	"testing"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/closeout"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/domain/oasisbatch"
	"github.com/wvsnp/grantcore/internal/ids"
	"github.com/wvsnp/grantcore/internal/money"
)

// seedClinicAndVoucher registers an ACTIVE clinic with the given
// license expiry and issues a non-LIRP voucher against a freshly
// awarded grant, mirroring the fixture spec.md §8's S1/S2 scenarios
// share.
func seedClinicAndVoucher(t *testing.T, deps Deps, now time.Time, licenseExpires time.Time, maxReimbursement money.Cents, voucherExpires time.Time) (clinicID, voucherID, grantID, cycleID string) {
	t.Helper()
	ctx := context.Background()
	clinicID = "clinic-s"
	grantID = "grant-s"
	cycleID = "cycle-2026"

	if _, err := RegisterClinic(ctx, deps, Envelope{IdempotencyKey: "seed-clinic"}, RegisterClinicInput{
		ClinicID:         clinicID,
		LicenseNumber:    "LIC-S",
		LicenseStatus:    "ACTIVE",
		LicenseExpiresAt: licenseExpires,
		OasisVendorCode:  "VENDOR-S",
		PaymentInfoRef:   "pay-s",
	}); err != nil {
		t.Fatalf("seed clinic: %v", err)
	}

	if _, err := AwardGrant(ctx, deps, Envelope{IdempotencyKey: "seed-award"}, AwardGrantInput{
		GrantID:     grantID,
		CycleID:     cycleID,
		Bucket:      grant.BucketGeneral,
		AmountCents: 1_000_000,
	}); err != nil {
		t.Fatalf("seed award: %v", err)
	}

	out, err := IssueVoucher(ctx, deps, Envelope{IdempotencyKey: "seed-voucher"}, IssueVoucherInput{
		GrantID:          grantID,
		CycleID:          cycleID,
		CycleShort:       "FY26",
		County:           "KANAWHA",
		IsLIRP:           false,
		MaxReimbursement: maxReimbursement,
		ExpiresAt:        voucherExpires,
		Tentative:        false,
	})
	if err != nil {
		t.Fatalf("seed voucher: %v", err)
	}
	voucherID = out.VoucherID
	return clinicID, voucherID, grantID, cycleID
}

func validArtifacts() RequiredArtifacts {
	return RequiredArtifacts{
		ProcedureReportRef: "proc-ref",
		ClinicInvoiceRef:   "invoice-ref",
	}
}

// TestScenarioS1_ConcurrentDuplicateClaimSubmission mirrors spec.md
// §8 S1: two submissions with identical business inputs but different
// idempotency keys collapse onto a single CLAIM_SUBMITTED event, and
// the second call reports DuplicateDetected rather than erroring.
func TestScenarioS1_ConcurrentDuplicateClaimSubmission(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 1) // register clinic
	expectLock(mock, 2) // award grant (GENERAL+LIRP rows)
	expectLock(mock, 3) // issue voucher: grant bucket rows (2) + allocator (1)
	expectLock(mock, 2) // submit claim 1: voucher + clinic
	expectLock(mock, 2) // submit claim 2: voucher + clinic

	clinicID, voucherID, _, _ := seedClinicAndVoucher(t, deps, now,
		now.AddDate(1, 9, 0), money.Cents(50000), now.AddDate(0, 10, 0))

	in := SubmitClaimInput{
		VoucherID:       voucherID,
		ClinicID:        clinicID,
		ProcedureCode:   "spay",
		DateOfService:   "2026-01-15",
		RabiesIncluded:  false,
		SubmittedAmount: 40000,
		Artifacts:       validArtifacts(),
	}

	ctx := context.Background()
	first, err := SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-a"}, in)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.DuplicateDetected {
		t.Fatal("first submission should not be marked duplicate")
	}

	second, err := SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-b"}, in)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.DuplicateDetected {
		t.Fatal("second submission should be marked duplicate")
	}
	if second.ClaimID != first.ClaimID {
		t.Fatalf("claim ids differ: %s vs %s", first.ClaimID, second.ClaimID)
	}

	events, err := deps.Log.FetchForAggregate(ctx, "CLAIM", first.ClaimID)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	count := 0
	for _, ev := range events {
		if ev.EventType == "CLAIM_SUBMITTED" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one CLAIM_SUBMITTED event, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

// TestScenarioS2_ExpiredLicenseAtServiceDate mirrors spec.md §8 S2: a
// clinic whose license expired before the claim's date of service must
// reject submission, and no event may be appended.
func TestScenarioS2_ExpiredLicenseAtServiceDate(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 1) // register clinic
	expectLock(mock, 2) // award grant
	expectLock(mock, 3) // issue voucher
	expectLock(mock, 2) // submit claim attempt

	licenseExpires := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	clinicID, voucherID, _, _ := seedClinicAndVoucher(t, deps, now,
		licenseExpires, money.Cents(50000), now.AddDate(0, 10, 0))

	ctx := context.Background()
	_, err := SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-expired"}, SubmitClaimInput{
		VoucherID:       voucherID,
		ClinicID:        clinicID,
		ProcedureCode:   "spay",
		DateOfService:   "2026-06-15",
		SubmittedAmount: 40000,
		Artifacts:       validArtifacts(),
	})
	if err == nil {
		t.Fatal("expected an error for expired license")
	}
	if !apperrors.Is(err, apperrors.ClinicLicenseInvalidForService) {
		t.Fatalf("expected CLINIC_LICENSE_INVALID_FOR_SERVICE_DATE, got %v", err)
	}

	events, err := deps.Log.FetchSince(ctx, ids.Watermark{}, 1000)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	for _, ev := range events {
		if ev.EventType == "CLAIM_SUBMITTED" {
			t.Fatalf("expected no CLAIM_SUBMITTED event, found one for aggregate %s", ev.AggregateID)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

// TestScenarioS4_VoidReleasesInvoices mirrors spec.md §8 S4: voiding a
// batch built from a single SUBMITTED invoice clears that invoice's
// batch reference so it is eligible for a new batch.
func TestScenarioS4_VoidReleasesInvoices(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 1) // register clinic
	expectLock(mock, 2) // award grant
	expectLock(mock, 3) // issue voucher
	expectLock(mock, 2) // submit claim
	expectLock(mock, 3) // adjudicate claim: claim row + grant relock after voucher lookup (GENERAL+LIRP)
	expectLock(mock, 2) // generate invoice: clinic row + claim relock after selection
	expectLock(mock, 2) // generate export batch: closeout row + invoice relock after selection
	expectLock(mock, 2) // void batch: batch row + invoice relock after ListItems

	ctx := context.Background()
	clinicID, voucherID, grantID, cycleID := seedClinicAndVoucher(t, deps, now,
		now.AddDate(1, 0, 0), money.Cents(50000), now.AddDate(0, 10, 0))

	claimOut, err := SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-s4"}, SubmitClaimInput{
		VoucherID:       voucherID,
		ClinicID:        clinicID,
		ProcedureCode:   "spay",
		DateOfService:   "2026-01-15",
		SubmittedAmount: 40000,
		Artifacts:       validArtifacts(),
	})
	if err != nil {
		t.Fatalf("submit claim: %v", err)
	}

	if _, err := AdjudicateClaim(ctx, deps, Envelope{IdempotencyKey: "adjudicate-s4"}, AdjudicateClaimInput{
		ClaimID:        claimOut.ClaimID,
		Approve:        true,
		ApprovedAmount: 40000,
		DecisionBasis:  "within policy",
	}); err != nil {
		t.Fatalf("adjudicate claim: %v", err)
	}

	invOut, err := GenerateInvoice(ctx, deps, Envelope{IdempotencyKey: "invoice-s4"}, GenerateInvoiceInput{
		ClinicID: clinicID,
		CycleID:  cycleID,
	})
	if err != nil {
		t.Fatalf("generate invoice: %v", err)
	}
	if invOut.ClaimCount != 1 {
		t.Fatalf("expected 1 claim on the invoice, got %d", invOut.ClaimCount)
	}

	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	batchOut, err := GenerateExportBatch(ctx, deps, Envelope{IdempotencyKey: "batch-s4"}, GenerateExportBatchInput{
		CycleID:     cycleID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	if err != nil {
		t.Fatalf("generate export batch: %v", err)
	}
	if batchOut.InvoiceCount != 1 {
		t.Fatalf("expected 1 invoice in the batch, got %d", batchOut.InvoiceCount)
	}

	if _, err := VoidBatch(ctx, deps, Envelope{IdempotencyKey: "void-s4"}, VoidBatchInput{
		BatchID: batchOut.BatchID,
		Reason:  "test void",
	}); err != nil {
		t.Fatalf("void batch: %v", err)
	}

	batchState, found, err := deps.Stores.Batches.Get(ctx, batchOut.BatchID)
	if err != nil || !found {
		t.Fatalf("get batch: found=%v err=%v", found, err)
	}
	if batchState.Status != oasisbatch.StatusVoided {
		t.Fatalf("batch status = %q, want VOIDED", batchState.Status)
	}

	invState, found, err := deps.Stores.Invoices.Get(ctx, invOut.InvoiceID)
	if err != nil || !found {
		t.Fatalf("get invoice: found=%v err=%v", found, err)
	}
	if invState.BatchID != "" {
		t.Fatalf("invoice batch reference = %q, want cleared", invState.BatchID)
	}

	_ = grantID
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

// TestScenarioS5_CloseoutFinancialInvariant mirrors spec.md §8 S5: a
// grant balance of awarded=100000, liquidated=50000, released=0 must
// reconcile to unspent=50000 with awarded = liquidated+released+unspent.
func TestScenarioS5_CloseoutFinancialInvariant(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 2) // award grant
	expectLock(mock, 3) // issue voucher (encumbers 50000)
	expectLock(mock, 1) // register clinic
	expectLock(mock, 2) // submit claim
	expectLock(mock, 3) // adjudicate claim: claim row + grant relock after voucher lookup (GENERAL+LIRP)
	expectLock(mock, 2) // generate invoice: clinic row + claim relock
	expectLock(mock, 1) // record payment (invoice row)
	expectLock(mock, 1) // run preflight (closeout row)
	expectLock(mock, 1) // start closeout (closeout row)
	expectLock(mock, 3) // reconcile (closeout row + grant bucket rows)

	ctx := context.Background()
	grantID := "grant-s5"
	cycleID := "cycle-s5"

	if _, err := AwardGrant(ctx, deps, Envelope{IdempotencyKey: "award-s5"}, AwardGrantInput{
		GrantID:     grantID,
		CycleID:     cycleID,
		Bucket:      grant.BucketGeneral,
		AmountCents: 100000,
	}); err != nil {
		t.Fatalf("award grant: %v", err)
	}

	voucherOut, err := IssueVoucher(ctx, deps, Envelope{IdempotencyKey: "voucher-s5"}, IssueVoucherInput{
		GrantID:          grantID,
		CycleID:          cycleID,
		CycleShort:       "FY26",
		County:           "KANAWHA",
		MaxReimbursement: money.Cents(50000),
		ExpiresAt:        now.AddDate(0, 6, 0),
	})
	if err != nil {
		t.Fatalf("issue voucher: %v", err)
	}

	if _, err := RegisterClinic(ctx, deps, Envelope{IdempotencyKey: "clinic-s5"}, RegisterClinicInput{
		ClinicID:         "clinic-s5",
		LicenseNumber:    "LIC-S5",
		LicenseStatus:    "ACTIVE",
		LicenseExpiresAt: now.AddDate(1, 0, 0),
		OasisVendorCode:  "VENDOR-S5",
	}); err != nil {
		t.Fatalf("register clinic: %v", err)
	}

	claimOut, err := SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-s5"}, SubmitClaimInput{
		VoucherID:       voucherOut.VoucherID,
		ClinicID:        "clinic-s5",
		ProcedureCode:   "spay",
		DateOfService:   "2026-01-15",
		SubmittedAmount: 50000,
		Artifacts:       validArtifacts(),
	})
	if err != nil {
		t.Fatalf("submit claim: %v", err)
	}

	if _, err := AdjudicateClaim(ctx, deps, Envelope{IdempotencyKey: "adjudicate-s5"}, AdjudicateClaimInput{
		ClaimID:        claimOut.ClaimID,
		Approve:        true,
		ApprovedAmount: 50000,
		DecisionBasis:  "within policy",
	}); err != nil {
		t.Fatalf("adjudicate claim: %v", err)
	}

	invOut, err := GenerateInvoice(ctx, deps, Envelope{IdempotencyKey: "invoice-s5"}, GenerateInvoiceInput{
		ClinicID: "clinic-s5",
		CycleID:  cycleID,
	})
	if err != nil {
		t.Fatalf("generate invoice: %v", err)
	}

	if _, err := RecordPayment(ctx, deps, Envelope{IdempotencyKey: "payment-s5"}, RecordPaymentInput{
		InvoiceID:   invOut.InvoiceID,
		PaymentRef:  "pay-ref-s5",
		AmountCents: 50000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	if _, err := RunPreflight(ctx, deps, Envelope{IdempotencyKey: "preflight-s5"}, RunPreflightInput{
		CycleID: cycleID,
		GrantID: grantID,
	}); err != nil {
		t.Fatalf("run preflight: %v", err)
	}

	state, found, err := deps.Stores.Closeouts.Get(ctx, cycleID)
	if err != nil || !found {
		t.Fatalf("get closeout: found=%v err=%v", found, err)
	}
	if state.Status != closeout.StatusPreflightPassed {
		t.Fatalf("preflight status = %q, want PREFLIGHT_PASSED", state.Status)
	}

	if _, err := StartCloseout(ctx, deps, Envelope{IdempotencyKey: "start-s5"}, StartCloseoutInput{CycleID: cycleID}); err != nil {
		t.Fatalf("start closeout: %v", err)
	}

	reconcileOut, err := Reconcile(ctx, deps, Envelope{IdempotencyKey: "reconcile-s5"}, ReconcileInput{
		CycleID: cycleID,
		GrantID: grantID,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if reconcileOut.Unspent != money.Cents(50000).String() {
		t.Fatalf("unspent = %s, want 50000", reconcileOut.Unspent)
	}

	closeoutState, found, err := deps.Stores.Closeouts.Get(ctx, cycleID)
	if err != nil || !found {
		t.Fatalf("get closeout after reconcile: found=%v err=%v", found, err)
	}
	if closeoutState.Status != closeout.StatusReconciled {
		t.Fatalf("status = %q, want RECONCILED", closeoutState.Status)
	}
	sum := closeoutState.Financial.Liquidated.Add(closeoutState.Financial.Released).Add(closeoutState.Financial.Unspent)
	if sum != closeoutState.Financial.Awarded {
		t.Fatalf("liquidated+released+unspent = %s, want awarded %s", sum.String(), closeoutState.Financial.Awarded.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

// TestScenarioS6_PostCloseEventGate mirrors spec.md §8 S6: once a cycle
// is CLOSED, a blocked command (CLAIM_SUBMITTED) must fail with
// GRANT_CYCLE_CLOSED while an allow-listed command (ARTIFACT_ATTACHED)
// still succeeds.
func TestScenarioS6_PostCloseEventGate(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 2) // award grant
	expectLock(mock, 3) // issue voucher
	expectLock(mock, 1) // register clinic
	expectLock(mock, 2) // submit claim (before close)
	expectLock(mock, 3) // adjudicate claim: claim row + grant relock after voucher lookup (GENERAL+LIRP)
	expectLock(mock, 2) // generate invoice: clinic row + claim relock
	expectLock(mock, 1) // record payment (before close, satisfies preflight)
	expectLock(mock, 1) // run preflight (closeout row)
	expectLock(mock, 1) // start closeout (closeout row)
	expectLock(mock, 3) // reconcile (closeout row + grant bucket rows)
	expectLock(mock, 1) // close cycle (closeout row)
	expectLock(mock, 2) // blocked submit claim attempt (voucher+clinic)
	expectLock(mock, 1) // attach artifact (closeout row)

	ctx := context.Background()
	grantID := "grant-s6"
	cycleID := "cycle-s6"

	if _, err := AwardGrant(ctx, deps, Envelope{IdempotencyKey: "award-s6"}, AwardGrantInput{
		GrantID: grantID, CycleID: cycleID, Bucket: grant.BucketGeneral, AmountCents: 100000,
	}); err != nil {
		t.Fatalf("award grant: %v", err)
	}
	voucherOut, err := IssueVoucher(ctx, deps, Envelope{IdempotencyKey: "voucher-s6"}, IssueVoucherInput{
		GrantID: grantID, CycleID: cycleID, CycleShort: "FY26", County: "KANAWHA",
		MaxReimbursement: money.Cents(50000), ExpiresAt: now.AddDate(0, 6, 0),
	})
	if err != nil {
		t.Fatalf("issue voucher: %v", err)
	}
	if _, err := RegisterClinic(ctx, deps, Envelope{IdempotencyKey: "clinic-s6"}, RegisterClinicInput{
		ClinicID: "clinic-s6", LicenseNumber: "LIC-S6", LicenseStatus: "ACTIVE",
		LicenseExpiresAt: now.AddDate(1, 0, 0), OasisVendorCode: "VENDOR-S6",
	}); err != nil {
		t.Fatalf("register clinic: %v", err)
	}
	claimOut, err := SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-s6"}, SubmitClaimInput{
		VoucherID: voucherOut.VoucherID, ClinicID: "clinic-s6", ProcedureCode: "spay",
		DateOfService: "2026-01-15", SubmittedAmount: 50000, Artifacts: validArtifacts(),
	})
	if err != nil {
		t.Fatalf("submit claim: %v", err)
	}
	if _, err := AdjudicateClaim(ctx, deps, Envelope{IdempotencyKey: "adjudicate-s6"}, AdjudicateClaimInput{
		ClaimID: claimOut.ClaimID, Approve: true, ApprovedAmount: 50000, DecisionBasis: "ok",
	}); err != nil {
		t.Fatalf("adjudicate claim: %v", err)
	}
	invOut, err := GenerateInvoice(ctx, deps, Envelope{IdempotencyKey: "invoice-s6"}, GenerateInvoiceInput{
		ClinicID: "clinic-s6", CycleID: cycleID,
	})
	if err != nil {
		t.Fatalf("generate invoice: %v", err)
	}
	if _, err := RecordPayment(ctx, deps, Envelope{IdempotencyKey: "payment-s6"}, RecordPaymentInput{
		InvoiceID: invOut.InvoiceID, PaymentRef: "pay-ref-s6", AmountCents: 50000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if _, err := RunPreflight(ctx, deps, Envelope{IdempotencyKey: "preflight-s6"}, RunPreflightInput{
		CycleID: cycleID, GrantID: grantID,
	}); err != nil {
		t.Fatalf("run preflight: %v", err)
	}

	state, _, _ := deps.Stores.Closeouts.Get(ctx, cycleID)
	if state.Status != closeout.StatusPreflightPassed {
		t.Fatalf("preflight status = %q, want PREFLIGHT_PASSED", state.Status)
	}

	if _, err := StartCloseout(ctx, deps, Envelope{IdempotencyKey: "start-s6"}, StartCloseoutInput{CycleID: cycleID}); err != nil {
		t.Fatalf("start closeout: %v", err)
	}
	if _, err := Reconcile(ctx, deps, Envelope{IdempotencyKey: "reconcile-s6"}, ReconcileInput{
		CycleID: cycleID, GrantID: grantID,
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := CloseCycle(ctx, deps, Envelope{IdempotencyKey: "close-s6"}, CloseCycleInput{
		CycleID: cycleID, ClosedBy: "admin-1",
	}); err != nil {
		t.Fatalf("close cycle: %v", err)
	}

	// Blocked: CLAIM_SUBMITTED against a closed cycle.
	_, err = SubmitClaim(ctx, deps, Envelope{IdempotencyKey: "submit-after-close"}, SubmitClaimInput{
		VoucherID: voucherOut.VoucherID, ClinicID: "clinic-s6", ProcedureCode: "neuter",
		DateOfService: "2026-02-01", SubmittedAmount: 1000, Artifacts: validArtifacts(),
	})
	if err == nil {
		t.Fatal("expected GRANT_CYCLE_CLOSED for a claim submitted after close")
	}
	if !apperrors.Is(err, apperrors.GrantCycleClosed) {
		t.Fatalf("expected GRANT_CYCLE_CLOSED, got %v", err)
	}

	// Allowed: ARTIFACT_ATTACHED against a closed cycle (a late-arriving
	// audit document).
	if _, err := AttachArtifact(ctx, deps, Envelope{IdempotencyKey: "artifact-s6"}, AttachArtifactInput{
		CycleID:     cycleID,
		Content:     []byte("audit response"),
		ContentType: "text/plain",
		Kind:        "AUDIT_RESPONSE",
	}); err != nil {
		t.Fatalf("expected ARTIFACT_ATTACHED to succeed after close, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
