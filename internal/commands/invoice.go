package commands

import (
	"context"

	"github.com/google/uuid"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/invoice"
	"github.com/wvsnp/grantcore/internal/money"
)

// GenerateInvoiceInput bundles a clinic's approved, uninvoiced claims
// for a cycle into one invoice. The top-level command list names no
// separate draft/generate/submit steps for invoices, so one command
// carries an invoice through DRAFT, GENERATED, and SUBMITTED in a
// single transaction, matching the one-shot shape IssueVoucher already
// uses for its own multi-event chain.
type GenerateInvoiceInput struct {
	ClinicID string
	CycleID  string
}

// GenerateInvoiceResult is the response cached against the idempotency
// key.
type GenerateInvoiceResult struct {
	InvoiceID        string `json:"invoice_id"`
	ClaimCount       int    `json:"claim_count"`
	NoClaimsEligible bool   `json:"no_claims_eligible"`
}

// GenerateInvoice drafts, generates, and submits an invoice covering
// every APPROVED claim a clinic has in a cycle that isn't already
// attached to an invoice, then marks each claim INVOICED.
func GenerateInvoice(ctx context.Context, d Deps, env Envelope, in GenerateInvoiceInput) (GenerateInvoiceResult, error) {
	plan := LockPlan{ClinicIDs: []string{in.ClinicID}}
	return runCommand(ctx, d, env, "generate_invoice:"+in.ClinicID+":"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (GenerateInvoiceResult, error) {
		if err := requireCycleOpen(ctx, d, in.CycleID, "INVOICE_SUBMITTED"); err != nil {
			return GenerateInvoiceResult{}, err
		}

		claims, err := d.Stores.Claims.ListApprovedUninvoiced(ctx, in.ClinicID, in.CycleID)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}
		if len(claims) == 0 {
			return GenerateInvoiceResult{NoClaimsEligible: true}, nil
		}

		var total money.Cents
		claimIDs := make([]string, 0, len(claims))
		for _, c := range claims {
			if c.ApprovedAmount != nil {
				total = total.Add(*c.ApprovedAmount)
			}
			claimIDs = append(claimIDs, c.ClaimID)
		}

		// The claim set is only known after the ListApprovedUninvoiced
		// query above, so these rows could not be named in the command's
		// initial LockPlan; lock them now, inside the same transaction,
		// before writing any event that depends on their state.
		if err := lockAggregates(ctx, d.DB, LockPlan{ClaimIDs: claimIDs}); err != nil {
			return GenerateInvoiceResult{}, err
		}

		claimIDsAny := make([]any, len(claimIDs))
		for i, id := range claimIDs {
			claimIDsAny[i] = id
		}

		invoiceID := uuid.NewString()
		draftEv, err := buildEvent(d, env, "INVOICE", invoiceID, "INVOICE_DRAFTED", map[string]any{
			"clinic_id":   in.ClinicID,
			"cycle_id":    in.CycleID,
			"claim_ids":   claimIDsAny,
			"total_cents": total.String(),
		}, in.CycleID, nil)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}
		storedDraft, err := appendAndApply(ctx, d, draftEv)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}

		genCausation := storedDraft.EventID
		genEv, err := buildEvent(d, env, "INVOICE", invoiceID, "INVOICE_GENERATED", map[string]any{}, in.CycleID, &genCausation)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}
		storedGen, err := appendAndApply(ctx, d, genEv)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}

		subCausation := storedGen.EventID
		subEv, err := buildEvent(d, env, "INVOICE", invoiceID, "INVOICE_SUBMITTED", map[string]any{}, in.CycleID, &subCausation)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}
		storedSub, err := appendAndApply(ctx, d, subEv)
		if err != nil {
			return GenerateInvoiceResult{}, err
		}

		for _, claimID := range claimIDs {
			causationID := storedSub.EventID
			ev, err := buildEvent(d, env, "CLAIM", claimID, "CLAIM_INVOICED", map[string]any{
				"invoice_id": invoiceID,
			}, in.CycleID, &causationID)
			if err != nil {
				return GenerateInvoiceResult{}, err
			}
			if _, err := appendAndApply(ctx, d, ev); err != nil {
				return GenerateInvoiceResult{}, err
			}
		}

		return GenerateInvoiceResult{InvoiceID: invoiceID, ClaimCount: len(claimIDs)}, nil
	})
}

// RecordPaymentInput marks a submitted invoice paid.
type RecordPaymentInput struct {
	InvoiceID   string
	PaymentRef  string
	AmountCents money.Cents
}

// RecordPaymentResult is the response cached against the idempotency
// key.
type RecordPaymentResult struct {
	InvoiceID string `json:"invoice_id"`
}

// RecordPayment transitions a SUBMITTED invoice to PAID. It is
// allow-listed to run against a closed cycle (spec.md §4.7) since
// payment settlement routinely trails the closeout.
func RecordPayment(ctx context.Context, d Deps, env Envelope, in RecordPaymentInput) (RecordPaymentResult, error) {
	plan := LockPlan{InvoiceIDs: []string{in.InvoiceID}}
	return runCommand(ctx, d, env, "record_payment:"+in.InvoiceID+":"+in.PaymentRef, plan, func(ctx context.Context) (RecordPaymentResult, error) {
		inv, found, err := d.Stores.Invoices.Get(ctx, in.InvoiceID)
		if err != nil {
			return RecordPaymentResult{}, err
		}
		if !found {
			return RecordPaymentResult{}, apperrors.New(apperrors.InvoiceNotFound, "invoice not found: "+in.InvoiceID)
		}
		if inv.Status != invoice.StatusSubmitted {
			return RecordPaymentResult{}, apperrors.New(apperrors.BatchInvariant, "invoice "+in.InvoiceID+" is not SUBMITTED")
		}
		if err := requireCycleOpen(ctx, d, inv.CycleID, "PAYMENT_RECORDED"); err != nil {
			return RecordPaymentResult{}, err
		}

		ev, err := buildEvent(d, env, "INVOICE", in.InvoiceID, "PAYMENT_RECORDED", map[string]any{
			"payment_ref":  in.PaymentRef,
			"amount_cents": in.AmountCents.String(),
		}, inv.CycleID, nil)
		if err != nil {
			return RecordPaymentResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return RecordPaymentResult{}, err
		}
		return RecordPaymentResult{InvoiceID: in.InvoiceID}, nil
	})
}
