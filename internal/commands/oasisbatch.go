package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/oasisbatch"
	"github.com/wvsnp/grantcore/internal/ids"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/oasis"
)

const batchDateLayout = "2006-01-02"

// GenerateExportBatchInput selects every SUBMITTED, unbatched invoice
// for a cycle whose clinic carries an OASIS vendor code.
type GenerateExportBatchInput struct {
	CycleID     string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// GenerateExportBatchResult is the response cached against the
// idempotency key.
type GenerateExportBatchResult struct {
	BatchID            string `json:"batch_id"`
	InvoiceCount       int    `json:"invoice_count"`
	NoInvoicesEligible bool   `json:"no_invoices_eligible"`
}

// GenerateExportBatch assembles the set of eligible invoices into a new
// OasisBatch, or returns the existing batch id if an identical selection
// (same cycle, period, and invoice set) was already batched — the
// fingerprint check makes a retried call idempotent beyond what the
// idempotency ledger alone covers, per spec.md §4.4.2.
func GenerateExportBatch(ctx context.Context, d Deps, env Envelope, in GenerateExportBatchInput) (GenerateExportBatchResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "generate_export_batch:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (GenerateExportBatchResult, error) {
		eligible, err := d.Stores.Invoices.ListEligibleForExport(ctx, func(clinicID string) bool {
			c, found, err := d.Stores.Clinics.Get(ctx, clinicID)
			return err == nil && found && c.OasisVendorCode != ""
		})
		if err != nil {
			return GenerateExportBatchResult{}, err
		}

		var invoiceIDs []string
		for _, inv := range eligible {
			if inv.CycleID == in.CycleID {
				invoiceIDs = append(invoiceIDs, inv.InvoiceID)
			}
		}
		if len(invoiceIDs) == 0 {
			return GenerateExportBatchResult{NoInvoicesEligible: true}, nil
		}
		sort.Strings(invoiceIDs)

		periodStartStr := in.PeriodStart.Format(batchDateLayout)
		periodEndStr := in.PeriodEnd.Format(batchDateLayout)
		fingerprint := batchFingerprint(in.CycleID, periodStartStr, periodEndStr, invoiceIDs)

		if existing, found, err := d.Stores.Batches.GetByFingerprint(ctx, in.CycleID, periodStartStr, periodEndStr, fingerprint); err != nil {
			return GenerateExportBatchResult{}, err
		} else if found {
			return GenerateExportBatchResult{BatchID: existing.BatchID, InvoiceCount: len(invoiceIDs)}, nil
		}

		if err := requireCycleOpen(ctx, d, in.CycleID, "OASIS_EXPORT_BATCH_CREATED"); err != nil {
			return GenerateExportBatchResult{}, err
		}

		// The invoice set is only known after selection above, so it
		// could not be named in the command's initial LockPlan.
		if err := lockAggregates(ctx, d.DB, LockPlan{InvoiceIDs: invoiceIDs}); err != nil {
			return GenerateExportBatchResult{}, err
		}

		amountByInvoice := make(map[string]money.Cents, len(eligible))
		for _, inv := range eligible {
			amountByInvoice[inv.InvoiceID] = inv.Total
		}

		selectionEventID, err := ids.NewEventID()
		if err != nil {
			return GenerateExportBatchResult{}, err
		}

		batchID := uuid.NewString()
		createEv, err := buildEvent(d, env, "OASIS_BATCH", batchID, "OASIS_EXPORT_BATCH_CREATED", map[string]any{
			"cycle_id":                        in.CycleID,
			"period_start":                     in.PeriodStart.Format(time.RFC3339),
			"period_end":                       in.PeriodEnd.Format(time.RFC3339),
			"fingerprint":                      fingerprint,
			"selection_watermark_ingested_at": d.now().Format(time.RFC3339),
			"selection_watermark_event_id":     string(selectionEventID),
		}, in.CycleID, nil)
		if err != nil {
			return GenerateExportBatchResult{}, err
		}
		storedCreate, err := appendAndApply(ctx, d, createEv)
		if err != nil {
			return GenerateExportBatchResult{}, err
		}

		for _, invoiceID := range invoiceIDs {
			causationID := storedCreate.EventID
			amount := amountByInvoice[invoiceID]
			batchItemEv, err := buildEvent(d, env, "OASIS_BATCH", batchID, "OASIS_EXPORT_BATCH_ITEM_ADDED", map[string]any{
				"invoice_id":   invoiceID,
				"amount_cents": amount.String(),
			}, in.CycleID, &causationID)
			if err != nil {
				return GenerateExportBatchResult{}, err
			}
			if _, err := appendAndApply(ctx, d, batchItemEv); err != nil {
				return GenerateExportBatchResult{}, err
			}

			invoiceItemEv, err := buildEvent(d, env, "INVOICE", invoiceID, "OASIS_EXPORT_BATCH_ITEM_ADDED", map[string]any{
				"batch_id": batchID,
			}, in.CycleID, &causationID)
			if err != nil {
				return GenerateExportBatchResult{}, err
			}
			if _, err := appendAndApply(ctx, d, invoiceItemEv); err != nil {
				return GenerateExportBatchResult{}, err
			}
		}

		return GenerateExportBatchResult{BatchID: batchID, InvoiceCount: len(invoiceIDs)}, nil
	})
}

func batchFingerprint(cycleID, periodStart, periodEnd string, invoiceIDs []string) string {
	h := sha256.New()
	h.Write([]byte(cycleID))
	h.Write([]byte{0})
	h.Write([]byte(periodStart))
	h.Write([]byte{0})
	h.Write([]byte(periodEnd))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(invoiceIDs, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// RenderExportFileInput names the batch to render to the fixed-width
// OASIS format.
type RenderExportFileInput struct {
	BatchID    string
	BatchCode  string
	FundCode   string
	OrgCode    string
	ObjectCode string
}

// RenderExportFileResult is the response cached against the idempotency
// key.
type RenderExportFileResult struct {
	BatchID       string `json:"batch_id"`
	RecordCount   int    `json:"record_count"`
	ControlTotal  string `json:"control_total_cents"`
	ContentSHA256 string `json:"content_sha256"`
}

// RenderExportFile renders a CREATED batch's line items to the
// fixed-width file format and stores the content in the artifact
// store. Re-rendering an already-rendered batch returns the stored
// result unchanged rather than erroring (spec.md §4.6).
func RenderExportFile(ctx context.Context, d Deps, env Envelope, in RenderExportFileInput) (RenderExportFileResult, error) {
	plan := LockPlan{BatchIDs: []string{in.BatchID}}
	return runCommand(ctx, d, env, "render_export_file:"+in.BatchID, plan, func(ctx context.Context) (RenderExportFileResult, error) {
		batch, found, err := d.Stores.Batches.Get(ctx, in.BatchID)
		if err != nil {
			return RenderExportFileResult{}, err
		}
		if !found {
			return RenderExportFileResult{}, apperrors.New(apperrors.BatchNotFound, "batch not found: "+in.BatchID)
		}
		if batch.Status == oasisbatch.StatusFileRendered {
			return RenderExportFileResult{
				BatchID:       in.BatchID,
				RecordCount:   batch.RecordCount,
				ControlTotal:  batch.ControlTotal.String(),
				ContentSHA256: batch.ContentSHA256,
			}, nil
		}
		if allowed, reason := oasisbatch.CanRenderFile(batch); !allowed {
			return RenderExportFileResult{}, apperrors.New(apperrors.BatchNotRendered, reason)
		}
		if err := requireCycleOpen(ctx, d, batch.CycleID, "OASIS_EXPORT_FILE_RENDERED"); err != nil {
			return RenderExportFileResult{}, err
		}

		items, err := d.Stores.Batches.ListItems(ctx, in.BatchID)
		if err != nil {
			return RenderExportFileResult{}, err
		}

		invoices := make([]oasis.Invoice, 0, len(items))
		for _, item := range items {
			inv, found, err := d.Stores.Invoices.Get(ctx, item.InvoiceID)
			if err != nil {
				return RenderExportFileResult{}, err
			}
			if !found {
				return RenderExportFileResult{}, apperrors.New(apperrors.InvoiceNotFound, "invoice not found: "+item.InvoiceID)
			}
			clinic, found, err := d.Stores.Clinics.Get(ctx, inv.ClinicID)
			if err != nil {
				return RenderExportFileResult{}, err
			}
			if !found {
				return RenderExportFileResult{}, apperrors.New(apperrors.ClinicNotFound, "clinic not found: "+inv.ClinicID)
			}
			invoices = append(invoices, oasis.Invoice{
				InvoiceID:       item.InvoiceID,
				ClinicID:        inv.ClinicID,
				OasisVendorCode: clinic.OasisVendorCode,
				AmountCents:     item.AmountCents,
				PeriodStart:     batch.PeriodStart,
				PeriodEnd:       batch.PeriodEnd,
			})
		}

		result, err := oasis.Render(invoices, oasis.BatchMeta{
			BatchCode:      in.BatchCode,
			GenerationDate: d.now(),
			FundCode:       in.FundCode,
			OrgCode:        in.OrgCode,
			ObjectCode:     in.ObjectCode,
		})
		if err != nil {
			return RenderExportFileResult{}, err
		}

		artifactRecord, err := d.Artifacts.Put(ctx, result.Content, "text/plain", batch.CycleID, "oasis_export_batch", d.now())
		if err != nil {
			return RenderExportFileResult{}, err
		}

		ev, err := buildEvent(d, env, "OASIS_BATCH", in.BatchID, "OASIS_EXPORT_FILE_RENDERED", map[string]any{
			"record_count":        result.RecordCount,
			"control_total_cents": money.Cents(result.ControlTotal).String(),
			"artifact_ref":        artifactRecord.SHA256,
			"content_sha256":      result.SHA256,
		}, batch.CycleID, nil)
		if err != nil {
			return RenderExportFileResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return RenderExportFileResult{}, err
		}

		return RenderExportFileResult{
			BatchID:       in.BatchID,
			RecordCount:   result.RecordCount,
			ControlTotal:  money.Cents(result.ControlTotal).String(),
			ContentSHA256: result.SHA256,
		}, nil
	})
}

// SubmitBatchInput names the rendered batch to submit to OASIS.
type SubmitBatchInput struct {
	BatchID string
}

// SubmitBatchResult is the response cached against the idempotency key.
type SubmitBatchResult struct {
	BatchID string `json:"batch_id"`
}

// SubmitBatch transitions a FILE_RENDERED batch to SUBMITTED.
func SubmitBatch(ctx context.Context, d Deps, env Envelope, in SubmitBatchInput) (SubmitBatchResult, error) {
	plan := LockPlan{BatchIDs: []string{in.BatchID}}
	return runCommand(ctx, d, env, "submit_batch:"+in.BatchID, plan, func(ctx context.Context) (SubmitBatchResult, error) {
		batch, found, err := d.Stores.Batches.Get(ctx, in.BatchID)
		if err != nil {
			return SubmitBatchResult{}, err
		}
		if !found {
			return SubmitBatchResult{}, apperrors.New(apperrors.BatchNotFound, "batch not found: "+in.BatchID)
		}
		if batch.Status == oasisbatch.StatusSubmitted {
			return SubmitBatchResult{}, apperrors.New(apperrors.BatchAlreadySubmitted, "batch already submitted: "+in.BatchID)
		}
		if allowed, reason := oasisbatch.CanSubmit(batch); !allowed {
			return SubmitBatchResult{}, apperrors.New(apperrors.BatchNotRendered, reason)
		}
		if err := requireCycleOpen(ctx, d, batch.CycleID, "OASIS_EXPORT_BATCH_SUBMITTED"); err != nil {
			return SubmitBatchResult{}, err
		}

		ev, err := buildEvent(d, env, "OASIS_BATCH", in.BatchID, "OASIS_EXPORT_BATCH_SUBMITTED", map[string]any{}, batch.CycleID, nil)
		if err != nil {
			return SubmitBatchResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return SubmitBatchResult{}, err
		}
		return SubmitBatchResult{BatchID: in.BatchID}, nil
	})
}

// AcknowledgeBatchInput names the submitted batch OASIS accepted.
type AcknowledgeBatchInput struct {
	BatchID string
}

// AcknowledgeBatchResult is the response cached against the idempotency
// key.
type AcknowledgeBatchResult struct {
	BatchID string `json:"batch_id"`
}

// AcknowledgeBatch transitions a SUBMITTED batch to ACKNOWLEDGED.
func AcknowledgeBatch(ctx context.Context, d Deps, env Envelope, in AcknowledgeBatchInput) (AcknowledgeBatchResult, error) {
	plan := LockPlan{BatchIDs: []string{in.BatchID}}
	return runCommand(ctx, d, env, "acknowledge_batch:"+in.BatchID, plan, func(ctx context.Context) (AcknowledgeBatchResult, error) {
		batch, found, err := d.Stores.Batches.Get(ctx, in.BatchID)
		if err != nil {
			return AcknowledgeBatchResult{}, err
		}
		if !found {
			return AcknowledgeBatchResult{}, apperrors.New(apperrors.BatchNotFound, "batch not found: "+in.BatchID)
		}
		if allowed, reason := oasisbatch.CanAcknowledgeOrReject(batch); !allowed {
			return AcknowledgeBatchResult{}, apperrors.New(apperrors.BatchNotAwaitingDecision, reason)
		}
		if err := requireCycleOpen(ctx, d, batch.CycleID, "OASIS_EXPORT_BATCH_ACKNOWLEDGED"); err != nil {
			return AcknowledgeBatchResult{}, err
		}

		ev, err := buildEvent(d, env, "OASIS_BATCH", in.BatchID, "OASIS_EXPORT_BATCH_ACKNOWLEDGED", map[string]any{}, batch.CycleID, nil)
		if err != nil {
			return AcknowledgeBatchResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return AcknowledgeBatchResult{}, err
		}
		return AcknowledgeBatchResult{BatchID: in.BatchID}, nil
	})
}

// RejectBatchInput names the submitted batch OASIS rejected.
type RejectBatchInput struct {
	BatchID string
	Reason  string
}

// RejectBatchResult is the response cached against the idempotency key.
type RejectBatchResult struct {
	BatchID string `json:"batch_id"`
}

// RejectBatch transitions a SUBMITTED batch to REJECTED and releases
// every attached invoice back to eligible-for-export.
func RejectBatch(ctx context.Context, d Deps, env Envelope, in RejectBatchInput) (RejectBatchResult, error) {
	plan := LockPlan{BatchIDs: []string{in.BatchID}}
	return runCommand(ctx, d, env, "reject_batch:"+in.BatchID, plan, func(ctx context.Context) (RejectBatchResult, error) {
		batch, found, err := d.Stores.Batches.Get(ctx, in.BatchID)
		if err != nil {
			return RejectBatchResult{}, err
		}
		if !found {
			return RejectBatchResult{}, apperrors.New(apperrors.BatchNotFound, "batch not found: "+in.BatchID)
		}
		if allowed, reason := oasisbatch.CanAcknowledgeOrReject(batch); !allowed {
			return RejectBatchResult{}, apperrors.New(apperrors.BatchNotAwaitingDecision, reason)
		}
		if err := requireCycleOpen(ctx, d, batch.CycleID, "OASIS_EXPORT_BATCH_REJECTED"); err != nil {
			return RejectBatchResult{}, err
		}

		if err := releaseBatchInvoices(ctx, d, env, in.BatchID, batch.CycleID, "OASIS_EXPORT_BATCH_REJECTED", in.Reason); err != nil {
			return RejectBatchResult{}, err
		}
		return RejectBatchResult{BatchID: in.BatchID}, nil
	})
}

// VoidBatchInput names the batch to void.
type VoidBatchInput struct {
	BatchID string
	Reason  string
}

// VoidBatchResult is the response cached against the idempotency key.
type VoidBatchResult struct {
	BatchID string `json:"batch_id"`
}

// VoidBatch voids a non-submitted, non-acknowledged batch and releases
// every attached invoice back to eligible-for-export.
func VoidBatch(ctx context.Context, d Deps, env Envelope, in VoidBatchInput) (VoidBatchResult, error) {
	plan := LockPlan{BatchIDs: []string{in.BatchID}}
	return runCommand(ctx, d, env, "void_batch:"+in.BatchID, plan, func(ctx context.Context) (VoidBatchResult, error) {
		batch, found, err := d.Stores.Batches.Get(ctx, in.BatchID)
		if err != nil {
			return VoidBatchResult{}, err
		}
		if !found {
			return VoidBatchResult{}, apperrors.New(apperrors.BatchNotFound, "batch not found: "+in.BatchID)
		}
		if allowed, reason := oasisbatch.CanVoid(batch); !allowed {
			return VoidBatchResult{}, apperrors.New(apperrors.BatchAlreadyVoided, reason)
		}
		if err := requireCycleOpen(ctx, d, batch.CycleID, "OASIS_EXPORT_BATCH_VOIDED"); err != nil {
			return VoidBatchResult{}, err
		}

		if err := releaseBatchInvoices(ctx, d, env, in.BatchID, batch.CycleID, "OASIS_EXPORT_BATCH_VOIDED", in.Reason); err != nil {
			return VoidBatchResult{}, err
		}
		return VoidBatchResult{BatchID: in.BatchID}, nil
	})
}

// releaseBatchInvoices emits the terminal batch-status event, then one
// matching event per attached invoice so invoice.ReleaseFromBatch folds
// (spec.md §4.4.2: a rejected or voided batch's invoices become
// eligible for a new export batch).
func releaseBatchInvoices(ctx context.Context, d Deps, env Envelope, batchID, cycleID, eventType, reason string) error {
	items, err := d.Stores.Batches.ListItems(ctx, batchID)
	if err != nil {
		return err
	}

	// The attached invoice set is only known after the ListItems call
	// above, so it could not be named in the command's initial
	// LockPlan; lock it now, inside the same transaction, before
	// writing the events that release each invoice back to eligible.
	if len(items) > 0 {
		invoiceIDs := make([]string, len(items))
		for i, item := range items {
			invoiceIDs[i] = item.InvoiceID
		}
		if err := lockAggregates(ctx, d.DB, LockPlan{InvoiceIDs: invoiceIDs}); err != nil {
			return err
		}
	}

	batchEv, err := buildEvent(d, env, "OASIS_BATCH", batchID, eventType, map[string]any{
		"reason": reason,
	}, cycleID, nil)
	if err != nil {
		return err
	}
	storedBatchEv, err := appendAndApply(ctx, d, batchEv)
	if err != nil {
		return err
	}

	for _, item := range items {
		causationID := storedBatchEv.EventID
		invEv, err := buildEvent(d, env, "INVOICE", item.InvoiceID, eventType, map[string]any{}, cycleID, &causationID)
		if err != nil {
			return err
		}
		if _, err := appendAndApply(ctx, d, invEv); err != nil {
			return err
		}
	}
	return nil
}
