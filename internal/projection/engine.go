package projection

import (
	"context"
	"sort"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/allocator"
	"github.com/wvsnp/grantcore/internal/domain/breederfiling"
	"github.com/wvsnp/grantcore/internal/domain/claim"
	"github.com/wvsnp/grantcore/internal/domain/clinic"
	"github.com/wvsnp/grantcore/internal/domain/closeout"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/domain/invoice"
	"github.com/wvsnp/grantcore/internal/domain/oasisbatch"
	"github.com/wvsnp/grantcore/internal/domain/voucher"
	"github.com/wvsnp/grantcore/internal/eventlog"
	"github.com/wvsnp/grantcore/internal/ids"
	"github.com/wvsnp/grantcore/internal/money"
)

// Aggregate kinds, matching eventlog.Event.AggregateKind values emitted
// by internal/commands.
const (
	KindGrant         = "GRANT"
	KindVoucher       = "VOUCHER"
	KindAllocator     = "ALLOCATOR"
	KindClinic        = "CLINIC"
	KindClaim         = "CLAIM"
	KindInvoice       = "INVOICE"
	KindOasisBatch    = "OASIS_BATCH"
	KindCloseout      = "CLOSEOUT"
	KindBreederFiling = "BREEDER_FILING"
)

// Engine folds events from an eventlog.Store into the projection
// Stores, one aggregate at a time.
type Engine struct {
	Log    eventlog.Store
	Stores Stores
}

// NewEngine wires a projection engine over a log and its stores.
func NewEngine(log eventlog.Store, stores Stores) *Engine {
	return &Engine{Log: log, Stores: stores}
}

// ApplyEvent folds a single newly-appended event into the projection
// row(s) it touches. Called inside the same transaction the command
// used to append the event, so ctx must carry that transaction via
// txsupport.ContextWithTx for the Postgres-backed Stores to see it.
func (e *Engine) ApplyEvent(ctx context.Context, ev eventlog.Event) error {
	switch ev.AggregateKind {
	case KindGrant:
		return e.applyGrantEvent(ctx, ev)
	case KindVoucher:
		return e.applyVoucherEvent(ctx, ev)
	case KindAllocator:
		return e.applyAllocatorEvent(ctx, ev)
	case KindClinic:
		return e.applyClinicEvent(ctx, ev)
	case KindClaim:
		return e.applyClaimEvent(ctx, ev)
	case KindInvoice:
		return e.applyInvoiceEvent(ctx, ev)
	case KindOasisBatch:
		return e.applyOasisBatchEvent(ctx, ev)
	case KindCloseout:
		return e.applyCloseoutEvent(ctx, ev)
	case KindBreederFiling:
		return e.applyBreederFilingEvent(ctx, ev)
	default:
		return apperrors.New(apperrors.EventTypeInvalid, "unknown aggregate kind: "+ev.AggregateKind)
	}
}

func metaFor(ev eventlog.Event, now time.Time) Metadata {
	return MetadataFrom(ev.Watermark(), now)
}

func centsField(data map[string]any, key string) money.Cents {
	raw, _ := data[key].(string)
	c, err := money.ParseCents(raw)
	if err != nil {
		return 0
	}
	return c
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func timeField(data map[string]any, key string) (time.Time, bool) {
	raw, ok := data[key].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// --- Grant ---

func (e *Engine) foldGrant(ctx context.Context, grantID string, bucket grant.Bucket) (grant.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindGrant, grantID)
	if err != nil {
		return grant.State{}, err
	}
	s := grant.Initial(grantID)
	for _, ev := range events {
		s = foldGrantEvent(s, ev)
	}
	return s, nil
}

func foldGrantEvent(s grant.State, ev eventlog.Event) grant.State {
	b := grant.Bucket(stringField(ev.EventData, "bucket"))
	amount := centsField(ev.EventData, "amount_cents")
	switch ev.EventType {
	case "GRANT_AWARDED":
		s = grant.Award(s, b, amount)
	case "GRANT_FUNDS_ENCUMBERED":
		s, _ = grant.Encumber(s, b, amount)
	case "GRANT_FUNDS_RELEASED":
		s = grant.Release(s, b, amount)
	case "GRANT_FUNDS_LIQUIDATED":
		s = grant.Liquidate(s, b, amount)
	case "GRANT_MATCHING_RECORDED":
		s = grant.RecordMatching(s, centsField(ev.EventData, "committed_cents"), centsField(ev.EventData, "reported_cents"))
	case "GRANT_REIMBURSEMENT_RATE_SET":
		num := int64(intField(ev.EventData, "rate_num"))
		den := int64(intField(ev.EventData, "rate_den"))
		if den == 0 {
			den = 1
		}
		s.Rate = grant.Rate{Num: num, Den: den}
	case "GRANT_PERIOD_DEFINED":
		periodStart, _ := timeField(ev.EventData, "period_start")
		periodEnd, _ := timeField(ev.EventData, "period_end")
		s = grant.DefinePeriod(s, stringField(ev.EventData, "cycle_id"), periodStart, periodEnd)
	case "GRANT_CLAIMS_DEADLINE_SET":
		deadline, _ := timeField(ev.EventData, "deadline")
		s = grant.SetClaimsDeadline(s, deadline)
	}
	return s
}

func (e *Engine) applyGrantEvent(ctx context.Context, ev eventlog.Event) error {
	bucket := grant.Bucket(stringField(ev.EventData, "bucket"))
	s, err := e.foldGrant(ctx, ev.AggregateID, bucket)
	if err != nil {
		return err
	}
	if err := grant.CheckInvariant(s); err != nil {
		return err
	}
	meta := metaFor(ev, ev.IngestedAt)
	for bk, bal := range s.Buckets {
		if err := e.Stores.Grants.UpsertBucket(ctx, ev.AggregateID, bk, bal, s.Matching, s.Rate, meta); err != nil {
			return err
		}
	}
	if err := e.Stores.Grants.UpsertHeader(ctx, ev.AggregateID, s.CycleID, s.PeriodStart, s.PeriodEnd, s.ClaimsDeadline, meta); err != nil {
		return err
	}
	return nil
}

// --- Voucher ---

func (e *Engine) foldVoucher(ctx context.Context, voucherID string) (voucher.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindVoucher, voucherID)
	if err != nil {
		return voucher.State{}, err
	}
	s := voucher.Initial(voucherID)
	for _, ev := range events {
		s = foldVoucherEvent(s, ev)
	}
	return s, nil
}

func foldVoucherEvent(s voucher.State, ev eventlog.Event) voucher.State {
	switch ev.EventType {
	case "VOUCHER_ISSUED_TENTATIVE":
		expiresAt, _ := timeField(ev.EventData, "expires_at")
		tentativeExpiresAt, _ := timeField(ev.EventData, "tentative_expires_at")
		s = voucher.IssueTentative(s,
			stringField(ev.EventData, "grant_id"), stringField(ev.EventData, "cycle_id"),
			stringField(ev.EventData, "county"), boolField(ev.EventData, "is_lirp"),
			centsField(ev.EventData, "max_reimbursement_cents"), tentativeExpiresAt, expiresAt)
	case "VOUCHER_ISSUED":
		expiresAt, _ := timeField(ev.EventData, "expires_at")
		s = voucher.Issue(s,
			stringField(ev.EventData, "grant_id"), stringField(ev.EventData, "cycle_id"),
			stringField(ev.EventData, "county"), boolField(ev.EventData, "is_lirp"),
			centsField(ev.EventData, "max_reimbursement_cents"), expiresAt)
	case "VOUCHER_REDEEMED":
		s = voucher.Redeem(s)
	case "VOUCHER_EXPIRED":
		s = voucher.Expire(s)
	case "VOUCHER_VOIDED":
		s = voucher.Void(s, stringField(ev.EventData, "reason"))
	}
	return s
}

func (e *Engine) applyVoucherEvent(ctx context.Context, ev eventlog.Event) error {
	s, err := e.foldVoucher(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	if err := voucher.CheckInvariant(s); err != nil {
		return err
	}
	return e.Stores.Vouchers.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// --- Allocator ---

func (e *Engine) foldAllocator(ctx context.Context, allocatorID string) (allocator.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindAllocator, allocatorID)
	if err != nil {
		return allocator.State{}, err
	}
	s := allocator.Initial(stringField(firstData(events), "cycle_id"), stringField(firstData(events), "county"))
	for _, ev := range events {
		if ev.EventType == "ALLOCATOR_SEQUENCE_MINTED" {
			result := allocator.Mint(s, stringField(ev.EventData, "cycle_short"))
			s = result.State
		}
	}
	return s, nil
}

func firstData(events []eventlog.Event) map[string]any {
	if len(events) == 0 {
		return map[string]any{}
	}
	return events[0].EventData
}

func (e *Engine) applyAllocatorEvent(ctx context.Context, ev eventlog.Event) error {
	s, err := e.foldAllocator(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	return e.Stores.Allocators.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// --- Clinic ---

func (e *Engine) foldClinic(ctx context.Context, clinicID string) (clinic.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindClinic, clinicID)
	if err != nil {
		return clinic.State{}, err
	}
	s := clinic.Initial(clinicID)
	for _, ev := range events {
		s = foldClinicEvent(s, ev)
	}
	return s, nil
}

func foldClinicEvent(s clinic.State, ev eventlog.Event) clinic.State {
	switch ev.EventType {
	case "CLINIC_REGISTERED", "CLINIC_ACTIVATED":
		licenseExpiresAt, _ := timeField(ev.EventData, "license_expires_at")
		s = clinic.Activate(s,
			stringField(ev.EventData, "license_number"), stringField(ev.EventData, "license_status"),
			licenseExpiresAt, stringField(ev.EventData, "oasis_vendor_code"))
		s.PaymentInfoRef = stringField(ev.EventData, "payment_info_ref")
	case "CLINIC_SUSPENDED":
		s = clinic.Suspend(s)
	}
	return s
}

func (e *Engine) applyClinicEvent(ctx context.Context, ev eventlog.Event) error {
	s, err := e.foldClinic(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	return e.Stores.Clinics.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// --- Claim ---

func (e *Engine) foldClaim(ctx context.Context, claimID string) (claim.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindClaim, claimID)
	if err != nil {
		return claim.State{}, err
	}
	s := claim.Initial(claimID)
	for _, ev := range events {
		s = foldClaimEvent(s, ev)
	}
	return s, nil
}

func foldClaimEvent(s claim.State, ev eventlog.Event) claim.State {
	switch ev.EventType {
	case "CLAIM_SUBMITTED":
		s = claim.Submit(s,
			stringField(ev.EventData, "voucher_id"), stringField(ev.EventData, "clinic_id"),
			stringField(ev.EventData, "cycle_id"), stringField(ev.EventData, "fingerprint"),
			centsField(ev.EventData, "submitted_amount_cents"))
	case "CLAIM_APPROVED":
		amount := centsField(ev.EventData, "approved_amount_cents")
		s = claim.Approve(s, amount, stringField(ev.EventData, "decision_basis"))
	case "CLAIM_DENIED":
		s = claim.Deny(s, stringField(ev.EventData, "decision_basis"))
	case "CLAIM_INVOICED":
		s = claim.Invoice(s, stringField(ev.EventData, "invoice_id"))
		// CLAIM_DECISION_CONFLICT_RECORDED is advisory-only and never
		// mutates claim state (spec.md §4.4.2).
	}
	return s
}

func (e *Engine) applyClaimEvent(ctx context.Context, ev eventlog.Event) error {
	if ev.EventType == "CLAIM_DECISION_CONFLICT_RECORDED" {
		return nil
	}
	s, err := e.foldClaim(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	if err := claim.CheckInvariant(s); err != nil {
		return err
	}
	return e.Stores.Claims.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// --- Invoice ---

func (e *Engine) foldInvoice(ctx context.Context, invoiceID string) (invoice.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindInvoice, invoiceID)
	if err != nil {
		return invoice.State{}, err
	}
	s := invoice.Initial(invoiceID)
	for _, ev := range events {
		s = foldInvoiceEvent(s, ev)
	}
	return s, nil
}

func foldInvoiceEvent(s invoice.State, ev eventlog.Event) invoice.State {
	switch ev.EventType {
	case "INVOICE_DRAFTED":
		claimIDs := stringSliceField(ev.EventData, "claim_ids")
		s = invoice.Draft(s, stringField(ev.EventData, "clinic_id"), stringField(ev.EventData, "cycle_id"),
			claimIDs, centsField(ev.EventData, "total_cents"))
	case "INVOICE_GENERATED":
		s = invoice.Generate(s)
	case "INVOICE_SUBMITTED":
		s = invoice.Submit(s)
	case "OASIS_EXPORT_BATCH_ITEM_ADDED":
		s = invoice.AttachToBatch(s, stringField(ev.EventData, "batch_id"))
	case "OASIS_EXPORT_BATCH_REJECTED", "OASIS_EXPORT_BATCH_VOIDED":
		s = invoice.ReleaseFromBatch(s)
	case "PAYMENT_RECORDED":
		s = invoice.RecordPayment(s)
	}
	return s
}

func stringSliceField(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func (e *Engine) applyInvoiceEvent(ctx context.Context, ev eventlog.Event) error {
	s, err := e.foldInvoice(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	return e.Stores.Invoices.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// --- OasisBatch ---

func (e *Engine) foldOasisBatch(ctx context.Context, batchID string) (oasisbatch.State, []BatchItem, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindOasisBatch, batchID)
	if err != nil {
		return oasisbatch.State{}, nil, err
	}
	s := oasisbatch.Initial(batchID)
	var items []BatchItem
	for _, ev := range events {
		s, items = foldOasisBatchEvent(s, items, ev)
	}
	return s, items, nil
}

func foldOasisBatchEvent(s oasisbatch.State, items []BatchItem, ev eventlog.Event) (oasisbatch.State, []BatchItem) {
	switch ev.EventType {
	case "OASIS_EXPORT_BATCH_CREATED":
		periodStart, _ := timeField(ev.EventData, "period_start")
		periodEnd, _ := timeField(ev.EventData, "period_end")
		wm := ids.Watermark{}
		if t, ok := timeField(ev.EventData, "selection_watermark_ingested_at"); ok {
			wm.IngestedAt = t
			wm.EventID = ids.EventID(stringField(ev.EventData, "selection_watermark_event_id"))
		}
		s = oasisbatch.Create(s, stringField(ev.EventData, "cycle_id"), periodStart, periodEnd,
			stringField(ev.EventData, "fingerprint"), wm)
	case "OASIS_EXPORT_BATCH_ITEM_ADDED":
		items = append(items, BatchItem{
			InvoiceID:   stringField(ev.EventData, "invoice_id"),
			AmountCents: int64(centsField(ev.EventData, "amount_cents")),
		})
	case "OASIS_EXPORT_FILE_RENDERED":
		s = oasisbatch.RenderFile(s, intField(ev.EventData, "record_count"),
			centsField(ev.EventData, "control_total_cents"),
			stringField(ev.EventData, "artifact_ref"), stringField(ev.EventData, "content_sha256"))
	case "OASIS_EXPORT_BATCH_SUBMITTED":
		s = oasisbatch.Submit(s)
	case "OASIS_EXPORT_BATCH_ACKNOWLEDGED":
		s = oasisbatch.Acknowledge(s)
	case "OASIS_EXPORT_BATCH_REJECTED":
		s = oasisbatch.Reject(s)
	case "OASIS_EXPORT_BATCH_VOIDED":
		s = oasisbatch.Void(s)
	}
	return s, items
}

func (e *Engine) applyOasisBatchEvent(ctx context.Context, ev eventlog.Event) error {
	s, _, err := e.foldOasisBatch(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	if err := oasisbatch.CheckInvariant(s); err != nil {
		return err
	}
	meta := metaFor(ev, ev.IngestedAt)
	if err := e.Stores.Batches.Upsert(ctx, s, meta); err != nil {
		return err
	}
	if ev.EventType == "OASIS_EXPORT_BATCH_ITEM_ADDED" {
		invoiceID := stringField(ev.EventData, "invoice_id")
		amount := int64(centsField(ev.EventData, "amount_cents"))
		if err := e.Stores.Batches.AddItem(ctx, ev.AggregateID, invoiceID, amount); err != nil {
			return err
		}
	}
	return nil
}

// --- Closeout ---

func (e *Engine) foldCloseout(ctx context.Context, cycleID string) (closeout.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindCloseout, cycleID)
	if err != nil {
		return closeout.State{}, err
	}
	s := closeout.Initial(cycleID)
	for _, ev := range events {
		s = foldCloseoutEvent(s, ev)
	}
	return s, nil
}

func foldCloseoutEvent(s closeout.State, ev eventlog.Event) closeout.State {
	switch ev.EventType {
	case "GRANT_CYCLE_CLOSEOUT_PREFLIGHT_COMPLETED":
		checks := preflightChecksField(ev.EventData, "checks")
		s = closeout.RecordPreflight(s, checks)
	case "GRANT_CYCLE_CLOSEOUT_STARTED":
		s = closeout.Start(s)
	case "GRANT_CYCLE_CLOSEOUT_RECONCILED":
		financial := closeout.FinancialSummary{
			Awarded:    centsField(ev.EventData, "awarded_cents"),
			Liquidated: centsField(ev.EventData, "liquidated_cents"),
			Released:   centsField(ev.EventData, "released_cents"),
			Unspent:    centsField(ev.EventData, "unspent_cents"),
		}
		matching := closeout.MatchingSummary{
			Committed: centsField(ev.EventData, "matching_committed_cents"),
			Reported:  centsField(ev.EventData, "matching_reported_cents"),
		}
		s = closeout.Reconcile(s, financial, matching)
	case "GRANT_CYCLE_CLOSEOUT_AUDIT_HOLD":
		s = closeout.EnterAuditHold(s)
	case "GRANT_CYCLE_CLOSEOUT_AUDIT_RESOLVED":
		s = closeout.ResolveAuditHold(s)
	case "GRANT_CYCLE_CLOSED":
		s = closeout.Close(s, stringField(ev.EventData, "closed_by"))
	}
	return s
}

func preflightChecksField(data map[string]any, key string) []closeout.PreflightCheck {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]closeout.PreflightCheck, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, closeout.PreflightCheck{
			Name:   stringField(m, "name"),
			Passed: boolField(m, "passed"),
		})
	}
	return out
}

func (e *Engine) applyCloseoutEvent(ctx context.Context, ev eventlog.Event) error {
	s, err := e.foldCloseout(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	if err := closeout.CheckInvariant(s); err != nil {
		return err
	}
	return e.Stores.Closeouts.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// --- BreederFiling ---

func (e *Engine) foldBreederFiling(ctx context.Context, filingID string, now time.Time) (breederfiling.State, error) {
	events, err := e.Log.FetchForAggregate(ctx, KindBreederFiling, filingID)
	if err != nil {
		return breederfiling.State{}, err
	}
	s := breederfiling.Initial(filingID)
	for _, ev := range events {
		s = foldBreederFilingEvent(s, ev)
	}
	return breederfiling.ApplyRecompute(s, now), nil
}

func foldBreederFilingEvent(s breederfiling.State, ev eventlog.Event) breederfiling.State {
	switch ev.EventType {
	case "BREEDER_FILING_REGISTERED":
		dueAt, _ := timeField(ev.EventData, "due_at")
		s.ClinicID = stringField(ev.EventData, "clinic_id")
		s.DueAt = dueAt
		s.CurePeriodDays = intField(ev.EventData, "cure_period_days")
	case "BREEDER_FILING_SUBMITTED":
		submittedAt, ok := timeField(ev.EventData, "submitted_at")
		if ok {
			s.SubmittedAt = &submittedAt
		}
	case "BREEDER_FILING_CURED":
		curedAt, ok := timeField(ev.EventData, "cured_at")
		if ok {
			s.CuredAt = &curedAt
		}
	}
	return s
}

func (e *Engine) applyBreederFilingEvent(ctx context.Context, ev eventlog.Event) error {
	s, err := e.foldBreederFiling(ctx, ev.AggregateID, ev.IngestedAt)
	if err != nil {
		return err
	}
	return e.Stores.Filings.Upsert(ctx, s, metaFor(ev, ev.IngestedAt))
}

// RefreshBreederFiling re-derives a filing's status against now without
// a triggering event. ON_TIME/DUE_SOON/OVERDUE transitions are driven
// by the clock, not by new events, so a filing with no activity for a
// while would otherwise show a stale status until its next submission
// or cure; the compliance sweep calls this on every registered filing
// to keep the projection current.
func (e *Engine) RefreshBreederFiling(ctx context.Context, filingID string, now time.Time) error {
	events, err := e.Log.FetchForAggregate(ctx, KindBreederFiling, filingID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	s := breederfiling.Initial(filingID)
	for _, ev := range events {
		s = foldBreederFilingEvent(s, ev)
	}
	s = breederfiling.ApplyRecompute(s, now)
	return e.Stores.Filings.Upsert(ctx, s, metaFor(events[len(events)-1], now))
}

// Rebuild truncates every projection table and replays the entire log
// in tuple order, folding per-aggregate in-memory state and writing
// the final row for each aggregate once. Single-writer: callers must
// serialize concurrent Rebuild calls (e.g. an advisory lock) themselves.
func (e *Engine) Rebuild(ctx context.Context, now time.Time) error {
	if err := e.truncateAll(ctx); err != nil {
		return err
	}

	events, err := e.Log.FetchSince(ctx, ids.Zero(), 0)
	if err != nil {
		return err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Watermark().Compare(events[j].Watermark()) < 0
	})

	grantStates := map[string]grant.State{}
	voucherStates := map[string]voucher.State{}
	allocatorStates := map[string]allocator.State{}
	clinicStates := map[string]clinic.State{}
	claimStates := map[string]claim.State{}
	invoiceStates := map[string]invoice.State{}
	batchStates := map[string]oasisbatch.State{}
	batchItems := map[string][]BatchItem{}
	closeoutStates := map[string]closeout.State{}
	filingStates := map[string]breederfiling.State{}
	watermarks := map[string]ids.Watermark{}

	for _, ev := range events {
		key := ev.AggregateKind + "|" + ev.AggregateID
		watermarks[key] = ev.Watermark()
		switch ev.AggregateKind {
		case KindGrant:
			s, ok := grantStates[ev.AggregateID]
			if !ok {
				s = grant.Initial(ev.AggregateID)
			}
			grantStates[ev.AggregateID] = foldGrantEvent(s, ev)
		case KindVoucher:
			s, ok := voucherStates[ev.AggregateID]
			if !ok {
				s = voucher.Initial(ev.AggregateID)
			}
			voucherStates[ev.AggregateID] = foldVoucherEvent(s, ev)
		case KindAllocator:
			s, ok := allocatorStates[ev.AggregateID]
			if !ok {
				s = allocator.Initial(stringField(ev.EventData, "cycle_id"), stringField(ev.EventData, "county"))
			}
			if ev.EventType == "ALLOCATOR_SEQUENCE_MINTED" {
				result := allocator.Mint(s, stringField(ev.EventData, "cycle_short"))
				s = result.State
			}
			allocatorStates[ev.AggregateID] = s
		case KindClinic:
			s, ok := clinicStates[ev.AggregateID]
			if !ok {
				s = clinic.Initial(ev.AggregateID)
			}
			clinicStates[ev.AggregateID] = foldClinicEvent(s, ev)
		case KindClaim:
			if ev.EventType == "CLAIM_DECISION_CONFLICT_RECORDED" {
				continue
			}
			s, ok := claimStates[ev.AggregateID]
			if !ok {
				s = claim.Initial(ev.AggregateID)
			}
			claimStates[ev.AggregateID] = foldClaimEvent(s, ev)
		case KindInvoice:
			s, ok := invoiceStates[ev.AggregateID]
			if !ok {
				s = invoice.Initial(ev.AggregateID)
			}
			invoiceStates[ev.AggregateID] = foldInvoiceEvent(s, ev)
		case KindOasisBatch:
			s, ok := batchStates[ev.AggregateID]
			if !ok {
				s = oasisbatch.Initial(ev.AggregateID)
			}
			var items []BatchItem
			s, items = foldOasisBatchEvent(s, batchItems[ev.AggregateID], ev)
			batchStates[ev.AggregateID] = s
			batchItems[ev.AggregateID] = items
		case KindCloseout:
			s, ok := closeoutStates[ev.AggregateID]
			if !ok {
				s = closeout.Initial(ev.AggregateID)
			}
			closeoutStates[ev.AggregateID] = foldCloseoutEvent(s, ev)
		case KindBreederFiling:
			s, ok := filingStates[ev.AggregateID]
			if !ok {
				s = breederfiling.Initial(ev.AggregateID)
			}
			filingStates[ev.AggregateID] = foldBreederFilingEvent(s, ev)
		}
	}

	for grantID, s := range grantStates {
		if err := grant.CheckInvariant(s); err != nil {
			return err
		}
		meta := MetadataFrom(watermarks[KindGrant+"|"+grantID], now)
		for bk, bal := range s.Buckets {
			if err := e.Stores.Grants.UpsertBucket(ctx, grantID, bk, bal, s.Matching, s.Rate, meta); err != nil {
				return err
			}
		}
		if err := e.Stores.Grants.UpsertHeader(ctx, grantID, s.CycleID, s.PeriodStart, s.PeriodEnd, s.ClaimsDeadline, meta); err != nil {
			return err
		}
	}
	for voucherID, s := range voucherStates {
		if err := voucher.CheckInvariant(s); err != nil {
			return err
		}
		if err := e.Stores.Vouchers.Upsert(ctx, s, MetadataFrom(watermarks[KindVoucher+"|"+voucherID], now)); err != nil {
			return err
		}
	}
	for allocatorID, s := range allocatorStates {
		if err := e.Stores.Allocators.Upsert(ctx, s, MetadataFrom(watermarks[KindAllocator+"|"+allocatorID], now)); err != nil {
			return err
		}
	}
	for clinicID, s := range clinicStates {
		if err := e.Stores.Clinics.Upsert(ctx, s, MetadataFrom(watermarks[KindClinic+"|"+clinicID], now)); err != nil {
			return err
		}
	}
	for claimID, s := range claimStates {
		if err := claim.CheckInvariant(s); err != nil {
			return err
		}
		if err := e.Stores.Claims.Upsert(ctx, s, MetadataFrom(watermarks[KindClaim+"|"+claimID], now)); err != nil {
			return err
		}
	}
	for invoiceID, s := range invoiceStates {
		if err := e.Stores.Invoices.Upsert(ctx, s, MetadataFrom(watermarks[KindInvoice+"|"+invoiceID], now)); err != nil {
			return err
		}
	}
	for batchID, s := range batchStates {
		if err := oasisbatch.CheckInvariant(s); err != nil {
			return err
		}
		meta := MetadataFrom(watermarks[KindOasisBatch+"|"+batchID], now)
		if err := e.Stores.Batches.Upsert(ctx, s, meta); err != nil {
			return err
		}
		for _, item := range batchItems[batchID] {
			if err := e.Stores.Batches.AddItem(ctx, batchID, item.InvoiceID, item.AmountCents); err != nil {
				return err
			}
		}
	}
	for cycleID, s := range closeoutStates {
		if err := closeout.CheckInvariant(s); err != nil {
			return err
		}
		if err := e.Stores.Closeouts.Upsert(ctx, s, MetadataFrom(watermarks[KindCloseout+"|"+cycleID], now)); err != nil {
			return err
		}
	}
	for filingID, s := range filingStates {
		s = breederfiling.ApplyRecompute(s, now)
		if err := e.Stores.Filings.Upsert(ctx, s, MetadataFrom(watermarks[KindBreederFiling+"|"+filingID], now)); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) truncateAll(ctx context.Context) error {
	// FK-child-first: batch items/claims/invoices reference clinics and
	// vouchers, so clear them before their parents.
	truncators := []func(context.Context) error{
		e.Stores.Batches.Truncate,
		e.Stores.Invoices.Truncate,
		e.Stores.Claims.Truncate,
		e.Stores.Filings.Truncate,
		e.Stores.Closeouts.Truncate,
		e.Stores.Vouchers.Truncate,
		e.Stores.Clinics.Truncate,
		e.Stores.Allocators.Truncate,
		e.Stores.Grants.Truncate,
	}
	for _, truncate := range truncators {
		if err := truncate(ctx); err != nil {
			return err
		}
	}
	return nil
}
