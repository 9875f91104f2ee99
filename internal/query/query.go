// Package query is the read-only surface over grant-core state
// (spec.md §6, SPEC_FULL.md §12): single-aggregate lookups routed
// straight to the projection stores, plus a paginated event-log reader
// keyed by the `(ingested_at, event_id)` watermark tuple every other
// replay in this module already uses. Nothing here locks, appends an
// event, or touches the idempotency ledger — it is purely for serving
// reads alongside the command path.
package query

import (
	"context"
	"time"

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
	"github.com/wvsnp/grantcore/internal/projection"
)

// DefaultPageSize bounds an unpaginated ListEvents call the way the
// teacher's List/ListPending bound an unbounded `limit`.
const DefaultPageSize = 200

// Reader answers read-only queries against the projection stores and
// the event log. One Reader is built at startup alongside
// commands.Deps and shares the same Stores value.
type Reader struct {
	Log    eventlog.Store
	Stores projection.Stores
}

// EventPage is one page of the event log in replay order, plus the
// watermark to pass as `after` on the next call. Cursor is the watermark
// of the page's last event, or the `after` watermark unchanged when the
// page is empty.
type EventPage struct {
	Events []eventlog.Event
	Cursor ids.Watermark
}

// ListEvents returns up to limit events strictly after the given
// watermark, in `(ingested_at, event_id)` order — the same tuple the
// projection engine replays by. Pass ids.Zero() to start from the
// beginning of the log.
func (r Reader) ListEvents(ctx context.Context, after ids.Watermark, limit int) (EventPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	events, err := r.Log.FetchSince(ctx, after, limit)
	if err != nil {
		return EventPage{}, err
	}
	page := EventPage{Events: events}
	if len(events) > 0 {
		page.Cursor = events[len(events)-1].Watermark()
	} else {
		page.Cursor = after
	}
	return page, nil
}

// GetVoucher looks up a voucher's current projection.
func (r Reader) GetVoucher(ctx context.Context, voucherID string) (voucher.State, bool, error) {
	return r.Stores.Vouchers.Get(ctx, voucherID)
}

// GetClinic looks up a clinic's current projection.
func (r Reader) GetClinic(ctx context.Context, clinicID string) (clinic.State, bool, error) {
	return r.Stores.Clinics.Get(ctx, clinicID)
}

// GetAllocator looks up a (cycle, county) voucher-numbering sequence.
func (r Reader) GetAllocator(ctx context.Context, cycleID, county string) (allocator.State, bool, error) {
	return r.Stores.Allocators.Get(ctx, cycleID, county)
}

// GetGrantBucket looks up one bucket's balance, matching totals, and
// reimbursement rate.
func (r Reader) GetGrantBucket(ctx context.Context, grantID string, bucket grant.Bucket) (grant.BalanceState, grant.Matching, grant.Rate, bool, error) {
	return r.Stores.Grants.GetBucket(ctx, grantID, bucket)
}

// GetGrantHeader looks up a grant's cycle, period, and claims deadline.
func (r Reader) GetGrantHeader(ctx context.Context, grantID string) (cycleID string, periodStart, periodEnd, claimsDeadline time.Time, found bool, err error) {
	return r.Stores.Grants.GetHeader(ctx, grantID)
}

// GetClaim looks up a claim's current projection.
func (r Reader) GetClaim(ctx context.Context, claimID string) (claim.State, bool, error) {
	return r.Stores.Claims.Get(ctx, claimID)
}

// ListClaimsForCycle returns every claim in a cycle regardless of
// status, the same read the closeout preflight checks use.
func (r Reader) ListClaimsForCycle(ctx context.Context, cycleID string) ([]claim.State, error) {
	return r.Stores.Claims.ListForCycle(ctx, cycleID)
}

// GetInvoice looks up an invoice's current projection.
func (r Reader) GetInvoice(ctx context.Context, invoiceID string) (invoice.State, bool, error) {
	return r.Stores.Invoices.Get(ctx, invoiceID)
}

// ListInvoicesForCycle returns every invoice in a cycle regardless of
// status.
func (r Reader) ListInvoicesForCycle(ctx context.Context, cycleID string) ([]invoice.State, error) {
	return r.Stores.Invoices.ListForCycle(ctx, cycleID)
}

// GetBatch looks up an OASIS export batch and its line items.
func (r Reader) GetBatch(ctx context.Context, batchID string) (oasisbatch.State, []projection.BatchItem, bool, error) {
	state, found, err := r.Stores.Batches.Get(ctx, batchID)
	if err != nil || !found {
		return oasisbatch.State{}, nil, found, err
	}
	items, err := r.Stores.Batches.ListItems(ctx, batchID)
	if err != nil {
		return oasisbatch.State{}, nil, false, err
	}
	return state, items, true, nil
}

// ListBatchesForCycle returns every export batch in a cycle regardless
// of status.
func (r Reader) ListBatchesForCycle(ctx context.Context, cycleID string) ([]oasisbatch.State, error) {
	return r.Stores.Batches.ListForCycle(ctx, cycleID)
}

// GetCloseout looks up a cycle's closeout lifecycle state.
func (r Reader) GetCloseout(ctx context.Context, cycleID string) (closeout.State, bool, error) {
	return r.Stores.Closeouts.Get(ctx, cycleID)
}

// GetBreederFiling looks up one compliance filing's current status.
// Status reflects whatever the last fold or sweep refresh computed; a
// caller needing the status as of this instant should trigger
// internal/sweep's compliance recompute first.
func (r Reader) GetBreederFiling(ctx context.Context, filingID string) (breederfiling.State, bool, error) {
	return r.Stores.Filings.Get(ctx, filingID)
}

// ListBreederFilings returns every registered compliance filing.
func (r Reader) ListBreederFilings(ctx context.Context) ([]breederfiling.State, error) {
	return r.Stores.Filings.ListAll(ctx)
}
