// Package commands implements the transactional command handlers that
// are the sole way to mutate grant-core state: each command opens one
// transaction, reserves an idempotency key, locks the aggregates it
// touches in a fixed global order, runs the pure domain guards, appends
// events, updates projections, and records the result — the ten-step
// skeleton generalized from the teacher's
// pkg/storage/postgres.BaseStore.WithTx plus
// applications/jam/store_pg.go's BeginTx/defer-Rollback/Commit shape.
package commands

import (
	"context"
	"database/sql"
	"sort"

	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

// AllocatorKey identifies one (cycle, county) allocator row.
type AllocatorKey struct {
	CycleID string
	County  string
}

// LockPlan names the aggregate rows a command needs row-locked, in the
// fixed global order of spec.md §4.4.1:
// Voucher -> Grant(GENERAL,LIRP) -> Allocator -> Clinic -> Claim ->
// Invoice -> OasisBatch -> Closeout -> BreederFiling. Within a kind,
// rows lock in ascending aggregate_id order. Leave a field nil/empty to
// skip that kind entirely.
type LockPlan struct {
	VoucherIDs   []string
	GrantIDs     []string // each grant locks its GENERAL row then its LIRP row
	AllocatorIDs []AllocatorKey
	ClinicIDs    []string
	ClaimIDs     []string
	InvoiceIDs   []string
	BatchIDs     []string
	CloseoutIDs  []string
	FilingIDs    []string
}

// lockAggregates acquires every row named by plan, in the fixed order,
// via SELECT ... FOR UPDATE against the projection tables. Must run
// inside the command's transaction (ctx carries the *sql.Tx via
// txsupport.ContextWithTx).
func lockAggregates(ctx context.Context, db *sql.DB, plan LockPlan) error {
	q := txsupport.QuerierFrom(ctx, db)

	if err := lockRows(ctx, q, "vouchers", "voucher_id", plan.VoucherIDs); err != nil {
		return err
	}
	for _, grantID := range sortedStrings(plan.GrantIDs) {
		if err := lockGrantBuckets(ctx, q, grantID); err != nil {
			return err
		}
	}
	if err := lockAllocatorRows(ctx, q, plan.AllocatorIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, q, "clinics", "clinic_id", plan.ClinicIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, q, "claims", "claim_id", plan.ClaimIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, q, "invoices", "invoice_id", plan.InvoiceIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, q, "oasis_batches", "batch_id", plan.BatchIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, q, "closeouts", "cycle_id", plan.CloseoutIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, q, "breeder_filings", "filing_id", plan.FilingIDs); err != nil {
		return err
	}
	return nil
}

func lockRows(ctx context.Context, q txsupport.Querier, table, column string, ids []string) error {
	for _, id := range sortedStrings(ids) {
		row := q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE `+column+` = $1 FOR UPDATE`, id)
		var discard int
		if err := row.Scan(&discard); err != nil && err != sql.ErrNoRows {
			return err
		}
	}
	return nil
}

func lockGrantBuckets(ctx context.Context, q txsupport.Querier, grantID string) error {
	for _, bucket := range []string{"GENERAL", "LIRP"} {
		row := q.QueryRowContext(ctx, `SELECT 1 FROM grant_balances WHERE grant_id = $1 AND bucket = $2 FOR UPDATE`, grantID, bucket)
		var discard int
		if err := row.Scan(&discard); err != nil && err != sql.ErrNoRows {
			return err
		}
	}
	return nil
}

func lockAllocatorRows(ctx context.Context, q txsupport.Querier, keys []AllocatorKey) error {
	sorted := make([]AllocatorKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CycleID != sorted[j].CycleID {
			return sorted[i].CycleID < sorted[j].CycleID
		}
		return sorted[i].County < sorted[j].County
	})
	for _, k := range sorted {
		row := q.QueryRowContext(ctx, `SELECT 1 FROM allocators WHERE cycle_id = $1 AND county = $2 FOR UPDATE`, k.CycleID, k.County)
		var discard int
		if err := row.Scan(&discard); err != nil && err != sql.ErrNoRows {
			return err
		}
	}
	return nil
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
