package projection

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
)

// GrantStore persists one header row per grant plus one balance row per
// (grant_id, bucket).
type GrantStore interface {
	UpsertBucket(ctx context.Context, grantID string, bucket grant.Bucket, b grant.BalanceState, matching grant.Matching, rate grant.Rate, meta Metadata) error
	GetBucket(ctx context.Context, grantID string, bucket grant.Bucket) (grant.BalanceState, grant.Matching, grant.Rate, bool, error)
	UpsertHeader(ctx context.Context, grantID, cycleID string, periodStart, periodEnd, claimsDeadline time.Time, meta Metadata) error
	GetHeader(ctx context.Context, grantID string) (cycleID string, periodStart, periodEnd, claimsDeadline time.Time, found bool, err error)
	Truncate(ctx context.Context) error
}

// AllocatorStore persists one row per (cycle_id, county).
type AllocatorStore interface {
	Upsert(ctx context.Context, s allocator.State, meta Metadata) error
	Get(ctx context.Context, cycleID, county string) (allocator.State, bool, error)
	Truncate(ctx context.Context) error
}

// ClinicStore persists one row per clinic.
type ClinicStore interface {
	Upsert(ctx context.Context, s clinic.State, meta Metadata) error
	Get(ctx context.Context, clinicID string) (clinic.State, bool, error)
	Truncate(ctx context.Context) error
}

// VoucherStore persists one row per voucher.
type VoucherStore interface {
	Upsert(ctx context.Context, s voucher.State, meta Metadata) error
	Get(ctx context.Context, voucherID string) (voucher.State, bool, error)
	ListExpiredTentative(ctx context.Context) ([]voucher.State, error)
	Truncate(ctx context.Context) error
}

// ClaimStore persists one row per claim.
type ClaimStore interface {
	Upsert(ctx context.Context, s claim.State, meta Metadata) error
	Get(ctx context.Context, claimID string) (claim.State, bool, error)
	GetByFingerprint(ctx context.Context, fingerprint, cycleID string) (claim.State, bool, error)
	ListApprovedUninvoiced(ctx context.Context, clinicID, cycleID string) ([]claim.State, error)
	ListForCycle(ctx context.Context, cycleID string) ([]claim.State, error)
	Truncate(ctx context.Context) error
}

// InvoiceStore persists one row per invoice.
type InvoiceStore interface {
	Upsert(ctx context.Context, s invoice.State, meta Metadata) error
	Get(ctx context.Context, invoiceID string) (invoice.State, bool, error)
	ListEligibleForExport(ctx context.Context, clinicHasVendorCode func(clinicID string) bool) ([]invoice.State, error)
	ListForCycle(ctx context.Context, cycleID string) ([]invoice.State, error)
	Truncate(ctx context.Context) error
}

// OasisBatchStore persists one row per batch plus its line items.
type OasisBatchStore interface {
	Upsert(ctx context.Context, s oasisbatch.State, meta Metadata) error
	Get(ctx context.Context, batchID string) (oasisbatch.State, bool, error)
	GetByFingerprint(ctx context.Context, cycleID string, periodStart, periodEnd string, fingerprint string) (oasisbatch.State, bool, error)
	AddItem(ctx context.Context, batchID, invoiceID string, amountCents int64) error
	ListItems(ctx context.Context, batchID string) ([]BatchItem, error)
	ListForCycle(ctx context.Context, cycleID string) ([]oasisbatch.State, error)
	Truncate(ctx context.Context) error
}

// BatchItem is one invoice line within an OasisBatch.
type BatchItem struct {
	InvoiceID    string
	AmountCents  int64
}

// CloseoutStore persists one row per cycle.
type CloseoutStore interface {
	Upsert(ctx context.Context, s closeout.State, meta Metadata) error
	Get(ctx context.Context, cycleID string) (closeout.State, bool, error)
	Truncate(ctx context.Context) error
}

// BreederFilingStore persists one row per filing.
type BreederFilingStore interface {
	Upsert(ctx context.Context, s breederfiling.State, meta Metadata) error
	Get(ctx context.Context, filingID string) (breederfiling.State, bool, error)
	ListAll(ctx context.Context) ([]breederfiling.State, error)
	Truncate(ctx context.Context) error
}

// Stores aggregates every projection store the Engine dispatches to.
type Stores struct {
	Grants    GrantStore
	Allocators AllocatorStore
	Clinics   ClinicStore
	Vouchers  VoucherStore
	Claims    ClaimStore
	Invoices  InvoiceStore
	Batches   OasisBatchStore
	Closeouts CloseoutStore
	Filings   BreederFilingStore
}
