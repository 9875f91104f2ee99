package projection

import (
	"context"
	"sync"
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

// The Memory* stores below back command-handler unit tests. They hold
// the same upsert-by-natural-key semantics as the Postgres stores
// without requiring a database.

type grantRow struct {
	balance  grant.BalanceState
	matching grant.Matching
	rate     grant.Rate
}

type grantHeaderRow struct {
	cycleID        string
	periodStart    time.Time
	periodEnd      time.Time
	claimsDeadline time.Time
}

type MemoryGrantStore struct {
	mu      sync.Mutex
	rows    map[string]grantRow
	headers map[string]grantHeaderRow
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{rows: make(map[string]grantRow), headers: make(map[string]grantHeaderRow)}
}

var _ GrantStore = (*MemoryGrantStore)(nil)

func grantKey(grantID string, bucket grant.Bucket) string { return grantID + "|" + string(bucket) }

func (s *MemoryGrantStore) UpsertBucket(ctx context.Context, grantID string, bucket grant.Bucket, b grant.BalanceState, matching grant.Matching, rate grant.Rate, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[grantKey(grantID, bucket)] = grantRow{balance: b, matching: matching, rate: rate}
	return nil
}

func (s *MemoryGrantStore) GetBucket(ctx context.Context, grantID string, bucket grant.Bucket) (grant.BalanceState, grant.Matching, grant.Rate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[grantKey(grantID, bucket)]
	if !ok {
		return grant.BalanceState{}, grant.Matching{}, grant.Rate{}, false, nil
	}
	return row.balance, row.matching, row.rate, true, nil
}

func (s *MemoryGrantStore) UpsertHeader(ctx context.Context, grantID, cycleID string, periodStart, periodEnd, claimsDeadline time.Time, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[grantID] = grantHeaderRow{cycleID: cycleID, periodStart: periodStart, periodEnd: periodEnd, claimsDeadline: claimsDeadline}
	return nil
}

func (s *MemoryGrantStore) GetHeader(ctx context.Context, grantID string) (cycleID string, periodStart, periodEnd, claimsDeadline time.Time, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.headers[grantID]
	if !ok {
		return "", time.Time{}, time.Time{}, time.Time{}, false, nil
	}
	return h.cycleID, h.periodStart, h.periodEnd, h.claimsDeadline, true, nil
}

func (s *MemoryGrantStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]grantRow)
	s.headers = make(map[string]grantHeaderRow)
	return nil
}

type MemoryAllocatorStore struct {
	mu   sync.Mutex
	rows map[string]allocator.State
}

func NewMemoryAllocatorStore() *MemoryAllocatorStore {
	return &MemoryAllocatorStore{rows: make(map[string]allocator.State)}
}

var _ AllocatorStore = (*MemoryAllocatorStore)(nil)

func (s *MemoryAllocatorStore) Upsert(ctx context.Context, a allocator.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.CycleID+"|"+a.County] = a
	return nil
}

func (s *MemoryAllocatorStore) Get(ctx context.Context, cycleID, county string) (allocator.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[cycleID+"|"+county]
	return a, ok, nil
}

func (s *MemoryAllocatorStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]allocator.State)
	return nil
}

type MemoryClinicStore struct {
	mu   sync.Mutex
	rows map[string]clinic.State
}

func NewMemoryClinicStore() *MemoryClinicStore {
	return &MemoryClinicStore{rows: make(map[string]clinic.State)}
}

var _ ClinicStore = (*MemoryClinicStore)(nil)

func (s *MemoryClinicStore) Upsert(ctx context.Context, c clinic.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ClinicID] = c
	return nil
}

func (s *MemoryClinicStore) Get(ctx context.Context, clinicID string) (clinic.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[clinicID]
	return c, ok, nil
}

func (s *MemoryClinicStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]clinic.State)
	return nil
}

type MemoryVoucherStore struct {
	mu   sync.Mutex
	rows map[string]voucher.State
}

func NewMemoryVoucherStore() *MemoryVoucherStore {
	return &MemoryVoucherStore{rows: make(map[string]voucher.State)}
}

var _ VoucherStore = (*MemoryVoucherStore)(nil)

func (s *MemoryVoucherStore) Upsert(ctx context.Context, v voucher.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[v.VoucherID] = v
	return nil
}

func (s *MemoryVoucherStore) Get(ctx context.Context, voucherID string) (voucher.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[voucherID]
	return v, ok, nil
}

// ListExpiredTentative mirrors the Postgres store's
// `tentative_expires_at < now()` predicate: it compares against the
// real wall clock, the same source of truth SQL's now() reads, rather
// than any clock injected into Deps for deterministic command tests.
func (s *MemoryVoucherStore) ListExpiredTentative(ctx context.Context) ([]voucher.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []voucher.State
	for _, v := range s.rows {
		if v.Status == voucher.StatusTentative && v.TentativeExpiresAt != nil && v.TentativeExpiresAt.Before(now) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *MemoryVoucherStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]voucher.State)
	return nil
}

type MemoryClaimStore struct {
	mu   sync.Mutex
	rows map[string]claim.State
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{rows: make(map[string]claim.State)}
}

var _ ClaimStore = (*MemoryClaimStore)(nil)

func (s *MemoryClaimStore) Upsert(ctx context.Context, c claim.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ClaimID] = c
	return nil
}

func (s *MemoryClaimStore) Get(ctx context.Context, claimID string) (claim.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[claimID]
	return c, ok, nil
}

func (s *MemoryClaimStore) GetByFingerprint(ctx context.Context, fingerprint, cycleID string) (claim.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.Fingerprint == fingerprint && c.CycleID == cycleID {
			return c, true, nil
		}
	}
	return claim.State{}, false, nil
}

func (s *MemoryClaimStore) ListApprovedUninvoiced(ctx context.Context, clinicID, cycleID string) ([]claim.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []claim.State
	for _, c := range s.rows {
		if c.ClinicID == clinicID && c.CycleID == cycleID && c.Status == claim.StatusApproved && c.InvoiceID == "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryClaimStore) ListForCycle(ctx context.Context, cycleID string) ([]claim.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []claim.State
	for _, c := range s.rows {
		if c.CycleID == cycleID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryClaimStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]claim.State)
	return nil
}

type MemoryInvoiceStore struct {
	mu   sync.Mutex
	rows map[string]invoice.State
}

func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{rows: make(map[string]invoice.State)}
}

var _ InvoiceStore = (*MemoryInvoiceStore)(nil)

func (s *MemoryInvoiceStore) Upsert(ctx context.Context, inv invoice.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[inv.InvoiceID] = inv
	return nil
}

func (s *MemoryInvoiceStore) Get(ctx context.Context, invoiceID string) (invoice.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[invoiceID]
	return inv, ok, nil
}

func (s *MemoryInvoiceStore) ListEligibleForExport(ctx context.Context, clinicHasVendorCode func(clinicID string) bool) ([]invoice.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoice.State
	for _, inv := range s.rows {
		if invoice.EligibleForExport(inv) && (clinicHasVendorCode == nil || clinicHasVendorCode(inv.ClinicID)) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *MemoryInvoiceStore) ListForCycle(ctx context.Context, cycleID string) ([]invoice.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoice.State
	for _, inv := range s.rows {
		if inv.CycleID == cycleID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *MemoryInvoiceStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]invoice.State)
	return nil
}

type MemoryOasisBatchStore struct {
	mu    sync.Mutex
	rows  map[string]oasisbatch.State
	items map[string][]BatchItem
}

func NewMemoryOasisBatchStore() *MemoryOasisBatchStore {
	return &MemoryOasisBatchStore{rows: make(map[string]oasisbatch.State), items: make(map[string][]BatchItem)}
}

var _ OasisBatchStore = (*MemoryOasisBatchStore)(nil)

func (s *MemoryOasisBatchStore) Upsert(ctx context.Context, b oasisbatch.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[b.BatchID] = b
	return nil
}

func (s *MemoryOasisBatchStore) Get(ctx context.Context, batchID string) (oasisbatch.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[batchID]
	return b, ok, nil
}

func (s *MemoryOasisBatchStore) GetByFingerprint(ctx context.Context, cycleID string, periodStart, periodEnd string, fingerprint string) (oasisbatch.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.rows {
		if b.CycleID == cycleID && b.PeriodStart.Format(dateLayout) == periodStart &&
			b.PeriodEnd.Format(dateLayout) == periodEnd && b.Fingerprint == fingerprint {
			return b, true, nil
		}
	}
	return oasisbatch.State{}, false, nil
}

func (s *MemoryOasisBatchStore) AddItem(ctx context.Context, batchID, invoiceID string, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[batchID]
	for i, it := range items {
		if it.InvoiceID == invoiceID {
			items[i].AmountCents = amountCents
			return nil
		}
	}
	s.items[batchID] = append(items, BatchItem{InvoiceID: invoiceID, AmountCents: amountCents})
	return nil
}

func (s *MemoryOasisBatchStore) ListItems(ctx context.Context, batchID string) ([]BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BatchItem, len(s.items[batchID]))
	copy(out, s.items[batchID])
	return out, nil
}

func (s *MemoryOasisBatchStore) ListForCycle(ctx context.Context, cycleID string) ([]oasisbatch.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []oasisbatch.State
	for _, b := range s.rows {
		if b.CycleID == cycleID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryOasisBatchStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]oasisbatch.State)
	s.items = make(map[string][]BatchItem)
	return nil
}

type MemoryCloseoutStore struct {
	mu   sync.Mutex
	rows map[string]closeout.State
}

func NewMemoryCloseoutStore() *MemoryCloseoutStore {
	return &MemoryCloseoutStore{rows: make(map[string]closeout.State)}
}

var _ CloseoutStore = (*MemoryCloseoutStore)(nil)

func (s *MemoryCloseoutStore) Upsert(ctx context.Context, c closeout.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.CycleID] = c
	return nil
}

func (s *MemoryCloseoutStore) Get(ctx context.Context, cycleID string) (closeout.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[cycleID]
	return c, ok, nil
}

func (s *MemoryCloseoutStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]closeout.State)
	return nil
}

type MemoryBreederFilingStore struct {
	mu   sync.Mutex
	rows map[string]breederfiling.State
}

func NewMemoryBreederFilingStore() *MemoryBreederFilingStore {
	return &MemoryBreederFilingStore{rows: make(map[string]breederfiling.State)}
}

var _ BreederFilingStore = (*MemoryBreederFilingStore)(nil)

func (s *MemoryBreederFilingStore) Upsert(ctx context.Context, f breederfiling.State, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[f.FilingID] = f
	return nil
}

func (s *MemoryBreederFilingStore) Get(ctx context.Context, filingID string) (breederfiling.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.rows[filingID]
	return f, ok, nil
}

func (s *MemoryBreederFilingStore) ListAll(ctx context.Context) ([]breederfiling.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]breederfiling.State, 0, len(s.rows))
	for _, f := range s.rows {
		out = append(out, f)
	}
	return out, nil
}

func (s *MemoryBreederFilingStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]breederfiling.State)
	return nil
}

// NewMemoryStores builds a full Stores set backed by in-process maps,
// for command-handler tests that don't need a database.
func NewMemoryStores() Stores {
	return Stores{
		Grants:     NewMemoryGrantStore(),
		Allocators: NewMemoryAllocatorStore(),
		Clinics:    NewMemoryClinicStore(),
		Vouchers:   NewMemoryVoucherStore(),
		Claims:     NewMemoryClaimStore(),
		Invoices:   NewMemoryInvoiceStore(),
		Batches:    NewMemoryOasisBatchStore(),
		Closeouts:  NewMemoryCloseoutStore(),
		Filings:    NewMemoryBreederFilingStore(),
	}
}
