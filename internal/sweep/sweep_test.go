package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/wvsnp/grantcore/internal/artifact"
	"github.com/wvsnp/grantcore/internal/commands"
	"github.com/wvsnp/grantcore/internal/domain/breederfiling"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/domain/voucher"
	"github.com/wvsnp/grantcore/internal/eventlog"
	"github.com/wvsnp/grantcore/internal/idempotency"
	"github.com/wvsnp/grantcore/internal/logging"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/projection"
	"github.com/wvsnp/grantcore/internal/retry"
)

func newTestDeps(t *testing.T, now time.Time) (commands.Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := eventlog.NewMemoryStore()
	stores := projection.NewMemoryStores()
	engine := projection.NewEngine(log, stores)

	return commands.Deps{
		DB:          db,
		Log:         log,
		Idempotency: idempotency.NewMemoryLedger(),
		Engine:      engine,
		Stores:      stores,
		Artifacts:   artifact.NewMemoryStore(),
		Retry:       retry.Policy{Attempts: 1},
		Logger:      logging.New("sweep_test", "error", "text"),
		Now:         func() time.Time { return now },
	}, mock
}

func expectLock(mock sqlmock.Sqlmock, rowCount int) {
	mock.ExpectBegin()
	for i := 0; i < rowCount; i++ {
		mock.ExpectQuery(".*FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	}
	mock.ExpectCommit()
}

// TestExpireTentativeVouchers_VoidsPastExpiryAndReleasesBucket mirrors
// spec.md §4.8's tentative-voucher sweep: a TENTATIVE voucher whose
// reservation window has lapsed is voided and its encumbrance returned
// to the grant's GENERAL bucket.
func TestExpireTentativeVouchers_VoidsPastExpiryAndReleasesBucket(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	deps, mock := newTestDeps(t, now)
	ctx := context.Background()

	expectLock(mock, 2) // award grant: GENERAL + LIRP
	_, err := commands.AwardGrant(ctx, deps, commands.Envelope{IdempotencyKey: "seed-award"}, commands.AwardGrantInput{
		GrantID:     "grant-1",
		CycleID:     "cycle-2026",
		Bucket:      grant.BucketGeneral,
		AmountCents: 500_00,
	})
	require.NoError(t, err)

	expectLock(mock, 3) // issue tentative voucher: grant buckets (2) + allocator (1)
	issued, err := commands.IssueVoucher(ctx, deps, commands.Envelope{IdempotencyKey: "seed-voucher"}, commands.IssueVoucherInput{
		GrantID:            "grant-1",
		CycleID:            "cycle-2026",
		CycleShort:         "FY26",
		County:             "KANAWHA",
		IsLIRP:             false,
		MaxReimbursement:   money.Cents(20000),
		ExpiresAt:          now.AddDate(0, 6, 0),
		Tentative:          true,
		TentativeExpiresAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	runner := Runner{Deps: deps}

	expectLock(mock, 3) // void voucher: voucher row + grant relock after voucher lookup (GENERAL+LIRP)
	voided, err := runner.ExpireTentativeVouchers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, voided)

	v, found, err := deps.Stores.Vouchers.Get(ctx, issued.VoucherID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, voucher.StatusVoided, v.Status)

	balance, _, _, found, err := deps.Stores.Grants.GetBucket(ctx, "grant-1", grant.BucketGeneral)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, money.Cents(0), balance.Encumbered)
	require.Equal(t, money.Cents(500_00), balance.Available)
	require.Equal(t, money.Cents(20000), balance.Released)

	// Re-running the sweep over the now-VOIDED voucher is a no-op: it no
	// longer appears in ListExpiredTentative, so no further lock/void call
	// should occur.
	voided, err = runner.ExpireTentativeVouchers(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, voided)
}

// TestRecomputeComplianceDeadlines_DerivesStatusFromClock mirrors
// spec.md §4.8's compliance-deadline sweep: status is a pure function
// of (due_at, submitted_at, cured_at, cure_period_days, now), recomputed
// on a schedule rather than waiting for a new event.
func TestRecomputeComplianceDeadlines_DerivesStatusFromClock(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	deps, mock := newTestDeps(t, now)
	ctx := context.Background()

	dueAt := now.Add(48 * time.Hour) // inside the 3-day due-soon window
	ev, err := eventlog.NewEvent("BREEDER_FILING", "filing-1", "BREEDER_FILING_REGISTERED", map[string]any{
		"clinic_id":        "clinic-1",
		"due_at":           dueAt.Format(time.RFC3339),
		"cure_period_days": float64(14),
	}, now, "cycle-2026", "corr-1", "admin-1", "ADMIN", nil)
	require.NoError(t, err)
	stored, err := deps.Log.Append(ctx, ev)
	require.NoError(t, err)
	require.NoError(t, deps.Engine.ApplyEvent(ctx, stored))
	// ApplyEvent derives status at the event's wall-clock ingest time;
	// recompute at the test clock so the starting status is fixed.
	require.NoError(t, deps.Engine.RefreshBreederFiling(ctx, "filing-1", now))

	before, found, err := deps.Stores.Filings.Get(ctx, "filing-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, breederfiling.StatusDueSoon, before.Status)

	// Advance the clock past due without any new event; only the sweep's
	// recompute should move the projection to OVERDUE.
	later := dueAt.Add(time.Hour)
	deps.Now = func() time.Time { return later }
	runner := Runner{Deps: deps}

	refreshed, err := runner.RecomputeComplianceDeadlines(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, refreshed)

	_ = mock // no row locks expected; the sweep reads/writes projections only

	after, found, err := deps.Stores.Filings.Get(ctx, "filing-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, breederfiling.StatusOverdue, after.Status)
}
