package commands

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/wvsnp/grantcore/internal/artifact"
	"github.com/wvsnp/grantcore/internal/eventlog"
	"github.com/wvsnp/grantcore/internal/idempotency"
	"github.com/wvsnp/grantcore/internal/logging"
	"github.com/wvsnp/grantcore/internal/projection"
	"github.com/wvsnp/grantcore/internal/retry"
)

// newTestDeps builds a Deps backed by the in-process event log,
// idempotency ledger, and projection stores, plus a sqlmock *sql.DB for
// the row-locking path lockAggregates runs directly against. Only the
// lock queries and the transaction's Begin/Commit ever reach the mock;
// everything else in a command handler runs against real (in-memory)
// collaborators, mirroring the way the domain package tests exercise
// real fold logic without a database.
func newTestDeps(t *testing.T) (Deps, sqlmock.Sqlmock, time.Time) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := eventlog.NewMemoryStore()
	stores := projection.NewMemoryStores()
	engine := projection.NewEngine(log, stores)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	deps := Deps{
		DB:          db,
		Log:         log,
		Idempotency: idempotency.NewMemoryLedger(),
		Engine:      engine,
		Stores:      stores,
		Artifacts:   artifact.NewMemoryStore(),
		Retry:       retry.Policy{Attempts: 1},
		Logger:      logging.New("commands_test", "error", "text"),
		Now:         func() time.Time { return now },
	}
	return deps, mock, now
}

// expectLock sets up the Begin/SELECT-FOR-UPDATE*rowCount/Commit
// sequence for a command whose LockPlan touches rowCount empty rows,
// matching lockAggregates's "no row yet" path (row.Scan returns
// sql.ErrNoRows, which lockRows/lockGrantBuckets/lockAllocatorRows treat
// as nothing to lock).
func expectLock(mock sqlmock.Sqlmock, rowCount int) {
	mock.ExpectBegin()
	for i := 0; i < rowCount; i++ {
		mock.ExpectQuery(".*FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	}
	mock.ExpectCommit()
}
