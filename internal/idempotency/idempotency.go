// Package idempotency implements the per-key reservation ledger that
// gives every command handler exactly-once visible effect across
// retries, generalizing the teacher's row-locking idiom (SELECT ... FOR
// UPDATE in internal/app/jam/store_pg.go) to a NEW/PROCESSING/COMPLETED/
// FAILED state machine.
package idempotency

import (
	"context"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

// Status is the ledger row's lifecycle state.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ReservationOutcome tells the caller how to proceed after
// CheckAndReserve.
type ReservationOutcome string

const (
	// OutcomeNew means the caller should execute the command; no prior
	// attempt (or an expired/failed one) exists.
	OutcomeNew ReservationOutcome = "NEW"
	// OutcomeCompleted means a prior attempt already finished; the
	// caller must return CachedResponse unchanged.
	OutcomeCompleted ReservationOutcome = "COMPLETED"
	// OutcomeInProgress means another attempt is currently running; the
	// caller must fail with apperrors.OperationInProgress.
	OutcomeInProgress ReservationOutcome = "IN_PROGRESS"
)

// Reservation is the result of CheckAndReserve.
type Reservation struct {
	Outcome         ReservationOutcome
	CachedResponse  []byte
}

// Ledger is the idempotency contract shared by every backing store.
type Ledger interface {
	// CheckAndReserve atomically inserts-or-reads-for-update the row for
	// key. It must be called within the same transaction the caller
	// will use to perform the command's side effects.
	CheckAndReserve(ctx context.Context, key, operationKind, inputHash string, ttl time.Duration) (Reservation, error)

	// RecordResult transitions a PROCESSING row to COMPLETED, caching
	// response for future COMPLETED reads.
	RecordResult(ctx context.Context, key string, response []byte) error

	// RecordFailure transitions a PROCESSING row to FAILED so the key
	// may be retried.
	RecordFailure(ctx context.Context, key string) error
}

func keyReusedError() error {
	return apperrors.New(apperrors.IdempotencyKeyReused, "idempotency key reused with a different operation or input")
}

func expired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}
