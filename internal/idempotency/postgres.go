package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

// PostgresLedger persists idempotency reservations to idempotency_keys,
// locking the row with SELECT ... FOR UPDATE to serialize concurrent
// retries of the same key.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger returns a Ledger backed by PostgreSQL.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

var _ Ledger = (*PostgresLedger)(nil)

func (l *PostgresLedger) CheckAndReserve(ctx context.Context, key, operationKind, inputHash string, ttl time.Duration) (Reservation, error) {
	q := txsupport.QuerierFrom(ctx, l.db)
	now := time.Now().UTC()

	result, err := q.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, operation_kind, input_hash, status, response_json, reserved_at, expires_at)
		VALUES ($1, $2, $3, 'PROCESSING', NULL, $4, $5)
		ON CONFLICT (key) DO NOTHING
	`, key, operationKind, inputHash, now, now.Add(ttl))
	if err != nil {
		return Reservation{}, apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("idempotency: insert: %w", err))
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 1 {
		return Reservation{Outcome: OutcomeNew}, nil
	}

	row := q.QueryRowContext(ctx, `
		SELECT operation_kind, input_hash, status, response_json, expires_at
		FROM idempotency_keys
		WHERE key = $1
		FOR UPDATE
	`, key)

	var (
		storedOpKind, storedHash, status string
		response                         []byte
		expiresAt                        time.Time
	)
	if err := row.Scan(&storedOpKind, &storedHash, &status, &response, &expiresAt); err != nil {
		return Reservation{}, apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("idempotency: select for update: %w", err))
	}

	if storedOpKind != operationKind || storedHash != inputHash {
		return Reservation{}, keyReusedError()
	}

	switch Status(status) {
	case StatusCompleted:
		return Reservation{Outcome: OutcomeCompleted, CachedResponse: response}, nil
	case StatusProcessing:
		if !expired(expiresAt, now) {
			return Reservation{Outcome: OutcomeInProgress}, nil
		}
	case StatusFailed:
		// fall through to reset below
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'PROCESSING', reserved_at = $2, expires_at = $3
		WHERE key = $1
	`, key, now, now.Add(ttl)); err != nil {
		return Reservation{}, apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("idempotency: reset: %w", err))
	}
	return Reservation{Outcome: OutcomeNew}, nil
}

func (l *PostgresLedger) RecordResult(ctx context.Context, key string, response []byte) error {
	q := txsupport.QuerierFrom(ctx, l.db)
	_, err := q.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = 'COMPLETED', response_json = $2 WHERE key = $1
	`, key, response)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("idempotency: record result: %w", err))
	}
	return nil
}

func (l *PostgresLedger) RecordFailure(ctx context.Context, key string) error {
	q := txsupport.QuerierFrom(ctx, l.db)
	_, err := q.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = 'FAILED' WHERE key = $1
	`, key)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("idempotency: record failure: %w", err))
	}
	return nil
}
