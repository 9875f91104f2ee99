package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresGrantStore struct{ db *sql.DB }

func NewPostgresGrantStore(db *sql.DB) *PostgresGrantStore { return &PostgresGrantStore{db: db} }

var _ GrantStore = (*PostgresGrantStore)(nil)

func (s *PostgresGrantStore) UpsertBucket(ctx context.Context, grantID string, bucket grant.Bucket, b grant.BalanceState, matching grant.Matching, rate grant.Rate, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO grant_balances (
			grant_id, bucket, awarded_cents, available_cents, encumbered_cents, liquidated_cents, released_cents,
			matching_committed_cents, matching_reported_cents, rate_numerator, rate_denominator,
			rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (grant_id, bucket) DO UPDATE SET
			awarded_cents = EXCLUDED.awarded_cents,
			available_cents = EXCLUDED.available_cents,
			encumbered_cents = EXCLUDED.encumbered_cents,
			liquidated_cents = EXCLUDED.liquidated_cents,
			released_cents = EXCLUDED.released_cents,
			matching_committed_cents = EXCLUDED.matching_committed_cents,
			matching_reported_cents = EXCLUDED.matching_reported_cents,
			rate_numerator = EXCLUDED.rate_numerator,
			rate_denominator = EXCLUDED.rate_denominator,
			rebuilt_at = EXCLUDED.rebuilt_at,
			watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`,
		grantID, string(bucket), int64(b.Awarded), int64(b.Available), int64(b.Encumbered), int64(b.Liquidated), int64(b.Released),
		int64(matching.Committed), int64(matching.Reported), rate.Num, rate.Den,
		meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID,
	)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresGrantStore) GetBucket(ctx context.Context, grantID string, bucket grant.Bucket) (grant.BalanceState, grant.Matching, grant.Rate, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT awarded_cents, available_cents, encumbered_cents, liquidated_cents, released_cents,
			matching_committed_cents, matching_reported_cents, rate_numerator, rate_denominator
		FROM grant_balances WHERE grant_id = $1 AND bucket = $2
	`, grantID, string(bucket))

	var b grant.BalanceState
	var m grant.Matching
	var r grant.Rate
	var awarded, available, encumbered, liquidated, released, committed, reported int64
	err := row.Scan(&awarded, &available, &encumbered, &liquidated, &released, &committed, &reported, &r.Num, &r.Den)
	if err == sql.ErrNoRows {
		return b, m, r, false, nil
	}
	if err != nil {
		return b, m, r, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	b = grant.BalanceState{
		Awarded: money.Cents(awarded), Available: money.Cents(available), Encumbered: money.Cents(encumbered),
		Liquidated: money.Cents(liquidated), Released: money.Cents(released),
	}
	m = grant.Matching{Committed: money.Cents(committed), Reported: money.Cents(reported)}
	return b, m, r, true, nil
}

func (s *PostgresGrantStore) UpsertHeader(ctx context.Context, grantID, cycleID string, periodStart, periodEnd, claimsDeadline time.Time, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	var periodStartVal, periodEndVal, claimsDeadlineVal any
	if !periodStart.IsZero() {
		periodStartVal = periodStart
	}
	if !periodEnd.IsZero() {
		periodEndVal = periodEnd
	}
	if !claimsDeadline.IsZero() {
		claimsDeadlineVal = claimsDeadline
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO grants (
			grant_id, cycle_id, period_start, period_end, claims_deadline,
			rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (grant_id) DO UPDATE SET
			cycle_id = EXCLUDED.cycle_id,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			claims_deadline = EXCLUDED.claims_deadline,
			rebuilt_at = EXCLUDED.rebuilt_at,
			watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`,
		grantID, cycleID, periodStartVal, periodEndVal, claimsDeadlineVal,
		meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID,
	)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresGrantStore) GetHeader(ctx context.Context, grantID string) (cycleID string, periodStart, periodEnd, claimsDeadline time.Time, found bool, err error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `SELECT cycle_id, period_start, period_end, claims_deadline FROM grants WHERE grant_id = $1`, grantID)
	var ps, pe, cd sql.NullTime
	scanErr := row.Scan(&cycleID, &ps, &pe, &cd)
	if scanErr == sql.ErrNoRows {
		return "", time.Time{}, time.Time{}, time.Time{}, false, nil
	}
	if scanErr != nil {
		return "", time.Time{}, time.Time{}, time.Time{}, false, apperrors.Transient(apperrors.StorageTimeout, scanErr)
	}
	if ps.Valid {
		periodStart = ps.Time
	}
	if pe.Valid {
		periodEnd = pe.Time
	}
	if cd.Valid {
		claimsDeadline = cd.Time
	}
	return cycleID, periodStart, periodEnd, claimsDeadline, true, nil
}

func (s *PostgresGrantStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	if _, err := q.ExecContext(ctx, `TRUNCATE grant_balances`); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `TRUNCATE grants`)
	return err
}
