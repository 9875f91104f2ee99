package projection

import (
	"context"
	"database/sql"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/voucher"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresVoucherStore struct{ db *sql.DB }

func NewPostgresVoucherStore(db *sql.DB) *PostgresVoucherStore { return &PostgresVoucherStore{db: db} }

var _ VoucherStore = (*PostgresVoucherStore)(nil)

func (s *PostgresVoucherStore) Upsert(ctx context.Context, v voucher.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO vouchers (
			voucher_id, grant_id, cycle_id, county, status, is_lirp, max_reimbursement_cents,
			tentative_expires_at, expires_at, rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (voucher_id) DO UPDATE SET
			grant_id = EXCLUDED.grant_id, cycle_id = EXCLUDED.cycle_id, county = EXCLUDED.county,
			status = EXCLUDED.status, is_lirp = EXCLUDED.is_lirp,
			max_reimbursement_cents = EXCLUDED.max_reimbursement_cents,
			tentative_expires_at = EXCLUDED.tentative_expires_at, expires_at = EXCLUDED.expires_at,
			rebuilt_at = EXCLUDED.rebuilt_at, watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`,
		v.VoucherID, v.GrantID, v.CycleID, v.County, string(v.Status), v.IsLIRP, int64(v.MaxReimbursement),
		v.TentativeExpiresAt, v.ExpiresAt, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID,
	)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresVoucherStore) Get(ctx context.Context, voucherID string) (voucher.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT voucher_id, grant_id, cycle_id, county, status, is_lirp, max_reimbursement_cents,
			tentative_expires_at, expires_at
		FROM vouchers WHERE voucher_id = $1
	`, voucherID)
	return scanVoucherRow(row)
}

func scanVoucherRow(row *sql.Row) (voucher.State, bool, error) {
	var v voucher.State
	var status string
	var maxReimbursement int64
	var tentativeExpiresAt sql.NullTime
	err := row.Scan(&v.VoucherID, &v.GrantID, &v.CycleID, &v.County, &status, &v.IsLIRP, &maxReimbursement,
		&tentativeExpiresAt, &v.ExpiresAt)
	if err == sql.ErrNoRows {
		return voucher.State{}, false, nil
	}
	if err != nil {
		return voucher.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	v.Status = voucher.Status(status)
	v.MaxReimbursement = money.Cents(maxReimbursement)
	if tentativeExpiresAt.Valid {
		v.TentativeExpiresAt = &tentativeExpiresAt.Time
	}
	return v, true, nil
}

func (s *PostgresVoucherStore) ListExpiredTentative(ctx context.Context) ([]voucher.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT voucher_id, grant_id, cycle_id, county, status, is_lirp, max_reimbursement_cents,
			tentative_expires_at, expires_at
		FROM vouchers
		WHERE status = 'TENTATIVE' AND tentative_expires_at < now()
	`)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []voucher.State
	for rows.Next() {
		var v voucher.State
		var status string
		var maxReimbursement int64
		var tentativeExpiresAt sql.NullTime
		if err := rows.Scan(&v.VoucherID, &v.GrantID, &v.CycleID, &v.County, &status, &v.IsLIRP, &maxReimbursement,
			&tentativeExpiresAt, &v.ExpiresAt); err != nil {
			return nil, err
		}
		v.Status = voucher.Status(status)
		v.MaxReimbursement = money.Cents(maxReimbursement)
		if tentativeExpiresAt.Valid {
			v.TentativeExpiresAt = &tentativeExpiresAt.Time
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresVoucherStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE vouchers`)
	return err
}
