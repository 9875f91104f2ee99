package projection

import (
	"context"
	"database/sql"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/breederfiling"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresBreederFilingStore struct{ db *sql.DB }

func NewPostgresBreederFilingStore(db *sql.DB) *PostgresBreederFilingStore {
	return &PostgresBreederFilingStore{db: db}
}

var _ BreederFilingStore = (*PostgresBreederFilingStore)(nil)

func (s *PostgresBreederFilingStore) Upsert(ctx context.Context, f breederfiling.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO breeder_filings (
			filing_id, clinic_id, due_at, submitted_at, cured_at, cure_period_days, status,
			rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (filing_id) DO UPDATE SET
			clinic_id = EXCLUDED.clinic_id, due_at = EXCLUDED.due_at, submitted_at = EXCLUDED.submitted_at,
			cured_at = EXCLUDED.cured_at, cure_period_days = EXCLUDED.cure_period_days, status = EXCLUDED.status,
			rebuilt_at = EXCLUDED.rebuilt_at, watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`, f.FilingID, f.ClinicID, f.DueAt, f.SubmittedAt, f.CuredAt, f.CurePeriodDays, string(f.Status),
		meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresBreederFilingStore) Get(ctx context.Context, filingID string) (breederfiling.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT filing_id, clinic_id, due_at, submitted_at, cured_at, cure_period_days, status
		FROM breeder_filings WHERE filing_id = $1
	`, filingID)
	return scanBreederFilingRow(row)
}

func scanBreederFilingRow(row *sql.Row) (breederfiling.State, bool, error) {
	var f breederfiling.State
	var status string
	var submittedAt, curedAt sql.NullTime
	err := row.Scan(&f.FilingID, &f.ClinicID, &f.DueAt, &submittedAt, &curedAt, &f.CurePeriodDays, &status)
	if err == sql.ErrNoRows {
		return breederfiling.State{}, false, nil
	}
	if err != nil {
		return breederfiling.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	f.Status = breederfiling.Status(status)
	if submittedAt.Valid {
		f.SubmittedAt = &submittedAt.Time
	}
	if curedAt.Valid {
		f.CuredAt = &curedAt.Time
	}
	return f, true, nil
}

func (s *PostgresBreederFilingStore) ListAll(ctx context.Context) ([]breederfiling.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT filing_id, clinic_id, due_at, submitted_at, cured_at, cure_period_days, status
		FROM breeder_filings
	`)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []breederfiling.State
	for rows.Next() {
		var f breederfiling.State
		var status string
		var submittedAt, curedAt sql.NullTime
		if err := rows.Scan(&f.FilingID, &f.ClinicID, &f.DueAt, &submittedAt, &curedAt, &f.CurePeriodDays, &status); err != nil {
			return nil, err
		}
		f.Status = breederfiling.Status(status)
		if submittedAt.Valid {
			f.SubmittedAt = &submittedAt.Time
		}
		if curedAt.Valid {
			f.CuredAt = &curedAt.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresBreederFilingStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE breeder_filings`)
	return err
}
