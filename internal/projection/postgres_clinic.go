package projection

import (
	"context"
	"database/sql"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/clinic"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresClinicStore struct{ db *sql.DB }

func NewPostgresClinicStore(db *sql.DB) *PostgresClinicStore { return &PostgresClinicStore{db: db} }

var _ ClinicStore = (*PostgresClinicStore)(nil)

func (s *PostgresClinicStore) Upsert(ctx context.Context, c clinic.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO clinics (
			clinic_id, status, license_number, license_status, license_expires_at, oasis_vendor_code,
			payment_info_ref, rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (clinic_id) DO UPDATE SET
			status = EXCLUDED.status, license_number = EXCLUDED.license_number,
			license_status = EXCLUDED.license_status, license_expires_at = EXCLUDED.license_expires_at,
			oasis_vendor_code = EXCLUDED.oasis_vendor_code, payment_info_ref = EXCLUDED.payment_info_ref,
			rebuilt_at = EXCLUDED.rebuilt_at, watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`, c.ClinicID, string(c.Status), c.LicenseNumber, c.LicenseStatus, c.LicenseExpiresAt, c.OasisVendorCode,
		c.PaymentInfoRef, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresClinicStore) Get(ctx context.Context, clinicID string) (clinic.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT clinic_id, status, license_number, license_status, license_expires_at, oasis_vendor_code, payment_info_ref
		FROM clinics WHERE clinic_id = $1
	`, clinicID)
	var c clinic.State
	var status string
	err := row.Scan(&c.ClinicID, &status, &c.LicenseNumber, &c.LicenseStatus, &c.LicenseExpiresAt, &c.OasisVendorCode, &c.PaymentInfoRef)
	if err == sql.ErrNoRows {
		return clinic.State{}, false, nil
	}
	if err != nil {
		return clinic.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	c.Status = clinic.Status(status)
	return c, true, nil
}

func (s *PostgresClinicStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE clinics CASCADE`)
	return err
}
