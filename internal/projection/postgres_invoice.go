package projection

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/invoice"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresInvoiceStore struct{ db *sql.DB }

func NewPostgresInvoiceStore(db *sql.DB) *PostgresInvoiceStore { return &PostgresInvoiceStore{db: db} }

var _ InvoiceStore = (*PostgresInvoiceStore)(nil)

func (s *PostgresInvoiceStore) Upsert(ctx context.Context, inv invoice.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	var batchID sql.NullString
	if inv.BatchID != "" {
		batchID = sql.NullString{String: inv.BatchID, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO invoices (
			invoice_id, clinic_id, cycle_id, status, claim_ids, total_cents, batch_id, payment_count,
			rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (invoice_id) DO UPDATE SET
			clinic_id = EXCLUDED.clinic_id, cycle_id = EXCLUDED.cycle_id, status = EXCLUDED.status,
			claim_ids = EXCLUDED.claim_ids, total_cents = EXCLUDED.total_cents, batch_id = EXCLUDED.batch_id,
			payment_count = EXCLUDED.payment_count, rebuilt_at = EXCLUDED.rebuilt_at,
			watermark_ingested_at = EXCLUDED.watermark_ingested_at, watermark_event_id = EXCLUDED.watermark_event_id
	`, inv.InvoiceID, inv.ClinicID, inv.CycleID, string(inv.Status), pq.Array(inv.ClaimIDs), int64(inv.Total),
		batchID, inv.PaymentCount, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresInvoiceStore) Get(ctx context.Context, invoiceID string) (invoice.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT invoice_id, clinic_id, cycle_id, status, claim_ids, total_cents, batch_id, payment_count
		FROM invoices WHERE invoice_id = $1
	`, invoiceID)
	return scanInvoiceRow(row)
}

func scanInvoiceRow(row *sql.Row) (invoice.State, bool, error) {
	var inv invoice.State
	var status string
	var total int64
	var batchID sql.NullString
	err := row.Scan(&inv.InvoiceID, &inv.ClinicID, &inv.CycleID, &status, pq.Array(&inv.ClaimIDs), &total,
		&batchID, &inv.PaymentCount)
	if err == sql.ErrNoRows {
		return invoice.State{}, false, nil
	}
	if err != nil {
		return invoice.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	inv.Status = invoice.Status(status)
	inv.Total = money.Cents(total)
	if batchID.Valid {
		inv.BatchID = batchID.String
	}
	return inv, true, nil
}

// ListEligibleForExport returns SUBMITTED invoices with no batch
// assigned whose clinic currently carries an OASIS vendor code. The
// vendor-code filter is applied in Go via clinicHasVendorCode rather
// than a SQL join so the selection rule lives next to the caller that
// already knows the clinic projection (the export command).
func (s *PostgresInvoiceStore) ListEligibleForExport(ctx context.Context, clinicHasVendorCode func(clinicID string) bool) ([]invoice.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id, clinic_id, cycle_id, status, claim_ids, total_cents, batch_id, payment_count
		FROM invoices
		WHERE status = 'SUBMITTED' AND batch_id IS NULL
	`)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []invoice.State
	for rows.Next() {
		var inv invoice.State
		var status string
		var total int64
		var batchID sql.NullString
		if err := rows.Scan(&inv.InvoiceID, &inv.ClinicID, &inv.CycleID, &status, pq.Array(&inv.ClaimIDs), &total,
			&batchID, &inv.PaymentCount); err != nil {
			return nil, err
		}
		inv.Status = invoice.Status(status)
		inv.Total = money.Cents(total)
		if batchID.Valid {
			inv.BatchID = batchID.String
		}
		if clinicHasVendorCode == nil || clinicHasVendorCode(inv.ClinicID) {
			out = append(out, inv)
		}
	}
	return out, rows.Err()
}

// ListForCycle returns every invoice recorded against a cycle,
// regardless of status.
func (s *PostgresInvoiceStore) ListForCycle(ctx context.Context, cycleID string) ([]invoice.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id, clinic_id, cycle_id, status, claim_ids, total_cents, batch_id, payment_count
		FROM invoices WHERE cycle_id = $1 ORDER BY invoice_id
	`, cycleID)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []invoice.State
	for rows.Next() {
		var inv invoice.State
		var status string
		var total int64
		var batchID sql.NullString
		if err := rows.Scan(&inv.InvoiceID, &inv.ClinicID, &inv.CycleID, &status, pq.Array(&inv.ClaimIDs), &total,
			&batchID, &inv.PaymentCount); err != nil {
			return nil, apperrors.Transient(apperrors.StorageTimeout, err)
		}
		inv.Status = invoice.Status(status)
		inv.Total = money.Cents(total)
		if batchID.Valid {
			inv.BatchID = batchID.String
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PostgresInvoiceStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE invoices`)
	return err
}
