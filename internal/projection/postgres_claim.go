package projection

import (
	"context"
	"database/sql"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/claim"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresClaimStore struct{ db *sql.DB }

func NewPostgresClaimStore(db *sql.DB) *PostgresClaimStore { return &PostgresClaimStore{db: db} }

var _ ClaimStore = (*PostgresClaimStore)(nil)

func (s *PostgresClaimStore) Upsert(ctx context.Context, c claim.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	var approvedAmount sql.NullInt64
	if c.ApprovedAmount != nil {
		approvedAmount = sql.NullInt64{Int64: int64(*c.ApprovedAmount), Valid: true}
	}
	var invoiceID sql.NullString
	if c.InvoiceID != "" {
		invoiceID = sql.NullString{String: c.InvoiceID, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO claims (
			claim_id, voucher_id, clinic_id, cycle_id, status, fingerprint, submitted_amount_cents,
			approved_amount_cents, decision_basis, invoice_id, rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (claim_id) DO UPDATE SET
			voucher_id = EXCLUDED.voucher_id, clinic_id = EXCLUDED.clinic_id, cycle_id = EXCLUDED.cycle_id,
			status = EXCLUDED.status, fingerprint = EXCLUDED.fingerprint,
			submitted_amount_cents = EXCLUDED.submitted_amount_cents,
			approved_amount_cents = EXCLUDED.approved_amount_cents, decision_basis = EXCLUDED.decision_basis,
			invoice_id = EXCLUDED.invoice_id, rebuilt_at = EXCLUDED.rebuilt_at,
			watermark_ingested_at = EXCLUDED.watermark_ingested_at, watermark_event_id = EXCLUDED.watermark_event_id
	`, c.ClaimID, c.VoucherID, c.ClinicID, c.CycleID, string(c.Status), c.Fingerprint, int64(c.SubmittedAmount),
		approvedAmount, c.DecisionBasis, invoiceID, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresClaimStore) Get(ctx context.Context, claimID string) (claim.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT claim_id, voucher_id, clinic_id, cycle_id, status, fingerprint, submitted_amount_cents,
			approved_amount_cents, decision_basis, invoice_id
		FROM claims WHERE claim_id = $1
	`, claimID)
	return scanClaimRow(row)
}

func (s *PostgresClaimStore) GetByFingerprint(ctx context.Context, fingerprint, cycleID string) (claim.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT claim_id, voucher_id, clinic_id, cycle_id, status, fingerprint, submitted_amount_cents,
			approved_amount_cents, decision_basis, invoice_id
		FROM claims WHERE fingerprint = $1 AND cycle_id = $2
	`, fingerprint, cycleID)
	return scanClaimRow(row)
}

func scanClaimRow(row *sql.Row) (claim.State, bool, error) {
	var c claim.State
	var status string
	var submittedAmount int64
	var approvedAmount sql.NullInt64
	var invoiceID sql.NullString
	err := row.Scan(&c.ClaimID, &c.VoucherID, &c.ClinicID, &c.CycleID, &status, &c.Fingerprint, &submittedAmount,
		&approvedAmount, &c.DecisionBasis, &invoiceID)
	if err == sql.ErrNoRows {
		return claim.State{}, false, nil
	}
	if err != nil {
		return claim.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	c.Status = claim.Status(status)
	c.SubmittedAmount = money.Cents(submittedAmount)
	if approvedAmount.Valid {
		amt := money.Cents(approvedAmount.Int64)
		c.ApprovedAmount = &amt
	}
	if invoiceID.Valid {
		c.InvoiceID = invoiceID.String
	}
	return c, true, nil
}

// ListApprovedUninvoiced returns a clinic's APPROVED claims for a cycle
// that have not yet been attached to an invoice, the candidate set
// GenerateInvoice bundles.
func (s *PostgresClaimStore) ListApprovedUninvoiced(ctx context.Context, clinicID, cycleID string) ([]claim.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT claim_id, voucher_id, clinic_id, cycle_id, status, fingerprint, submitted_amount_cents,
			approved_amount_cents, decision_basis, invoice_id
		FROM claims
		WHERE clinic_id = $1 AND cycle_id = $2 AND status = 'APPROVED' AND invoice_id IS NULL
		ORDER BY claim_id
	`, clinicID, cycleID)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []claim.State
	for rows.Next() {
		var c claim.State
		var status string
		var submittedAmount int64
		var approvedAmount sql.NullInt64
		var invoiceID sql.NullString
		if err := rows.Scan(&c.ClaimID, &c.VoucherID, &c.ClinicID, &c.CycleID, &status, &c.Fingerprint, &submittedAmount,
			&approvedAmount, &c.DecisionBasis, &invoiceID); err != nil {
			return nil, apperrors.Transient(apperrors.StorageTimeout, err)
		}
		c.Status = claim.Status(status)
		c.SubmittedAmount = money.Cents(submittedAmount)
		if approvedAmount.Valid {
			amt := money.Cents(approvedAmount.Int64)
			c.ApprovedAmount = &amt
		}
		if invoiceID.Valid {
			c.InvoiceID = invoiceID.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListForCycle returns every claim recorded against a cycle, regardless
// of status, the closeout engine's preflight checks read this over.
func (s *PostgresClaimStore) ListForCycle(ctx context.Context, cycleID string) ([]claim.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT claim_id, voucher_id, clinic_id, cycle_id, status, fingerprint, submitted_amount_cents,
			approved_amount_cents, decision_basis, invoice_id
		FROM claims WHERE cycle_id = $1 ORDER BY claim_id
	`, cycleID)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []claim.State
	for rows.Next() {
		var c claim.State
		var status string
		var submittedAmount int64
		var approvedAmount sql.NullInt64
		var invoiceID sql.NullString
		if err := rows.Scan(&c.ClaimID, &c.VoucherID, &c.ClinicID, &c.CycleID, &status, &c.Fingerprint, &submittedAmount,
			&approvedAmount, &c.DecisionBasis, &invoiceID); err != nil {
			return nil, apperrors.Transient(apperrors.StorageTimeout, err)
		}
		c.Status = claim.Status(status)
		c.SubmittedAmount = money.Cents(submittedAmount)
		if approvedAmount.Valid {
			amt := money.Cents(approvedAmount.Int64)
			c.ApprovedAmount = &amt
		}
		if invoiceID.Valid {
			c.InvoiceID = invoiceID.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresClaimStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE claims CASCADE`)
	return err
}
