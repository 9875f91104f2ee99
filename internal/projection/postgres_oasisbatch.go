package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/oasisbatch"
	"github.com/wvsnp/grantcore/internal/ids"
	"github.com/wvsnp/grantcore/internal/money"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

const dateLayout = "2006-01-02"

type PostgresOasisBatchStore struct{ db *sql.DB }

func NewPostgresOasisBatchStore(db *sql.DB) *PostgresOasisBatchStore {
	return &PostgresOasisBatchStore{db: db}
}

var _ OasisBatchStore = (*PostgresOasisBatchStore)(nil)

func (s *PostgresOasisBatchStore) Upsert(ctx context.Context, b oasisbatch.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	var artifactRef, contentSHA256 sql.NullString
	if b.ArtifactRef != "" {
		artifactRef = sql.NullString{String: b.ArtifactRef, Valid: true}
	}
	if b.ContentSHA256 != "" {
		contentSHA256 = sql.NullString{String: b.ContentSHA256, Valid: true}
	}
	var selWatermarkIngestedAt sql.NullTime
	var selWatermarkEventID sql.NullString
	if b.SelectionWatermark.EventID != "" {
		selWatermarkIngestedAt = sql.NullTime{Time: b.SelectionWatermark.IngestedAt, Valid: true}
		selWatermarkEventID = sql.NullString{String: string(b.SelectionWatermark.EventID), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO oasis_batches (
			batch_id, cycle_id, period_start, period_end, status, fingerprint, record_count, control_total_cents,
			artifact_ref, content_sha256, format_version, selection_watermark_ingested_at, selection_watermark_event_id,
			rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (batch_id) DO UPDATE SET
			cycle_id = EXCLUDED.cycle_id, period_start = EXCLUDED.period_start, period_end = EXCLUDED.period_end,
			status = EXCLUDED.status, fingerprint = EXCLUDED.fingerprint, record_count = EXCLUDED.record_count,
			control_total_cents = EXCLUDED.control_total_cents, artifact_ref = EXCLUDED.artifact_ref,
			content_sha256 = EXCLUDED.content_sha256, format_version = EXCLUDED.format_version,
			selection_watermark_ingested_at = EXCLUDED.selection_watermark_ingested_at,
			selection_watermark_event_id = EXCLUDED.selection_watermark_event_id,
			rebuilt_at = EXCLUDED.rebuilt_at, watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`, b.BatchID, b.CycleID, b.PeriodStart.Format(dateLayout), b.PeriodEnd.Format(dateLayout), string(b.Status),
		b.Fingerprint, b.RecordCount, int64(b.ControlTotal), artifactRef, contentSHA256, b.FormatVersion,
		selWatermarkIngestedAt, selWatermarkEventID, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresOasisBatchStore) Get(ctx context.Context, batchID string) (oasisbatch.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT batch_id, cycle_id, period_start, period_end, status, fingerprint, record_count, control_total_cents,
			artifact_ref, content_sha256, format_version, selection_watermark_ingested_at, selection_watermark_event_id
		FROM oasis_batches WHERE batch_id = $1
	`, batchID)
	return scanOasisBatchRow(row)
}

func (s *PostgresOasisBatchStore) GetByFingerprint(ctx context.Context, cycleID string, periodStart, periodEnd string, fingerprint string) (oasisbatch.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT batch_id, cycle_id, period_start, period_end, status, fingerprint, record_count, control_total_cents,
			artifact_ref, content_sha256, format_version, selection_watermark_ingested_at, selection_watermark_event_id
		FROM oasis_batches WHERE cycle_id = $1 AND period_start = $2 AND period_end = $3 AND fingerprint = $4
	`, cycleID, periodStart, periodEnd, fingerprint)
	return scanOasisBatchRow(row)
}

func scanOasisBatchRow(row *sql.Row) (oasisbatch.State, bool, error) {
	var b oasisbatch.State
	var status string
	var recordCount int
	var controlTotal int64
	var periodStart, periodEnd string
	var artifactRef, contentSHA256 sql.NullString
	var selWatermarkIngestedAt sql.NullTime
	var selWatermarkEventID sql.NullString
	err := row.Scan(&b.BatchID, &b.CycleID, &periodStart, &periodEnd, &status, &b.Fingerprint, &recordCount,
		&controlTotal, &artifactRef, &contentSHA256, &b.FormatVersion, &selWatermarkIngestedAt, &selWatermarkEventID)
	if err == sql.ErrNoRows {
		return oasisbatch.State{}, false, nil
	}
	if err != nil {
		return oasisbatch.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	b.Status = oasisbatch.Status(status)
	b.RecordCount = recordCount
	b.ControlTotal = money.Cents(controlTotal)
	b.PeriodStart, err = parseDate(periodStart)
	if err != nil {
		return oasisbatch.State{}, false, err
	}
	b.PeriodEnd, err = parseDate(periodEnd)
	if err != nil {
		return oasisbatch.State{}, false, err
	}
	if artifactRef.Valid {
		b.ArtifactRef = artifactRef.String
	}
	if contentSHA256.Valid {
		b.ContentSHA256 = contentSHA256.String
	}
	if selWatermarkEventID.Valid {
		b.SelectionWatermark = ids.Watermark{
			IngestedAt: selWatermarkIngestedAt.Time,
			EventID:    ids.EventID(selWatermarkEventID.String),
		}
	}
	return b, true, nil
}

func (s *PostgresOasisBatchStore) AddItem(ctx context.Context, batchID, invoiceID string, amountCents int64) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO oasis_batch_items (batch_id, invoice_id, amount_cents) VALUES ($1,$2,$3)
		ON CONFLICT (batch_id, invoice_id) DO UPDATE SET amount_cents = EXCLUDED.amount_cents
	`, batchID, invoiceID, amountCents)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresOasisBatchStore) ListItems(ctx context.Context, batchID string) ([]BatchItem, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id, amount_cents FROM oasis_batch_items WHERE batch_id = $1 ORDER BY invoice_id
	`, batchID)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []BatchItem
	for rows.Next() {
		var item BatchItem
		if err := rows.Scan(&item.InvoiceID, &item.AmountCents); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListForCycle returns every batch opened against a cycle, regardless
// of status.
func (s *PostgresOasisBatchStore) ListForCycle(ctx context.Context, cycleID string) ([]oasisbatch.State, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT batch_id, cycle_id, period_start, period_end, status, fingerprint, record_count, control_total_cents,
			artifact_ref, content_sha256, format_version, selection_watermark_ingested_at, selection_watermark_event_id
		FROM oasis_batches WHERE cycle_id = $1 ORDER BY batch_id
	`, cycleID)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	defer rows.Close()

	var out []oasisbatch.State
	for rows.Next() {
		var b oasisbatch.State
		var status string
		var recordCount int
		var controlTotal int64
		var periodStart, periodEnd string
		var artifactRef, contentSHA256 sql.NullString
		var selWatermarkIngestedAt sql.NullTime
		var selWatermarkEventID sql.NullString
		if err := rows.Scan(&b.BatchID, &b.CycleID, &periodStart, &periodEnd, &status, &b.Fingerprint, &recordCount,
			&controlTotal, &artifactRef, &contentSHA256, &b.FormatVersion, &selWatermarkIngestedAt, &selWatermarkEventID); err != nil {
			return nil, apperrors.Transient(apperrors.StorageTimeout, err)
		}
		b.Status = oasisbatch.Status(status)
		b.RecordCount = recordCount
		b.ControlTotal = money.Cents(controlTotal)
		if b.PeriodStart, err = parseDate(periodStart); err != nil {
			return nil, err
		}
		if b.PeriodEnd, err = parseDate(periodEnd); err != nil {
			return nil, err
		}
		if artifactRef.Valid {
			b.ArtifactRef = artifactRef.String
		}
		if contentSHA256.Valid {
			b.ContentSHA256 = contentSHA256.String
		}
		if selWatermarkEventID.Valid {
			b.SelectionWatermark = ids.Watermark{
				IngestedAt: selWatermarkIngestedAt.Time,
				EventID:    ids.EventID(selWatermarkEventID.String),
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresOasisBatchStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE oasis_batch_items, oasis_batches CASCADE`)
	return err
}

func parseDate(value string) (t time.Time, err error) {
	return time.Parse(dateLayout, value)
}
