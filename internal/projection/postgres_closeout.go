package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/closeout"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresCloseoutStore struct{ db *sql.DB }

func NewPostgresCloseoutStore(db *sql.DB) *PostgresCloseoutStore { return &PostgresCloseoutStore{db: db} }

var _ CloseoutStore = (*PostgresCloseoutStore)(nil)

func (s *PostgresCloseoutStore) Upsert(ctx context.Context, c closeout.State, meta Metadata) error {
	preflightJSON, err := json.Marshal(c.PreflightChecks)
	if err != nil {
		return apperrors.New(apperrors.BatchInvariant, "marshal preflight checks: "+err.Error())
	}
	financialJSON, err := json.Marshal(c.Financial)
	if err != nil {
		return apperrors.New(apperrors.BatchInvariant, "marshal financial summary: "+err.Error())
	}
	matchingJSON, err := json.Marshal(c.Matching)
	if err != nil {
		return apperrors.New(apperrors.BatchInvariant, "marshal matching summary: "+err.Error())
	}

	var preAuditHoldStatus sql.NullString
	if c.PreAuditHoldStatus != "" {
		preAuditHoldStatus = sql.NullString{String: string(c.PreAuditHoldStatus), Valid: true}
	}
	var closedBy sql.NullString
	if c.ClosedBy != "" {
		closedBy = sql.NullString{String: c.ClosedBy, Valid: true}
	}

	q := txsupport.QuerierFrom(ctx, s.db)
	_, err = q.ExecContext(ctx, `
		INSERT INTO closeouts (
			cycle_id, status, pre_audit_hold_status, preflight_checks, financial_summary, matching_summary,
			closed_by, rebuilt_at, watermark_ingested_at, watermark_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (cycle_id) DO UPDATE SET
			status = EXCLUDED.status, pre_audit_hold_status = EXCLUDED.pre_audit_hold_status,
			preflight_checks = EXCLUDED.preflight_checks, financial_summary = EXCLUDED.financial_summary,
			matching_summary = EXCLUDED.matching_summary, closed_by = EXCLUDED.closed_by,
			rebuilt_at = EXCLUDED.rebuilt_at, watermark_ingested_at = EXCLUDED.watermark_ingested_at,
			watermark_event_id = EXCLUDED.watermark_event_id
	`, c.CycleID, string(c.Status), preAuditHoldStatus, preflightJSON, financialJSON, matchingJSON,
		closedBy, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresCloseoutStore) Get(ctx context.Context, cycleID string) (closeout.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT cycle_id, status, pre_audit_hold_status, preflight_checks, financial_summary, matching_summary, closed_by
		FROM closeouts WHERE cycle_id = $1
	`, cycleID)

	var c closeout.State
	var status string
	var preAuditHoldStatus, closedBy sql.NullString
	var preflightJSON, financialJSON, matchingJSON []byte
	err := row.Scan(&c.CycleID, &status, &preAuditHoldStatus, &preflightJSON, &financialJSON, &matchingJSON, &closedBy)
	if err == sql.ErrNoRows {
		return closeout.State{}, false, nil
	}
	if err != nil {
		return closeout.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	c.Status = closeout.Status(status)
	if preAuditHoldStatus.Valid {
		c.PreAuditHoldStatus = closeout.Status(preAuditHoldStatus.String)
	}
	if closedBy.Valid {
		c.ClosedBy = closedBy.String
	}
	if len(preflightJSON) > 0 {
		if err := json.Unmarshal(preflightJSON, &c.PreflightChecks); err != nil {
			return closeout.State{}, false, apperrors.New(apperrors.BatchInvariant, "unmarshal preflight checks: "+err.Error())
		}
	}
	if len(financialJSON) > 0 {
		if err := json.Unmarshal(financialJSON, &c.Financial); err != nil {
			return closeout.State{}, false, apperrors.New(apperrors.BatchInvariant, "unmarshal financial summary: "+err.Error())
		}
	}
	if len(matchingJSON) > 0 {
		if err := json.Unmarshal(matchingJSON, &c.Matching); err != nil {
			return closeout.State{}, false, apperrors.New(apperrors.BatchInvariant, "unmarshal matching summary: "+err.Error())
		}
	}
	return c, true, nil
}

func (s *PostgresCloseoutStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE closeouts`)
	return err
}
