package projection

import (
	"context"
	"database/sql"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/allocator"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresAllocatorStore struct{ db *sql.DB }

func NewPostgresAllocatorStore(db *sql.DB) *PostgresAllocatorStore {
	return &PostgresAllocatorStore{db: db}
}

var _ AllocatorStore = (*PostgresAllocatorStore)(nil)

func (s *PostgresAllocatorStore) Upsert(ctx context.Context, a allocator.State, meta Metadata) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO allocators (cycle_id, county, next_sequence, rebuilt_at, watermark_ingested_at, watermark_event_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (cycle_id, county) DO UPDATE SET
			next_sequence = EXCLUDED.next_sequence, rebuilt_at = EXCLUDED.rebuilt_at,
			watermark_ingested_at = EXCLUDED.watermark_ingested_at, watermark_event_id = EXCLUDED.watermark_event_id
	`, a.CycleID, a.County, a.NextSequence, meta.RebuiltAt, meta.WatermarkIngestedAt, meta.WatermarkEventID)
	if err != nil {
		return apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return nil
}

func (s *PostgresAllocatorStore) Get(ctx context.Context, cycleID, county string) (allocator.State, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `SELECT cycle_id, county, next_sequence FROM allocators WHERE cycle_id = $1 AND county = $2`, cycleID, county)
	var a allocator.State
	err := row.Scan(&a.CycleID, &a.County, &a.NextSequence)
	if err == sql.ErrNoRows {
		return allocator.State{}, false, nil
	}
	if err != nil {
		return allocator.State{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return a, true, nil
}

func (s *PostgresAllocatorStore) Truncate(ctx context.Context) error {
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `TRUNCATE allocators`)
	return err
}
