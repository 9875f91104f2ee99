package artifact

import (
	"context"
	"database/sql"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Put(ctx context.Context, content []byte, contentType, cycleID, kind string, now time.Time) (Record, error) {
	digest := Sum256Hex(content)
	q := txsupport.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO artifacts (sha256, content_type, byte_length, content, cycle_id, kind, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (sha256) DO NOTHING
	`, digest, contentType, int64(len(content)), content, nullableString(cycleID), nullableString(kind), now)
	if err != nil {
		return Record{}, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return Record{
		SHA256:      digest,
		ContentType: contentType,
		ByteLength:  int64(len(content)),
		CycleID:     cycleID,
		Kind:        kind,
		CreatedAt:   now,
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, sha256Hex string) ([]byte, Record, bool, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT content, content_type, byte_length, cycle_id, kind, created_at
		FROM artifacts WHERE sha256 = $1
	`, sha256Hex)

	var content []byte
	var contentType, cycleID, kind sql.NullString
	var byteLength int64
	var createdAt time.Time
	err := row.Scan(&content, &contentType, &byteLength, &cycleID, &kind, &createdAt)
	if err == sql.ErrNoRows {
		return nil, Record{}, false, nil
	}
	if err != nil {
		return nil, Record{}, false, apperrors.Transient(apperrors.StorageTimeout, err)
	}
	return content, Record{
		SHA256:      sha256Hex,
		ContentType: contentType.String,
		ByteLength:  byteLength,
		CycleID:     cycleID.String,
		Kind:        kind.String,
		CreatedAt:   createdAt,
	}, true, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
