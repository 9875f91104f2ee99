package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/lib/pq"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/ids"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
)

// PostgresStore persists events to the events table, routing through
// txsupport so it participates in whatever transaction the calling
// command handler opened.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) (Event, error) {
	if err := validate(event); err != nil {
		return Event{}, err
	}

	dataBytes, err := marshalData(event.EventData)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal event_data: %w", err)
	}

	var causationID any
	if event.CausationID != nil {
		causationID = string(*event.CausationID)
	}

	q := txsupport.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		INSERT INTO events (
			event_id, aggregate_kind, aggregate_id, event_type, event_data,
			occurred_at, cycle_id, correlation_id, causation_id, actor_id, actor_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ingested_at
	`,
		string(event.EventID), event.AggregateKind, event.AggregateID, event.EventType, dataBytes,
		event.OccurredAt, event.CycleID, event.CorrelationID, causationID, event.ActorID, event.ActorKind,
	)

	if err := row.Scan(&event.IngestedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return Event{}, apperrors.New(apperrors.EventTypeInvalid, "event_id collision on append")
		}
		return Event{}, apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("eventlog: insert: %w", err))
	}
	return event, nil
}

func (s *PostgresStore) FetchSince(ctx context.Context, watermark ids.Watermark, limit int) ([]Event, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, aggregate_kind, aggregate_id, event_type, event_data,
			occurred_at, ingested_at, cycle_id, correlation_id, causation_id, actor_id, actor_kind
		FROM events
		WHERE (ingested_at, event_id) > ($1, $2)
		ORDER BY ingested_at ASC, event_id ASC
		LIMIT $3
	`, watermark.IngestedAt, string(watermark.EventID), limitOrAll(limit))
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("eventlog: fetch since: %w", err))
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) FetchForAggregate(ctx context.Context, aggregateKind, aggregateID string) ([]Event, error) {
	q := txsupport.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, aggregate_kind, aggregate_id, event_type, event_data,
			occurred_at, ingested_at, cycle_id, correlation_id, causation_id, actor_id, actor_kind
		FROM events
		WHERE aggregate_kind = $1 AND aggregate_id = $2
		ORDER BY ingested_at ASC, event_id ASC
	`, aggregateKind, aggregateID)
	if err != nil {
		return nil, apperrors.Transient(apperrors.StorageTimeout, fmt.Errorf("eventlog: fetch for aggregate: %w", err))
	}
	defer rows.Close()
	return scanEvents(rows)
}

var _ Store = (*PostgresStore)(nil)

func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return math.MaxInt64
	}
	return int64(limit)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var eventID, causationID sql.NullString
		var dataBytes []byte

		if err := rows.Scan(
			&eventID, &e.AggregateKind, &e.AggregateID, &e.EventType, &dataBytes,
			&e.OccurredAt, &e.IngestedAt, &e.CycleID, &e.CorrelationID, &causationID, &e.ActorID, &e.ActorKind,
		); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}

		e.EventID = ids.EventID(eventID.String)
		if causationID.Valid {
			cid := ids.EventID(causationID.String)
			e.CausationID = &cid
		}
		data, err := unmarshalData(dataBytes)
		if err != nil {
			return nil, fmt.Errorf("eventlog: unmarshal event_data: %w", err)
		}
		e.EventData = data
		events = append(events, e)
	}
	return events, rows.Err()
}
