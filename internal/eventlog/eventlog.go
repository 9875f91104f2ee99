// Package eventlog is the append-only, server-timestamped event store
// that is the sole source of truth for the grant core, generalizing the
// teacher's system/events.PostgresRequestStore scan/marshal idiom and
// pkg/storage/postgres.BaseStore transaction plumbing to an immutable,
// watermark-paginated log.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/ids"
)

var eventTypePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Event is an immutable domain event as described by the log.
type Event struct {
	EventID       ids.EventID
	AggregateKind string
	AggregateID   string
	EventType     string
	EventData     map[string]any
	OccurredAt    time.Time
	IngestedAt    time.Time // zero until Append stamps it
	CycleID       string
	CorrelationID string
	CausationID   *ids.EventID
	ActorID       string
	ActorKind     string
}

// NewEvent builds an event ready for Append, minting a fresh time-ordered
// event id. NewEvent does not check occurredAt, cycleID, correlationID
// or actorID; Append rejects an event where any of them is empty.
func NewEvent(aggregateKind, aggregateID, eventType string, data map[string]any, occurredAt time.Time, cycleID, correlationID, actorID, actorKind string, causationID *ids.EventID) (Event, error) {
	eventID, err := ids.NewEventID()
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       eventID,
		AggregateKind: aggregateKind,
		AggregateID:   aggregateID,
		EventType:     eventType,
		EventData:     data,
		OccurredAt:    occurredAt,
		CycleID:       cycleID,
		CorrelationID: correlationID,
		CausationID:   causationID,
		ActorID:       actorID,
		ActorKind:     actorKind,
	}, nil
}

// Watermark returns the tuple identifying this event's position in
// replay order. IngestedAt must already be set.
func (e Event) Watermark() ids.Watermark {
	return ids.Watermark{IngestedAt: e.IngestedAt, EventID: e.EventID}
}

// Store is the append-only event log contract shared by every backing
// implementation.
type Store interface {
	// Append validates and persists event, returning it with
	// server-stamped IngestedAt. Any client-supplied IngestedAt is
	// ignored.
	Append(ctx context.Context, event Event) (Event, error)

	// FetchSince returns events with (ingested_at, event_id) strictly
	// greater than watermark, ordered ascending by that tuple, at most
	// limit rows. A zero watermark returns from the beginning of the
	// log.
	FetchSince(ctx context.Context, watermark ids.Watermark, limit int) ([]Event, error)

	// FetchForAggregate returns every event for one aggregate in replay
	// order, used to fold aggregate state.
	FetchForAggregate(ctx context.Context, aggregateKind, aggregateID string) ([]Event, error)
}

// validate enforces the append-time preconditions common to every
// backing store.
func validate(e Event) error {
	if !ids.Valid(string(e.EventID)) {
		return apperrors.New(apperrors.UUIDTimeOrderedRequired, "event_id must be a time-ordered identifier")
	}
	if !eventTypePattern.MatchString(e.EventType) {
		return apperrors.New(apperrors.EventTypeInvalid, fmt.Sprintf("event_type %q does not match [A-Z0-9_]+", e.EventType))
	}
	if e.OccurredAt.IsZero() {
		return apperrors.New(apperrors.InvalidDateFormat, "occurred_at is required")
	}
	if strings.TrimSpace(e.CycleID) == "" || strings.TrimSpace(e.CorrelationID) == "" || strings.TrimSpace(e.ActorID) == "" {
		return apperrors.New(apperrors.InvalidDateFormat, "cycle_id, correlation_id, and actor_id are required")
	}
	if err := rejectArbitraryPrecision(e.EventData); err != nil {
		return err
	}
	return nil
}

// rejectArbitraryPrecision walks event_data and fails on any numeric
// value that cannot round-trip through float64 without precision loss.
// Money must be carried as a decimal digit string instead.
func rejectArbitraryPrecision(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if err := rejectArbitraryPrecision(child); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
		}
	case []any:
		for i, child := range t {
			if err := rejectArbitraryPrecision(child); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case json.Number:
		return apperrors.New(apperrors.EventDataBigintForbidden, "event_data must encode money as decimal strings, not json.Number")
	case float64:
		if math.Abs(t) >= (1 << 53) {
			return apperrors.New(apperrors.EventDataBigintForbidden, "numeric value exceeds safe integer precision; encode as a decimal string")
		}
	case int64:
		if t >= (1<<53) || t <= -(1<<53) {
			return apperrors.New(apperrors.EventDataBigintForbidden, "integer value exceeds safe integer precision; encode as a decimal string")
		}
	}
	return nil
}

func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(data)
}

func unmarshalData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
