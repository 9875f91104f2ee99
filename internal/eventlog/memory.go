package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wvsnp/grantcore/internal/ids"
)

// MemoryStore is an in-process Store used by domain and command tests
// that do not need a real PostgreSQL backend.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	seen   map[ids.EventID]bool
}

// NewMemoryStore returns an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[ids.EventID]bool)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(ctx context.Context, event Event) (Event, error) {
	if err := validate(event); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[event.EventID] {
		return Event{}, errEventIDCollision(event.EventID)
	}

	event.IngestedAt = time.Now().UTC()
	s.events = append(s.events, event)
	s.seen[event.EventID] = true
	return event, nil
}

func (s *MemoryStore) FetchSince(ctx context.Context, watermark ids.Watermark, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedCopy()
	var out []Event
	for _, e := range sorted {
		if e.Watermark().After(watermark) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) FetchForAggregate(ctx context.Context, aggregateKind, aggregateID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedCopy()
	var out []Event
	for _, e := range sorted {
		if e.AggregateKind == aggregateKind && e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) sortedCopy() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].EventID.Less(out[j].EventID)
	})
	return out
}

func errEventIDCollision(id ids.EventID) error {
	return &collisionError{id: id}
}

type collisionError struct{ id ids.EventID }

func (e *collisionError) Error() string {
	return "eventlog: event_id collision: " + string(e.id)
}
