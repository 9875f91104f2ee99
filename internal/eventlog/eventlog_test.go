package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/ids"
)

func newTestEvent(t *testing.T, eventType string) Event {
	t.Helper()
	ev, err := NewEvent("VOUCHER", "voucher-1", eventType, map[string]any{"amountCents": "4000"},
		time.Now().UTC(), "cycle-2026", "corr-1", "actor-1", "ADMIN", nil)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestAppendStampsIngestedAt(t *testing.T) {
	store := NewMemoryStore()
	before := time.Now().UTC()
	stored, err := store.Append(context.Background(), newTestEvent(t, "VOUCHER_ISSUED"))
	after := time.Now().UTC()
	if err != nil {
		t.Fatal(err)
	}
	if stored.IngestedAt.Before(before) || stored.IngestedAt.After(after) {
		t.Fatalf("ingested_at %v not within [%v, %v]", stored.IngestedAt, before, after)
	}
}

func TestAppendRejectsMalformedEventType(t *testing.T) {
	store := NewMemoryStore()
	event := newTestEvent(t, "voucher issued")
	_, err := store.Append(context.Background(), event)
	if !apperrors.Is(err, apperrors.EventTypeInvalid) {
		t.Fatalf("expected EVENT_TYPE_INVALID, got %v", err)
	}
}

func TestAppendRejectsBadEventID(t *testing.T) {
	store := NewMemoryStore()
	event := newTestEvent(t, "VOUCHER_ISSUED")
	event.EventID = ids.EventID("not-a-valid-id")
	_, err := store.Append(context.Background(), event)
	if !apperrors.Is(err, apperrors.UUIDTimeOrderedRequired) {
		t.Fatalf("expected UUID_TIME_ORDERED_REQUIRED, got %v", err)
	}
}

func TestAppendRejectsBigIntPayload(t *testing.T) {
	store := NewMemoryStore()
	event, err := NewEvent("VOUCHER", "voucher-1", "VOUCHER_ISSUED",
		map[string]any{"amountCents": float64(1) << 60},
		time.Now().UTC(), "cycle-2026", "corr-1", "actor-1", "ADMIN", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Append(context.Background(), event)
	if !apperrors.Is(err, apperrors.EventDataBigintForbidden) {
		t.Fatalf("expected EVENT_DATA_BIGINT_FORBIDDEN, got %v", err)
	}
}

func TestFetchSinceIsStrictlyOrderedAndExclusive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var stored []Event
	for i := 0; i < 5; i++ {
		e, err := store.Append(ctx, newTestEvent(t, "VOUCHER_ISSUED"))
		if err != nil {
			t.Fatal(err)
		}
		stored = append(stored, e)
	}

	all, err := store.FetchSince(ctx, ids.Watermark{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i].Watermark().After(all[i-1].Watermark()) {
			t.Fatalf("events not strictly increasing at index %d", i)
		}
	}

	last := all[len(all)-1].Watermark()
	none, err := store.FetchSince(ctx, last, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events past the last watermark, got %d", len(none))
	}
}

func TestFetchSinceSequentialPagingVisitsEveryEventOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if _, err := store.Append(ctx, newTestEvent(t, "VOUCHER_ISSUED")); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[ids.EventID]bool{}
	wm := ids.Watermark{}
	for {
		page, err := store.FetchSince(ctx, wm, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if seen[e.EventID] {
				t.Fatalf("event %s visited twice", e.EventID)
			}
			seen[e.EventID] = true
		}
		wm = page[len(page)-1].Watermark()
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 distinct events visited, got %d", len(seen))
	}
}

func TestFetchForAggregateFiltersByAggregate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Append(ctx, newTestEvent(t, "VOUCHER_ISSUED")); err != nil {
		t.Fatal(err)
	}
	other, err := NewEvent("VOUCHER", "voucher-2", "VOUCHER_ISSUED", map[string]any{},
		time.Now().UTC(), "cycle-2026", "corr-2", "actor-1", "ADMIN", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, other); err != nil {
		t.Fatal(err)
	}

	events, err := store.FetchForAggregate(ctx, "VOUCHER", "voucher-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].AggregateID != "voucher-1" {
		t.Fatalf("expected exactly the voucher-1 event, got %+v", events)
	}
}
