package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	rec, err := s.Put(ctx, []byte("hello"), "text/plain", "cycle-1", "export", now)
	require.NoError(t, err)
	require.Equal(t, Sum256Hex([]byte("hello")), rec.SHA256)
	require.Equal(t, int64(5), rec.ByteLength)

	content, got, found, err := s.Get(ctx, rec.SHA256)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), content)
	require.Equal(t, "cycle-1", got.CycleID)
}

func TestMemoryStore_PutIsIdempotentByContent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	rec1, err := s.Put(ctx, []byte("same bytes"), "text/plain", "cycle-1", "export", now)
	require.NoError(t, err)
	rec2, err := s.Put(ctx, []byte("same bytes"), "text/plain", "cycle-2", "export", now.Add(time.Hour))
	require.NoError(t, err)

	require.Equal(t, rec1.SHA256, rec2.SHA256)
	require.Equal(t, rec1.CycleID, rec2.CycleID)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, _, found, err := s.Get(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.False(t, found)
}
