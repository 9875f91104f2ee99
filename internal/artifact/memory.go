package artifact

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]memoryRow
}

type memoryRow struct {
	content []byte
	rec     Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]memoryRow)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Put(ctx context.Context, content []byte, contentType, cycleID, kind string, now time.Time) (Record, error) {
	digest := Sum256Hex(content)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rows[digest]; ok {
		return existing.rec, nil
	}
	rec := Record{
		SHA256:      digest,
		ContentType: contentType,
		ByteLength:  int64(len(content)),
		CycleID:     cycleID,
		Kind:        kind,
		CreatedAt:   now,
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	s.rows[digest] = memoryRow{content: cp, rec: rec}
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, sha256Hex string) ([]byte, Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[sha256Hex]
	if !ok {
		return nil, Record{}, false, nil
	}
	cp := make([]byte, len(row.content))
	copy(cp, row.content)
	return cp, row.rec, true, nil
}
