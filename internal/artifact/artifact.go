// Package artifact is a content-addressed blob store for export files and
// other documents referenced from projection rows (invoice.artifact_ref,
// oasis_batches.artifact_ref). Content is keyed by its own sha-256, so a
// Put of identical bytes is idempotent regardless of how many aggregates
// reference it (spec.md §4.6, §4.7 AttachArtifact).
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is one stored blob plus its metadata.
type Record struct {
	SHA256      string
	ContentType string
	ByteLength  int64
	CycleID     string
	Kind        string
	CreatedAt   time.Time
}

// Store persists artifact content keyed by its sha-256 digest.
type Store interface {
	Put(ctx context.Context, content []byte, contentType, cycleID, kind string, now time.Time) (Record, error)
	Get(ctx context.Context, sha256Hex string) ([]byte, Record, bool, error)
}

// Sum256Hex returns the lowercase hex sha-256 digest of content.
func Sum256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
