// Package projection folds the event log into disposable, rebuildable
// read models, generalizing the teacher's upsert-by-natural-key idiom
// (system/events/store_postgres.go's Create/Update pair collapsed into
// a single ON CONFLICT upsert) to the watermark-tagged projection
// contract of spec §4.5.
package projection

import (
	"time"

	"github.com/wvsnp/grantcore/internal/ids"
)

// Metadata is the watermark trio every projection row carries, recording
// the last event that produced it.
type Metadata struct {
	RebuiltAt            time.Time
	WatermarkIngestedAt  time.Time
	WatermarkEventID     string
}

// MetadataFrom derives row metadata from the event that produced it.
func MetadataFrom(wm ids.Watermark, now time.Time) Metadata {
	return Metadata{
		RebuiltAt:           now,
		WatermarkIngestedAt: wm.IngestedAt,
		WatermarkEventID:    string(wm.EventID),
	}
}
