package output

import (
	"context"
	"time"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// ManifestEntry records the outcome of one tile download. Entries are
// advisory: file presence on disk stays authoritative, the manifest only
// speeds up and sharpens the resumability check.
type ManifestEntry struct {
	Collection string
	TileID     string
	Outcome    domain.TaskOutcome
	Attempts   int
	SizeBytes  int64
	RunID      string
	RecordedAt time.Time
}

// ManifestStore persists per-tile outcomes across runs.
type ManifestStore interface {
	// Record upserts the outcome for (collection, tile).
	Record(ctx context.Context, e ManifestEntry) error

	// Lookup returns the recorded entry for a tile, or ok=false when none
	// exists.
	Lookup(ctx context.Context, collection, tileID string) (e ManifestEntry, ok bool, err error)

	// CollectionCounts returns outcome counts per collection, for reporting.
	CollectionCounts(ctx context.Context, collection string) (map[domain.TaskOutcome]int, error)

	// Close releases the underlying store.
	Close() error
}
