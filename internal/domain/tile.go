package domain

import "time"

// Tile is the atomic unit of download: one grid cell of one collection.
type Tile struct {
	Collection string      // Owning collection ID
	ID         string      // Tile identifier as known to the portal
	Extent     BoundingBox // WGS84 extent
	Native     BoundingBox // Native-grid extent (meters)
	AssetURL   string      // Download URL, empty until resolved
	MIMEType   string      // Asset MIME type, drives the file extension
}

// FileName returns the on-disk name for the tile.
func (t Tile) FileName() string {
	return t.ID + FileExtension(t.MIMEType)
}

// RequestBatch groups tiles of one collection into a single bounded-region
// portal query whose combined extent stays under the per-request area cap.
type RequestBatch struct {
	Collection string
	Extent     BoundingBox // WGS84 union of the member tiles
	Tiles      []Tile      // Members in plan order
}

// AreaKm2 returns the approximate area of the batch region.
func (b RequestBatch) AreaKm2() float64 {
	return b.Extent.AreaKm2()
}

// CollectionPlan is the ordered download plan for one collection. A
// planning failure (a tile larger than the request cap) is fatal for this
// collection only: Err is set, no batches are built, and the other
// collections of the plan are unaffected.
type CollectionPlan struct {
	Collection Collection
	Tiles      []Tile         // Deduplicated, row-major order
	Batches    []RequestBatch // Bounded-region queries covering Tiles
	Err        error          // Planning failure, nil when the collection is plannable
}

// Plan maps each requested collection to its ordered tile set. Collections
// the AOI does not touch are present with empty tile lists: "nothing to
// download" is a result, not an error.
type Plan struct {
	AOI         AreaOfInterest
	Collections []CollectionPlan
}

// TotalTiles returns the number of downloadable tiles across all
// collections. Collections whose plan failed contribute nothing: they
// produce no tasks.
func (p Plan) TotalTiles() int {
	n := 0
	for _, cp := range p.Collections {
		if cp.Err != nil {
			continue
		}
		n += len(cp.Tiles)
	}
	return n
}

// TaskOutcome is the terminal state of a download task.
type TaskOutcome string

// Task outcomes.
const (
	OutcomePending   TaskOutcome = "pending"
	OutcomeInFlight  TaskOutcome = "in_flight"
	OutcomeCompleted TaskOutcome = "completed"
	OutcomeSkipped   TaskOutcome = "skipped"
	OutcomeFailed    TaskOutcome = "failed"
)

// DownloadTask tracks one tile through the orchestrator.
type DownloadTask struct {
	Tile        Tile
	Destination string
	Attempts    int
	Outcome     TaskOutcome
	Bytes       int64
	Err         error
}

// ProgressEvent is emitted after every task transition for the caller to
// surface (CLI print, GUI progress bar, serve-mode event buffer).
type ProgressEvent struct {
	RunID      string      `json:"run_id"`
	Collection string      `json:"collection"`
	TileIndex  int         `json:"tile_index"` // 1-based within the run
	TotalTiles int         `json:"total_tiles"`
	TileID     string      `json:"tile_id"`
	Outcome    TaskOutcome `json:"outcome"`
	Attempts   int         `json:"attempts,omitempty"`
	Bytes      int64       `json:"bytes,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// CollectionSummary holds per-collection outcome counts for a run.
// PlanError is set when the collection never produced tasks because its
// plan failed.
type CollectionSummary struct {
	Collection string `json:"collection"`
	Planned    int    `json:"planned"`
	Completed  int    `json:"completed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	PlanError  string `json:"plan_error,omitempty"`
}

// RunSummary is the post-run report. A run succeeded when no collection has
// failed tiles; failures are reported, never raised, so the caller decides
// whether to re-run.
type RunSummary struct {
	RunID       string              `json:"run_id"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Collections []CollectionSummary `json:"collections"`
	Canceled    bool                `json:"canceled,omitempty"`
}

// Succeeded reports whether the run finished with zero failed tiles and
// no unplannable collections.
func (s RunSummary) Succeeded() bool {
	for _, c := range s.Collections {
		if c.Failed > 0 || c.PlanError != "" {
			return false
		}
	}
	return !s.Canceled
}

// TotalFailed returns the failed tile count across collections.
func (s RunSummary) TotalFailed() int {
	n := 0
	for _, c := range s.Collections {
		n += c.Failed
	}
	return n
}
