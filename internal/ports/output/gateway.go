// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// SearchQuery is a bounded-region item query against the portal.
type SearchQuery struct {
	BBox        *domain.BoundingBox // WGS84 region, used when Polygon is nil
	Polygon     *domain.Polygon     // WGS84 polygon for intersects queries
	Collections []string            // Collection IDs to restrict to
	Limit       int                 // Max items per query
}

// SearchItem is one downloadable asset returned by a portal search.
type SearchItem struct {
	Collection string
	ItemID     string
	AssetURL   string
	MIMEType   string
	BBox       domain.BoundingBox // WGS84
}

// SessionGateway is the only component that touches the network. It wraps
// one authenticated session and applies the courtesy inter-request delay
// before every call. It never re-authenticates: an expired session surfaces
// as domain.ErrAuthExpired and the orchestrator halts the run.
type SessionGateway interface {
	// Probe performs a minimal request to classify the session as live.
	Probe(ctx context.Context) error

	// Search lists downloadable items for a bounded region.
	Search(ctx context.Context, q SearchQuery) ([]SearchItem, error)

	// Fetch streams one asset. Size is the server-announced content length,
	// or -1 when unknown. The caller owns closing the reader.
	Fetch(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
}
