// Package planner implements AOI decomposition: turning an area of
// interest and a collection selection into ordered, cap-respecting
// download plans.
package planner

import (
	"fmt"
	"log/slog"

	"github.com/jobrunner/cddfetch/internal/catalog"
	"github.com/jobrunner/cddfetch/internal/domain"
)

// Planner builds per-collection download plans from the grid index.
type Planner struct {
	index  *catalog.Index
	capKm2 float64
	logger *slog.Logger
}

// New creates a planner. capKm2 is the portal's per-request area cap.
func New(index *catalog.Index, capKm2 float64, logger *slog.Logger) *Planner {
	return &Planner{index: index, capKm2: capKm2, logger: logger}
}

// Plan decomposes the AOI into ordered tile sets and request batches for
// each requested collection. An empty collections slice selects every
// loaded collection. An invalid AOI or an unknown collection fails the
// whole plan; a tile larger than the request cap is recorded on its
// collection's entry and leaves the other collections planned.
func (p *Planner) Plan(aoi domain.AreaOfInterest, collections []string) (*domain.Plan, error) {
	if err := aoi.Validate(); err != nil {
		return nil, err
	}

	if len(collections) == 0 {
		for _, c := range p.index.Collections() {
			collections = append(collections, c.ID)
		}
	}

	plan := &domain.Plan{AOI: aoi}
	for _, id := range collections {
		col, err := p.index.Collection(id)
		if err != nil {
			return nil, err
		}

		tiles, err := p.index.TilesIntersecting(id, aoi)
		if err != nil {
			return nil, err
		}
		tiles = dedupe(tiles)

		batches, err := packBatches(col.ID, tiles, p.capKm2)
		if err != nil {
			// A tile over the request cap makes this collection
			// unplannable; the other collections still get their plans.
			p.logger.Warn("collection plan failed", "collection", id, "error", err)
			plan.Collections = append(plan.Collections, domain.CollectionPlan{
				Collection: col,
				Tiles:      tiles,
				Err:        err,
			})
			continue
		}

		p.logger.Debug("collection planned",
			"collection", id,
			"tiles", len(tiles),
			"batches", len(batches),
		)
		plan.Collections = append(plan.Collections, domain.CollectionPlan{
			Collection: col,
			Tiles:      tiles,
			Batches:    batches,
		})
	}
	return plan, nil
}

// dedupe drops duplicate tile IDs, keeping first occurrence so the
// row-major order is preserved.
func dedupe(tiles []domain.Tile) []domain.Tile {
	seen := make(map[string]struct{}, len(tiles))
	out := tiles[:0]
	for _, t := range tiles {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// packBatches groups tiles into bounded-region request batches greedily in
// index order: spatially adjacent tiles land in the same batch until the
// union of the batch extent would exceed the cap, then a new batch starts.
// A single tile over the cap is a policy failure, not something to drop
// silently.
func packBatches(collection string, tiles []domain.Tile, capKm2 float64) ([]domain.RequestBatch, error) {
	if len(tiles) == 0 {
		return nil, nil
	}

	var batches []domain.RequestBatch
	var current *domain.RequestBatch

	for _, t := range tiles {
		if area := t.Extent.AreaKm2(); area > capKm2 {
			return nil, &domain.TileExceedsCapError{
				Collection: collection,
				TileID:     t.ID,
				AreaKm2:    area,
				CapKm2:     capKm2,
			}
		}

		if current == nil {
			batches = append(batches, domain.RequestBatch{
				Collection: collection,
				Extent:     t.Extent,
				Tiles:      []domain.Tile{t},
			})
			current = &batches[len(batches)-1]
			continue
		}

		union := current.Extent.Union(t.Extent)
		if union.AreaKm2() > capKm2 {
			batches = append(batches, domain.RequestBatch{
				Collection: collection,
				Extent:     t.Extent,
				Tiles:      []domain.Tile{t},
			})
			current = &batches[len(batches)-1]
			continue
		}

		current.Extent = union
		current.Tiles = append(current.Tiles, t)
	}
	return batches, nil
}

// Describe renders a short human summary of a plan, used by the plan
// command.
func Describe(plan *domain.Plan) string {
	out := ""
	for _, cp := range plan.Collections {
		if cp.Err != nil {
			out += fmt.Sprintf("%s: plan failed: %v\n", cp.Collection.ID, cp.Err)
			continue
		}
		out += fmt.Sprintf("%s: %d tiles in %d request batches\n",
			cp.Collection.ID, len(cp.Tiles), len(cp.Batches))
	}
	if out == "" {
		out = "no collections selected\n"
	}
	return out
}
