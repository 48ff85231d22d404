package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

// Discoverer populates catalog files by sweeping a region through the
// portal's search endpoint in cap-sized chunks. Discovery is how catalogs
// are maintained; orchestration itself only ever reads the files.
type Discoverer struct {
	gateway output.SessionGateway
	logger  *slog.Logger
	maxKm2  float64
	limit   int
}

// NewDiscoverer creates a catalog discoverer.
func NewDiscoverer(gateway output.SessionGateway, maxKm2 float64, logger *slog.Logger) *Discoverer {
	return &Discoverer{gateway: gateway, logger: logger, maxKm2: maxKm2, limit: 1000}
}

// Discover sweeps region and writes one catalog file per collection into
// dir, named "<collection>.yaml". The version string is the sweep date.
func (d *Discoverer) Discover(ctx context.Context, region domain.BoundingBox, collections []string, dir string) error {
	if !region.IsValid() {
		return &domain.GeometryError{Op: "validate", Message: "discovery region has no area"}
	}
	if len(collections) == 0 {
		collections = domain.KnownCollectionIDs()
	}

	chunks := region.DivideByArea(d.maxKm2)
	d.logger.Info("sweeping region for catalog discovery",
		"chunks", len(chunks),
		"collections", collections,
	)

	perCollection := make(map[string]map[string]FileTile)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := d.gateway.Search(ctx, output.SearchQuery{
			BBox:        &chunk,
			Collections: collections,
			Limit:       d.limit,
		})
		if err != nil {
			return fmt.Errorf("sweeping chunk %d/%d: %w", i+1, len(chunks), err)
		}
		for _, item := range items {
			tiles := perCollection[item.Collection]
			if tiles == nil {
				tiles = make(map[string]FileTile)
				perCollection[item.Collection] = tiles
			}
			if _, seen := tiles[item.ItemID]; seen {
				continue
			}
			tiles[item.ItemID] = FileTile{
				ID:    item.ItemID,
				BBox:  [4]float64{item.BBox.MinX, item.BBox.MinY, item.BBox.MaxX, item.BBox.MaxY},
				Asset: item.AssetURL,
				Type:  item.MIMEType,
			}
		}
		d.logger.Debug("chunk swept", "chunk", i+1, "items", len(items))
	}

	version := time.Now().UTC().Format("2006-01-02")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	for _, id := range collections {
		tiles, ok := perCollection[id]
		if !ok {
			d.logger.Warn("no items discovered for collection", "collection", id)
			continue
		}
		f := File{
			Version:    version,
			Collection: id,
			Tiles:      make([]FileTile, 0, len(tiles)),
		}
		if known, kok := domain.KnownCollection(id); kok {
			f.Label = known.Label
			f.Raster = known.Raster
		}
		for _, t := range tiles {
			f.Tiles = append(f.Tiles, t)
		}
		sort.Slice(f.Tiles, func(i, j int) bool { return f.Tiles[i].ID < f.Tiles[j].ID })

		data, err := yaml.Marshal(&f)
		if err != nil {
			return fmt.Errorf("encoding catalog %s: %w", id, err)
		}
		path := filepath.Join(dir, id+".yaml")
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return fmt.Errorf("writing catalog %s: %w", id, err)
		}
		d.logger.Info("catalog written", "collection", id, "tiles", len(f.Tiles), "path", path)
	}
	return nil
}
