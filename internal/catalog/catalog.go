// Package catalog implements the grid index: static knowledge of the
// portal's tiling scheme and per-collection tile catalogs, answering
// "which tiles intersect this AOI".
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// File is the on-disk format of one collection catalog. Catalogs are
// versioned static data maintained outside the core: the portal has no
// formal API to derive them from, so they are shipped as configuration and
// replaceable without touching orchestration logic.
type File struct {
	Version    string     `yaml:"version"`
	Collection string     `yaml:"collection"`
	Label      string     `yaml:"label,omitempty"`
	Raster     bool       `yaml:"raster"`
	CRS        string     `yaml:"crs,omitempty"` // Native grid, default EPSG:3763
	Tiles      []FileTile `yaml:"tiles"`
}

// FileTile is one tile record in a catalog file. BBox is WGS84
// [minLon, minLat, maxLon, maxLat]; Native is the PT-TM06 extent in meters
// and is derived from BBox when absent.
type FileTile struct {
	ID     string     `yaml:"id"`
	BBox   [4]float64 `yaml:"bbox"`
	Native []float64  `yaml:"native,omitempty,flow"`
	Asset  string     `yaml:"asset,omitempty"`
	Type   string     `yaml:"type,omitempty"`
}

type collectionEntry struct {
	collection domain.Collection
	version    string
	tiles      []domain.Tile
}

// Index answers tile-intersection queries against loaded catalogs. Reads
// and reloads may interleave in serve mode, hence the lock.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collectionEntry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{collections: make(map[string]*collectionEntry)}
}

// LoadDir loads every .yaml/.yml catalog in dir, replacing any previously
// loaded catalog for the same collection.
func (x *Index) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading catalog directory: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := x.LoadFile(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("catalog %s: %w", e.Name(), err)
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no catalog files in %s", dir)
	}
	return nil
}

// LoadFile loads or replaces one collection catalog.
func (x *Index) LoadFile(path string) error {
	data, err := os.ReadFile(path) //#nosec G304 -- operator-controlled catalog path
	if err != nil {
		return err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}
	return x.Load(f)
}

// Load installs a parsed catalog into the index.
func (x *Index) Load(f File) error {
	if f.Collection == "" {
		return fmt.Errorf("catalog has no collection id")
	}

	col := domain.Collection{ID: f.Collection, Label: f.Label, Raster: f.Raster}
	if col.Label == "" {
		col.Label = f.Collection
	}
	if known, ok := domain.KnownCollection(f.Collection); ok && !f.Raster {
		col.Raster = known.Raster
	}

	tiles := make([]domain.Tile, 0, len(f.Tiles))
	for _, ft := range f.Tiles {
		if ft.ID == "" {
			return fmt.Errorf("catalog tile without id")
		}
		extent := domain.NewBoundingBox(ft.BBox[0], ft.BBox[1], ft.BBox[2], ft.BBox[3])
		if !extent.IsValid() {
			return fmt.Errorf("tile %s has a degenerate bbox", ft.ID)
		}

		var native domain.BoundingBox
		if len(ft.Native) == 4 {
			native = domain.BoundingBox{MinX: ft.Native[0], MinY: ft.Native[1], MaxX: ft.Native[2], MaxY: ft.Native[3]}
		} else {
			nb, err := domain.ProjectBoxToNative(extent)
			if err != nil {
				return fmt.Errorf("tile %s: %w", ft.ID, err)
			}
			native = nb
		}

		tiles = append(tiles, domain.Tile{
			Collection: col.ID,
			ID:         ft.ID,
			Extent:     extent,
			Native:     native,
			AssetURL:   ft.Asset,
			MIMEType:   ft.Type,
		})
	}

	sortRowMajor(tiles)

	x.mu.Lock()
	x.collections[col.ID] = &collectionEntry{collection: col, version: f.Version, tiles: tiles}
	x.mu.Unlock()
	return nil
}

// sortRowMajor orders tiles north-to-south, then west-to-east within a
// row, by native-grid coordinates. Re-runs therefore produce identical
// task ordering.
func sortRowMajor(tiles []domain.Tile) {
	sort.SliceStable(tiles, func(i, j int) bool {
		a, b := tiles[i].Native, tiles[j].Native
		if a.MinY != b.MinY {
			return a.MinY > b.MinY
		}
		if a.MinX != b.MinX {
			return a.MinX < b.MinX
		}
		return tiles[i].ID < tiles[j].ID
	})
}

// Collection returns the collection metadata for an ID.
func (x *Index) Collection(id string) (domain.Collection, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.collections[id]
	if !ok {
		return domain.Collection{}, fmt.Errorf("%s: %w", id, domain.ErrUnknownCollection)
	}
	return entry.collection, nil
}

// Collections returns the loaded collections in ID order.
func (x *Index) Collections() []domain.Collection {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]domain.Collection, 0, len(x.collections))
	for _, e := range x.collections {
		out = append(out, e.collection)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Version returns the catalog version string for a collection.
func (x *Index) Version(id string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if e, ok := x.collections[id]; ok {
		return e.version
	}
	return ""
}

// TileCount returns the number of cataloged tiles for a collection.
func (x *Index) TileCount(id string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if e, ok := x.collections[id]; ok {
		return len(e.tiles)
	}
	return 0
}

// TilesIntersecting returns the cataloged tiles of one collection whose
// native extent intersects the AOI, in deterministic row-major order. An
// empty result means the AOI does not touch the collection; that is not an
// error. Unknown collections and unprojectable AOIs are.
func (x *Index) TilesIntersecting(collection string, aoi domain.AreaOfInterest) ([]domain.Tile, error) {
	x.mu.RLock()
	entry, ok := x.collections[collection]
	x.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", collection, domain.ErrUnknownCollection)
	}

	native, err := aoi.ToNative()
	if err != nil {
		return nil, err
	}

	var out []domain.Tile
	for _, t := range entry.tiles {
		if native.Intersects(t.Native) {
			out = append(out, t)
		}
	}
	return out, nil
}
