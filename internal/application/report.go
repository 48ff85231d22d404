package application

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// GeoJSON wire types for the boundary report.

type geoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	Type       string         `json:"type"`
	Geometry   geoJSONPolygon `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoJSONPolygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// writeBoundaryReport records the request batch regions of a run as a
// GeoJSON file under runs/, keeping the download footprint inspectable in
// any GIS without extra tooling.
func (s *FetchService) writeBoundaryReport(runID string, plan *domain.Plan) error {
	dir, err := s.layout.RunsDir()
	if err != nil {
		return err
	}

	fc := geoJSONFeatureCollection{Type: "FeatureCollection"}
	id := 0
	for _, cp := range plan.Collections {
		for _, batch := range cp.Batches {
			id++
			b := batch.Extent
			ring := [][]float64{
				{b.MinX, b.MinY},
				{b.MaxX, b.MinY},
				{b.MaxX, b.MaxY},
				{b.MinX, b.MaxY},
				{b.MinX, b.MinY},
			}
			fc.Features = append(fc.Features, geoJSONFeature{
				Type:     "Feature",
				Geometry: geoJSONPolygon{Type: "Polygon", Coordinates: [][][]float64{ring}},
				Properties: map[string]any{
					"id":         id,
					"collection": batch.Collection,
					"tiles":      len(batch.Tiles),
					"area_km2":   batch.AreaKm2(),
				},
			})
		}
	}
	if len(fc.Features) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-batches.geojson", runID))
	return os.WriteFile(path, data, 0o640)
}
