package output

import (
	"context"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// Mosaicker builds a virtual raster per collection after a run. The core
// never parses rasters itself: implementations call out to an external
// raster tool over the files the run laid down.
type Mosaicker interface {
	BuildMosaic(ctx context.Context, col domain.Collection, inputs []string, outputPath string) error
}
