package application

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/layout"
)

// archiveRun uploads every completed download of the run's collections to
// the archive sink, keyed as "<collection>/<file>". Archive failures are
// logged per file and never affect the run outcome.
func (s *FetchService) archiveRun(ctx context.Context, plan *domain.Plan, summary domain.RunSummary) {
	uploaded := 0
	for _, cp := range plan.Collections {
		if len(cp.Tiles) == 0 || cp.Err != nil {
			continue
		}
		dir := filepath.Dir(s.layout.DestinationFor(cp.Collection, cp.Tiles[0]))
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.logger.Warn("listing collection for archive", "collection", cp.Collection.ID, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), layout.PartialSuffix) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return
			}
			if err := s.archiveFile(ctx, cp.Collection.Label, filepath.Join(dir, entry.Name())); err != nil {
				s.logger.Warn("archiving file", "file", entry.Name(), "error", err)
				continue
			}
			uploaded++
		}
	}
	s.logger.Info("archive finished", "run_id", summary.RunID, "files", uploaded)
}

func (s *FetchService) archiveFile(ctx context.Context, label, path string) error {
	f, err := os.Open(path) //#nosec G304 -- paths come from the configured output root
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	key := label + "/" + filepath.Base(path)
	return s.archive.Store(ctx, key, f, info.Size())
}
