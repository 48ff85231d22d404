// Package application contains the application services: download
// orchestration and run management.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/layout"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

// FetchOptions tune one run.
type FetchOptions struct {
	MaxAttempts int  // Attempts per tile for transient failures, default 3
	Mosaic      bool // Build a VRT per raster collection after the run
	Archive     bool // Upload completed files to the archive sink
}

// FetchService is the download orchestrator: a single logical worker that
// drives the plan strictly sequentially. The portal's tolerance for
// concurrent traffic is unknown, so politeness outranks throughput; with
// one active task at a time the manifest and filesystem are never
// contended.
type FetchService struct {
	gateway  output.SessionGateway
	layout   *layout.Manager
	manifest output.ManifestStore
	metrics  output.MetricsCollector
	progress output.ProgressSink
	mosaic   output.Mosaicker   // Optional
	archive  output.ArchiveSink // Optional
	logger   *slog.Logger
}

// NewFetchService wires the orchestrator. mosaic and archive may be nil.
func NewFetchService(
	gateway output.SessionGateway,
	lm *layout.Manager,
	manifest output.ManifestStore,
	metrics output.MetricsCollector,
	progress output.ProgressSink,
	mosaic output.Mosaicker,
	archive output.ArchiveSink,
	logger *slog.Logger,
) *FetchService {
	if progress == nil {
		progress = output.ProgressFunc(func(domain.ProgressEvent) {})
	}
	return &FetchService{
		gateway:  gateway,
		layout:   lm,
		manifest: manifest,
		metrics:  metrics,
		progress: progress,
		mosaic:   mosaic,
		archive:  archive,
		logger:   logger,
	}
}

// Run executes a plan. It returns an error only for fatal conditions
// (expired session, cancellation); per-tile failures are contained in the
// summary. Completed and skipped files always survive an aborted run, and
// the manifest stays consistent, so interrupted runs are safely resumable.
func (s *FetchService) Run(ctx context.Context, runID string, plan *domain.Plan, opts FetchOptions) (domain.RunSummary, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	summary := domain.RunSummary{RunID: runID, StartedAt: time.Now().UTC()}
	s.metrics.SetRunActive(true)
	defer s.metrics.SetRunActive(false)

	total := plan.TotalTiles()
	index := 0

	for _, cp := range plan.Collections {
		colSummary := domain.CollectionSummary{
			Collection: cp.Collection.ID,
			Planned:    len(cp.Tiles),
		}

		if cp.Err != nil {
			colSummary.PlanError = cp.Err.Error()
			summary.Collections = append(summary.Collections, colSummary)
			s.logger.Warn("skipping unplannable collection",
				"collection", cp.Collection.ID,
				"error", cp.Err,
			)
			continue
		}

		if len(cp.Tiles) > 0 {
			if _, err := s.layout.CollectionDir(cp.Collection); err != nil {
				return summary, err
			}
			if err := s.layout.CleanPartials(cp.Collection); err != nil {
				s.logger.Warn("cleaning partial files", "collection", cp.Collection.ID, "error", err)
			}
		}

		resolved, err := s.resolveAssets(ctx, cp, runID, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				summary.Collections = append(summary.Collections, colSummary)
				summary.Canceled = true
				return s.finish(summary, err)
			}
			if errors.Is(err, domain.ErrAuthExpired) {
				summary.Collections = append(summary.Collections, colSummary)
				return s.finish(summary, err)
			}
			// A transient discovery failure is contained like any other
			// transient failure: the unresolved tiles fail individually
			// below and the run moves on to the next collection.
			s.logger.Warn("asset resolution failed",
				"collection", cp.Collection.ID,
				"error", err,
			)
			resolved = cp.Tiles
		}

		for _, tile := range resolved {
			// Cancellation is honored between tasks, never mid-fetch,
			// so every completed file and manifest row stays intact.
			if err := ctx.Err(); err != nil {
				summary.Collections = append(summary.Collections, colSummary)
				summary.Canceled = true
				return s.finish(summary, err)
			}

			index++
			task := s.runTask(ctx, runID, cp.Collection, tile, opts.MaxAttempts)

			switch task.Outcome {
			case domain.OutcomeCompleted:
				colSummary.Completed++
			case domain.OutcomeSkipped:
				colSummary.Skipped++
			case domain.OutcomeFailed:
				colSummary.Failed++
			}

			s.metrics.IncTileOutcome(cp.Collection.ID, task.Outcome)
			s.record(ctx, runID, cp.Collection.ID, task)
			s.publish(runID, cp.Collection.ID, index, total, task)

			if task.Err != nil && errors.Is(task.Err, domain.ErrAuthExpired) {
				// Nothing after this point can succeed with a dead
				// session; stop the whole run now.
				summary.Collections = append(summary.Collections, colSummary)
				return s.finish(summary, task.Err)
			}
			if task.Err != nil && errors.Is(task.Err, context.Canceled) {
				summary.Collections = append(summary.Collections, colSummary)
				summary.Canceled = true
				return s.finish(summary, context.Canceled)
			}
		}

		summary.Collections = append(summary.Collections, colSummary)
		s.logger.Info("collection finished",
			"collection", cp.Collection.ID,
			"completed", colSummary.Completed,
			"skipped", colSummary.Skipped,
			"failed", colSummary.Failed,
		)
	}

	summary.FinishedAt = time.Now().UTC()
	s.postRun(ctx, runID, plan, summary, opts)

	if summary.Succeeded() {
		s.metrics.IncRuns("succeeded")
	} else {
		s.metrics.IncRuns("failed")
	}
	return summary, nil
}

// finish stamps and classifies an aborted run.
func (s *FetchService) finish(summary domain.RunSummary, err error) (domain.RunSummary, error) {
	summary.FinishedAt = time.Now().UTC()
	if summary.Canceled {
		s.metrics.IncRuns("canceled")
	} else {
		s.metrics.IncRuns("aborted")
	}
	return summary, err
}

// resolveAssets fills in download URLs for tiles the catalog does not
// already carry them for, one bounded-region query per request batch. The
// portal exposes no per-tile endpoint, so batches are the unit of
// discovery.
func (s *FetchService) resolveAssets(ctx context.Context, cp domain.CollectionPlan, runID string, opts FetchOptions) ([]domain.Tile, error) {
	missing := 0
	for _, t := range cp.Tiles {
		if t.AssetURL == "" {
			missing++
		}
	}
	if missing == 0 {
		return cp.Tiles, nil
	}

	assets := make(map[string]output.SearchItem)
	for _, batch := range cp.Batches {
		needed := false
		for _, t := range batch.Tiles {
			if t.AssetURL == "" {
				needed = true
				break
			}
		}
		if !needed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		extent := batch.Extent
		items, err := s.searchWithRetry(ctx, output.SearchQuery{
			BBox:        &extent,
			Collections: []string{cp.Collection.ID},
		}, opts.MaxAttempts)
		if err != nil {
			return nil, fmt.Errorf("resolving assets for %s: %w", cp.Collection.ID, err)
		}
		for _, item := range items {
			if _, dup := assets[item.ItemID]; !dup {
				assets[item.ItemID] = item
			}
		}
	}

	resolved := make([]domain.Tile, len(cp.Tiles))
	copy(resolved, cp.Tiles)
	for i := range resolved {
		if resolved[i].AssetURL != "" {
			continue
		}
		if item, ok := assets[resolved[i].ID]; ok {
			resolved[i].AssetURL = item.AssetURL
			resolved[i].MIMEType = item.MIMEType
		}
	}
	return resolved, nil
}

// searchWithRetry applies the same bounded-retry policy to discovery
// queries as runTask applies to downloads.
func (s *FetchService) searchWithRetry(ctx context.Context, q output.SearchQuery, maxAttempts int) ([]output.SearchItem, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		items, err := s.gateway.Search(ctx, q)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if !domain.Retryable(err) {
			return nil, err
		}
		s.logger.Warn("search attempt failed", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// runTask drives one tile through its lifecycle: skip when already on
// disk, otherwise fetch with bounded retries and an atomic move into
// place. The courtesy delay between attempts lives in the gateway and is
// the same fixed delay as between tasks, never a growing backoff.
func (s *FetchService) runTask(ctx context.Context, runID string, col domain.Collection, tile domain.Tile, maxAttempts int) domain.DownloadTask {
	task := domain.DownloadTask{
		Tile:        tile,
		Destination: s.layout.DestinationFor(col, tile),
		Outcome:     domain.OutcomePending,
	}

	var wantSize int64
	if entry, ok, err := s.manifest.Lookup(ctx, col.ID, tile.ID); err != nil {
		s.logger.Warn("manifest lookup failed", "tile", tile.ID, "error", err)
	} else if ok && entry.Outcome == domain.OutcomeCompleted {
		wantSize = entry.SizeBytes
	}

	if s.layout.Exists(task.Destination, wantSize) {
		task.Outcome = domain.OutcomeSkipped
		return task
	}

	if tile.AssetURL == "" {
		task.Outcome = domain.OutcomeFailed
		task.Err = fmt.Errorf("no download URL resolved for tile %s", tile.ID)
		return task
	}

	task.Outcome = domain.OutcomeInFlight
	for task.Attempts < maxAttempts {
		task.Attempts++

		start := time.Now()
		n, err := s.fetchOnce(ctx, tile, task.Destination)
		s.metrics.ObserveFetchDuration(col.ID, time.Since(start))

		if err == nil {
			task.Outcome = domain.OutcomeCompleted
			task.Bytes = n
			s.metrics.AddBytesFetched(col.ID, n)
			return task
		}

		task.Err = err
		if !domain.Retryable(err) {
			break
		}
		s.logger.Warn("fetch attempt failed",
			"tile", tile.ID,
			"attempt", task.Attempts,
			"max_attempts", maxAttempts,
			"error", err,
		)
	}

	task.Outcome = domain.OutcomeFailed
	return task
}

// fetchOnce performs one download attempt. The announced content length
// is enforced by the layout before the atomic move, so a short read is a
// transient network failure that enters the retry path without ever
// landing a truncated file at the destination.
func (s *FetchService) fetchOnce(ctx context.Context, tile domain.Tile, dest string) (int64, error) {
	body, size, err := s.gateway.Fetch(ctx, tile.AssetURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	n, err := s.layout.Write(dest, body, size)
	if err != nil {
		return 0, &domain.RequestError{Kind: domain.RequestKindNetwork, URL: tile.AssetURL, Err: err}
	}
	return n, nil
}

// record persists one task outcome. Manifest writes are best-effort: the
// filesystem stays authoritative, so a failed write degrades resumability
// without corrupting it.
func (s *FetchService) record(ctx context.Context, runID, collection string, task domain.DownloadTask) {
	err := s.manifest.Record(ctx, output.ManifestEntry{
		Collection: collection,
		TileID:     task.Tile.ID,
		Outcome:    task.Outcome,
		Attempts:   task.Attempts,
		SizeBytes:  task.Bytes,
		RunID:      runID,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("manifest record failed", "tile", task.Tile.ID, "error", err)
	}
}

func (s *FetchService) publish(runID, collection string, index, total int, task domain.DownloadTask) {
	event := domain.ProgressEvent{
		RunID:      runID,
		Collection: collection,
		TileIndex:  index,
		TotalTiles: total,
		TileID:     task.Tile.ID,
		Outcome:    task.Outcome,
		Attempts:   task.Attempts,
		Bytes:      task.Bytes,
	}
	if task.Err != nil {
		event.Error = task.Err.Error()
	}
	s.progress.Publish(event)
}

// postRun runs the optional follow-up steps. None of them can change the
// run outcome: the downloads are already on disk.
func (s *FetchService) postRun(ctx context.Context, runID string, plan *domain.Plan, summary domain.RunSummary, opts FetchOptions) {
	if err := s.writeBoundaryReport(runID, plan); err != nil {
		s.logger.Warn("writing boundary report", "error", err)
	}

	if opts.Mosaic && s.mosaic != nil {
		for _, cp := range plan.Collections {
			if !cp.Collection.Raster || len(cp.Tiles) == 0 || cp.Err != nil {
				continue
			}
			s.buildMosaic(ctx, cp.Collection)
		}
	}

	if opts.Archive && s.archive != nil {
		s.archiveRun(ctx, plan, summary)
	}
}

func (s *FetchService) buildMosaic(ctx context.Context, col domain.Collection) {
	inputs, err := s.layout.RasterFiles(col)
	if err != nil || len(inputs) == 0 {
		if err != nil {
			s.logger.Warn("listing raster files", "collection", col.ID, "error", err)
		}
		return
	}
	outputPath := s.layout.Root() + "/" + col.Label + ".vrt"
	if err := s.mosaic.BuildMosaic(ctx, col, inputs, outputPath); err != nil {
		s.logger.Warn("mosaic build failed", "collection", col.ID, "error", err)
		return
	}
	s.logger.Info("mosaic built", "collection", col.ID, "output", outputPath)
}
