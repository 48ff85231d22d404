package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/planner"
	"github.com/jobrunner/cddfetch/internal/ports/input"
)

// triggerCooldown limits how often serve-mode callers can start runs.
const triggerCooldown = 30 * time.Second

// eventBufferSize bounds the per-run progress event ring.
const eventBufferSize = 1024

type runEntry struct {
	status input.RunStatus
	events []domain.ProgressEvent
	cancel context.CancelFunc
}

// RunManager implements the RunController driving port: it owns run
// lifecycles for serve mode, one active run at a time, each with its own
// cancellation and event buffer. Multiple independent runs in the same
// process never share mutable state beyond this manager.
type RunManager struct {
	planner  *planner.Planner
	fetch    *FetchService
	defaults FetchOptions
	logger   *slog.Logger

	mu          sync.Mutex
	runs        map[string]*runEntry
	activeRunID string
	lastTrigger time.Time
}

// NewRunManager creates a run manager. defaults carries run options not
// settable per request, such as the retry budget.
func NewRunManager(p *planner.Planner, fetch *FetchService, defaults FetchOptions, logger *slog.Logger) *RunManager {
	return &RunManager{
		planner:  p,
		fetch:    fetch,
		defaults: defaults,
		logger:   logger,
		// Start outside the cooldown window so the first trigger works.
		lastTrigger: time.Now().Add(-triggerCooldown - time.Second),
		runs:        make(map[string]*runEntry),
	}
}

// TriggerRun implements input.RunController. Planning-time errors surface
// here, before any download activity; the run itself executes in the
// background.
func (m *RunManager) TriggerRun(_ context.Context, req input.RunRequest) (input.RunStatus, error) {
	m.mu.Lock()
	if m.activeRunID != "" {
		m.mu.Unlock()
		return input.RunStatus{}, domain.ErrRunInProgress
	}
	if time.Since(m.lastTrigger) < triggerCooldown {
		m.mu.Unlock()
		return input.RunStatus{}, domain.ErrRateLimited
	}
	m.lastTrigger = time.Now()
	m.mu.Unlock()

	plan, err := m.planner.Plan(req.AOI, req.Collections)
	if err != nil {
		return input.RunStatus{}, err
	}
	if plan.TotalTiles() == 0 {
		// With nothing downloadable there is no run to start; a plan
		// failure, if any, is the caller's answer.
		for _, cp := range plan.Collections {
			if cp.Err != nil {
				return input.RunStatus{}, cp.Err
			}
		}
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	status := input.RunStatus{
		RunID:     runID,
		State:     input.RunStateRunning,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.runs[runID] = &runEntry{status: status, cancel: cancel}
	m.activeRunID = runID
	m.mu.Unlock()

	opts := FetchOptions{
		MaxAttempts: m.defaults.MaxAttempts,
		Mosaic:      req.Mosaic,
		Archive:     req.Archive,
	}
	go m.execute(runCtx, runID, plan, opts)
	return status, nil
}

func (m *RunManager) execute(ctx context.Context, runID string, plan *domain.Plan, opts FetchOptions) {
	summary, err := m.fetch.Run(ctx, runID, plan, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.runs[runID]
	m.activeRunID = ""

	now := time.Now().UTC()
	entry.status.FinishedAt = &now
	entry.status.Summary = &summary

	switch {
	case errors.Is(err, context.Canceled):
		entry.status.State = input.RunStateCanceled
	case err != nil:
		entry.status.State = input.RunStateFailed
		entry.status.Error = err.Error()
	case summary.Succeeded():
		entry.status.State = input.RunStateSucceeded
	default:
		entry.status.State = input.RunStateFailed
		entry.status.Error = "run finished with failed tiles"
	}
	m.logger.Info("run finished", "run_id", runID, "state", entry.status.State)
}

// Publish implements output.ProgressSink: events are routed into the
// originating run's ring buffer.
func (m *RunManager) Publish(event domain.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[event.RunID]
	if !ok {
		return
	}
	entry.events = append(entry.events, event)
	if len(entry.events) > eventBufferSize {
		entry.events = entry.events[len(entry.events)-eventBufferSize:]
	}
}

// RunStatus implements input.RunController.
func (m *RunManager) RunStatus(runID string) (input.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[runID]
	if !ok {
		return input.RunStatus{}, domain.ErrRunNotFound
	}
	return entry.status, nil
}

// RunEvents implements input.RunController.
func (m *RunManager) RunEvents(runID string, limit int) ([]domain.ProgressEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	events := entry.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]domain.ProgressEvent, len(events))
	copy(out, events)
	return out, nil
}

// CancelRun implements input.RunController.
func (m *RunManager) CancelRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if entry.status.State == input.RunStateRunning {
		entry.cancel()
	}
	return nil
}

// ActiveRunID returns the currently executing run, if any.
func (m *RunManager) ActiveRunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRunID
}
