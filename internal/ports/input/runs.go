// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// RunRequest describes one download run as submitted by a caller (CLI
// invocation or serve-mode API).
type RunRequest struct {
	AOI         domain.AreaOfInterest
	Collections []string // Empty means all known collections
	Mosaic      bool     // Build a VRT per raster collection afterwards
	Archive     bool     // Upload completed files to the archive sink
}

// RunState is the lifecycle state of a run.
type RunState string

// Run states.
const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	RunStateCanceled  RunState = "canceled"
)

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID      string             `json:"run_id"`
	State      RunState           `json:"state"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Summary    *domain.RunSummary `json:"summary,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// RunController is the driving port for triggering and observing runs,
// implemented by the application layer and consumed by the serve-mode
// HTTP adapter.
type RunController interface {
	// TriggerRun starts a run in the background. Returns
	// domain.ErrRunInProgress when a run is active and domain.ErrRateLimited
	// when triggers arrive inside the cooldown window.
	TriggerRun(ctx context.Context, req RunRequest) (RunStatus, error)

	// RunStatus returns the current status of a run.
	RunStatus(runID string) (RunStatus, error)

	// RunEvents returns up to limit most recent progress events of a run.
	RunEvents(runID string, limit int) ([]domain.ProgressEvent, error)

	// CancelRun requests cancellation of the active run.
	CancelRun(runID string) error
}
