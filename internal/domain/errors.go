package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInternal     = errors.New("internal error")
)

// Specific errors.
var (
	// ErrUnknownCollection is returned when a collection identifier is not
	// present in the grid index catalog. Fatal at planning time.
	ErrUnknownCollection = fmt.Errorf("collection: %w", ErrNotFound)

	// ErrAuthExpired is returned when the portal no longer accepts the
	// session. Fatal for the whole run: every subsequent fetch would fail
	// the same way, so the orchestrator stops instead of retrying.
	ErrAuthExpired = errors.New("session expired or rejected by portal")

	// ErrRunInProgress is returned when a run is triggered while another
	// run is still active.
	ErrRunInProgress = fmt.Errorf("run already in progress: %w", ErrUnavailable)

	// ErrRunNotFound is returned when a run identifier is not known.
	ErrRunNotFound = fmt.Errorf("run: %w", ErrNotFound)

	// ErrRateLimited is returned when run triggers arrive faster than the
	// trigger cooldown allows.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// GeometryError represents an AOI that could not be validated, projected or
// intersected with the tiling scheme. Fatal at planning time.
type GeometryError struct {
	Op      string // Operation that failed (validate, project, intersect)
	Message string
}

// Error implements the error interface.
func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry error during %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error type.
func (e *GeometryError) Unwrap() error {
	return ErrInvalidInput
}

// TileExceedsCapError reports a single tile whose own footprint exceeds the
// portal's per-request area cap. Splitting such a tile is out of scope, so
// the collection's plan fails rather than silently dropping the tile.
type TileExceedsCapError struct {
	Collection string
	TileID     string
	AreaKm2    float64
	CapKm2     float64
}

// Error implements the error interface.
func (e *TileExceedsCapError) Error() string {
	return fmt.Sprintf("tile %s in collection %s covers %.1f km², exceeding the %.1f km² request cap",
		e.TileID, e.Collection, e.AreaKm2, e.CapKm2)
}

// RequestKind classifies a transient portal request failure.
type RequestKind string

// Request failure kinds.
const (
	RequestKindNetwork RequestKind = "network"
	RequestKindServer  RequestKind = "server"
	RequestKindTimeout RequestKind = "timeout"
)

// RequestError represents a transient-assumed failure of a single portal
// request. The orchestrator retries these up to the configured attempt
// count before marking the task failed.
type RequestError struct {
	Kind   RequestKind
	Status int    // HTTP status for server errors, zero otherwise
	URL    string // Request URL
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	switch e.Kind {
	case RequestKindServer:
		return fmt.Sprintf("server error %d for %s", e.Status, e.URL)
	case RequestKindTimeout:
		return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a failed request may be attempted again.
// Transient request failures are retryable; everything else, notably an
// expired session, is not.
func Retryable(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
