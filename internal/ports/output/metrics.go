package output

import (
	"time"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTileOutcome counts a finished task by collection and outcome.
	IncTileOutcome(collection string, outcome domain.TaskOutcome)

	// ObserveFetchDuration records how long one fetch attempt took.
	ObserveFetchDuration(collection string, duration time.Duration)

	// AddBytesFetched accumulates downloaded bytes per collection.
	AddBytesFetched(collection string, n int64)

	// IncPortalRequests counts portal requests by kind and status.
	IncPortalRequests(kind string, success bool)

	// SetRunActive flags whether a run is currently executing.
	SetRunActive(active bool)

	// IncRuns counts finished runs by result.
	IncRuns(result string)
}

// NoOpMetrics is a MetricsCollector that discards everything, used when
// metrics are disabled.
type NoOpMetrics struct{}

func (NoOpMetrics) IncTileOutcome(string, domain.TaskOutcome)  {}
func (NoOpMetrics) ObserveFetchDuration(string, time.Duration) {}
func (NoOpMetrics) AddBytesFetched(string, int64)              {}
func (NoOpMetrics) IncPortalRequests(string, bool)             {}
func (NoOpMetrics) SetRunActive(bool)                          {}
func (NoOpMetrics) IncRuns(string)                             {}
