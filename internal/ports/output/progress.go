package output

import "github.com/jobrunner/cddfetch/internal/domain"

// ProgressSink receives one event per task transition, in order. Sinks must
// not block: the orchestrator publishes synchronously from its single
// worker.
type ProgressSink interface {
	Publish(event domain.ProgressEvent)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(domain.ProgressEvent)

// Publish implements ProgressSink.
func (f ProgressFunc) Publish(event domain.ProgressEvent) { f(event) }

// MultiProgress fans one event out to several sinks.
type MultiProgress []ProgressSink

// Publish implements ProgressSink.
func (m MultiProgress) Publish(event domain.ProgressEvent) {
	for _, s := range m {
		s.Publish(event)
	}
}
