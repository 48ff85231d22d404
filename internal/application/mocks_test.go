package application

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

// fetchResult scripts one Fetch call of the mock gateway.
type fetchResult struct {
	body string
	size int64 // 0 means len(body), -1 means unknown
	err  error
}

// mockGateway implements output.SessionGateway with scripted responses.
type mockGateway struct {
	mu sync.Mutex

	probeErr    error
	searchItems []output.SearchItem
	searchErrs  []error // Consumed one per call, then nil
	searchCalls int

	// results queues per-URL scripted responses; the last one repeats.
	results    map[string][]fetchResult
	fetchCalls []string
}

func (m *mockGateway) Probe(context.Context) error {
	return m.probeErr
}

func (m *mockGateway) Search(_ context.Context, _ output.SearchQuery) ([]output.SearchItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if len(m.searchErrs) > 0 {
		err := m.searchErrs[0]
		m.searchErrs = m.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.searchItems, nil
}

func (m *mockGateway) Fetch(_ context.Context, url string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls = append(m.fetchCalls, url)

	res := fetchResult{body: "tile payload"}
	if queue, ok := m.results[url]; ok && len(queue) > 0 {
		res = queue[0]
		if len(queue) > 1 {
			m.results[url] = queue[1:]
		}
	}
	if res.err != nil {
		return nil, 0, res.err
	}
	size := res.size
	if size == 0 {
		size = int64(len(res.body))
	}
	return io.NopCloser(strings.NewReader(res.body)), size, nil
}

func (m *mockGateway) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetchCalls)
}

// mockManifest implements output.ManifestStore in memory.
type mockManifest struct {
	mu        sync.Mutex
	entries   map[string]output.ManifestEntry
	recordErr error
}

func newMockManifest() *mockManifest {
	return &mockManifest{entries: make(map[string]output.ManifestEntry)}
}

func (m *mockManifest) Record(_ context.Context, e output.ManifestEntry) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Collection+"/"+e.TileID] = e
	return nil
}

func (m *mockManifest) Lookup(_ context.Context, collection, tileID string) (output.ManifestEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[collection+"/"+tileID]
	return e, ok, nil
}

func (m *mockManifest) CollectionCounts(_ context.Context, collection string) (map[domain.TaskOutcome]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.TaskOutcome]int)
	for key, e := range m.entries {
		if strings.HasPrefix(key, collection+"/") {
			counts[e.Outcome]++
		}
	}
	return counts, nil
}

func (m *mockManifest) Close() error { return nil }

func (m *mockManifest) entry(collection, tileID string) (output.ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[collection+"/"+tileID]
	return e, ok
}

// progressRecorder collects published events in order.
type progressRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
	onNext func(domain.ProgressEvent)
}

func (r *progressRecorder) Publish(event domain.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	cb := r.onNext
	r.mu.Unlock()
	if cb != nil {
		cb(event)
	}
}

func (r *progressRecorder) all() []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}

// mockArchive implements output.ArchiveSink, remembering stored keys.
type mockArchive struct {
	mu   sync.Mutex
	keys []string
}

func (m *mockArchive) Store(_ context.Context, key string, body io.Reader, _ int64) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

// mockMosaicker implements output.Mosaicker, remembering build requests.
type mockMosaicker struct {
	mu     sync.Mutex
	builds []string
}

func (m *mockMosaicker) BuildMosaic(_ context.Context, col domain.Collection, _ []string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds = append(m.builds, col.ID)
	return nil
}
