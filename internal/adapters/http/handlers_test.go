package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jobrunner/cddfetch/internal/catalog"
	"github.com/jobrunner/cddfetch/internal/config"
	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/input"
)

// mockController implements input.RunController for testing.
type mockController struct {
	triggerStatus input.RunStatus
	triggerErr    error
	lastRequest   input.RunRequest

	status    input.RunStatus
	statusErr error

	events    []domain.ProgressEvent
	eventsErr error
	lastLimit int

	cancelErr error
	canceled  string
}

func (m *mockController) TriggerRun(_ context.Context, req input.RunRequest) (input.RunStatus, error) {
	m.lastRequest = req
	if m.triggerErr != nil {
		return input.RunStatus{}, m.triggerErr
	}
	return m.triggerStatus, nil
}

func (m *mockController) RunStatus(_ string) (input.RunStatus, error) {
	if m.statusErr != nil {
		return input.RunStatus{}, m.statusErr
	}
	return m.status, nil
}

func (m *mockController) RunEvents(_ string, limit int) ([]domain.ProgressEvent, error) {
	m.lastLimit = limit
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

func (m *mockController) CancelRun(runID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.canceled = runID
	return nil
}

func testIndex(t *testing.T) *catalog.Index {
	t.Helper()
	index := catalog.NewIndex()
	err := index.Load(catalog.File{
		Version:    "2026-01-15",
		Collection: "MDT-2m",
		Raster:     true,
		Tiles: []catalog.FileTile{
			{ID: "t1", BBox: [4]float64{-8.2, 39.5, -8.15, 39.55}},
			{ID: "t2", BBox: [4]float64{-8.15, 39.5, -8.1, 39.55}},
		},
	})
	if err != nil {
		t.Fatalf("loading test catalog: %v", err)
	}
	return index
}

func newTestServer(t *testing.T, controller *mockController, index *catalog.Index) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 8080}
	return NewServer(cfg, controller, index, nil, nil, "/metrics", logger)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return out
}

func TestTriggerRunAccepted(t *testing.T) {
	controller := &mockController{
		triggerStatus: input.RunStatus{RunID: "run-1", State: input.RunStateRunning},
	}
	s := newTestServer(t, controller, testIndex(t))

	body := `{"bbox":[-8.2,39.5,-8.1,39.6],"collections":["MDT-2m"],"mosaic":true}`
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", body)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", got["run_id"])
	}

	req := controller.lastRequest
	if req.AOI.BBox == nil {
		t.Fatal("controller did not receive a bbox AOI")
	}
	if !req.Mosaic || req.Archive {
		t.Errorf("options = mosaic=%v archive=%v, want mosaic only", req.Mosaic, req.Archive)
	}
	if len(req.Collections) != 1 || req.Collections[0] != "MDT-2m" {
		t.Errorf("collections = %v", req.Collections)
	}
}

func TestTriggerRunPolygon(t *testing.T) {
	controller := &mockController{triggerStatus: input.RunStatus{RunID: "run-1"}}
	s := newTestServer(t, controller, testIndex(t))

	body := `{"polygon":[[-8.2,39.5],[-8.1,39.5],[-8.1,39.6]]}`
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", body)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if controller.lastRequest.AOI.Polygon == nil {
		t.Fatal("controller did not receive a polygon AOI")
	}
	if n := len(controller.lastRequest.AOI.Polygon.Vertices); n != 3 {
		t.Errorf("vertices = %d, want 3", n)
	}
}

func TestTriggerRunBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{not json`},
		{"no geometry", `{"collections":["MDT-2m"]}`},
		{"both geometries", `{"bbox":[-8.2,39.5,-8.1,39.6],"polygon":[[-8.2,39.5],[-8.1,39.5],[-8.1,39.6]]}`},
		{"short bbox", `{"bbox":[-8.2,39.5,-8.1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &mockController{}, testIndex(t))
			rec := doRequest(s, http.MethodPost, "/api/v1/runs", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestTriggerRunErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"run in progress", domain.ErrRunInProgress, http.StatusConflict},
		{"unknown collection", domain.ErrUnknownCollection, http.StatusNotFound},
		{"geometry error", &domain.GeometryError{Op: "validate", Message: "degenerate"}, http.StatusBadRequest},
		{"tile exceeds cap", &domain.TileExceedsCapError{Collection: "LAZ", TileID: "t1", AreaKm2: 300, CapKm2: 200}, http.StatusUnprocessableEntity},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &mockController{triggerErr: tt.err}, testIndex(t))
			rec := doRequest(s, http.MethodPost, "/api/v1/runs", `{"bbox":[-8.2,39.5,-8.1,39.6]}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.err == domain.ErrRateLimited {
				if got := rec.Header().Get("Retry-After"); got != "30" {
					t.Errorf("Retry-After = %q, want 30", got)
				}
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	controller := &mockController{
		status: input.RunStatus{RunID: "run-1", State: input.RunStateSucceeded},
	}
	s := newTestServer(t, controller, testIndex(t))

	rec := doRequest(s, http.MethodGet, "/api/v1/runs/run-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["state"] != "succeeded" {
		t.Errorf("state = %v, want succeeded", got["state"])
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestServer(t, &mockController{statusErr: domain.ErrRunNotFound}, testIndex(t))
	rec := doRequest(s, http.MethodGet, "/api/v1/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelRun(t *testing.T) {
	controller := &mockController{}
	s := newTestServer(t, controller, testIndex(t))

	rec := doRequest(s, http.MethodDelete, "/api/v1/runs/run-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if controller.canceled != "run-1" {
		t.Errorf("canceled = %q, want run-1", controller.canceled)
	}
}

func TestRunEvents(t *testing.T) {
	controller := &mockController{
		events: []domain.ProgressEvent{
			{RunID: "run-1", TileID: "t1", Outcome: domain.OutcomeCompleted},
			{RunID: "run-1", TileID: "t2", Outcome: domain.OutcomeFailed},
		},
	}
	s := newTestServer(t, controller, testIndex(t))

	rec := doRequest(s, http.MethodGet, "/api/v1/runs/run-1/events?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if controller.lastLimit != 5 {
		t.Errorf("limit = %d, want 5", controller.lastLimit)
	}
	got := decodeBody(t, rec)
	if got["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", got["count"])
	}
}

func TestRunEventsDefaultLimit(t *testing.T) {
	controller := &mockController{}
	s := newTestServer(t, controller, testIndex(t))

	rec := doRequest(s, http.MethodGet, "/api/v1/runs/run-1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if controller.lastLimit != 100 {
		t.Errorf("default limit = %d, want 100", controller.lastLimit)
	}
}

func TestRunEventsInvalidLimit(t *testing.T) {
	s := newTestServer(t, &mockController{}, testIndex(t))
	rec := doRequest(s, http.MethodGet, "/api/v1/runs/run-1/events?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCatalog(t *testing.T) {
	s := newTestServer(t, &mockController{}, testIndex(t))

	rec := doRequest(s, http.MethodGet, "/api/v1/catalog", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", got["count"])
	}
	col := got["collections"].([]any)[0].(map[string]any)
	if col["id"] != "MDT-2m" || col["tile_count"].(float64) != 2 {
		t.Errorf("collection = %v", col)
	}
	if col["version"] != "2026-01-15" {
		t.Errorf("version = %v", col["version"])
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &mockController{}, testIndex(t))

	rec := doRequest(s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "ok" {
		t.Errorf("status = %v, want ok", got["status"])
	}
	if got["tiles_indexed"].(float64) != 2 {
		t.Errorf("tiles_indexed = %v, want 2", got["tiles_indexed"])
	}
}

func TestHealthEmptyCatalog(t *testing.T) {
	s := newTestServer(t, &mockController{}, catalog.NewIndex())

	rec := doRequest(s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness status = %d, want 503", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", rec.Code)
	}
}
