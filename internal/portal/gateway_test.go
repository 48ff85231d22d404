package portal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() Session {
	return Session{
		Cookies: map[string]string{"JSESSIONID": "abc123"},
		Headers: map[string]string{"X-Requested-With": "XMLHttpRequest"},
	}
}

func newTestGateway(serverURL string) *Gateway {
	return NewGateway(Config{
		BaseURL: serverURL,
		Timeout: 5 * time.Second,
		Delay:   0,
	}, testSession(), output.NoOpMetrics{}, testLogger())
}

func featureResponse() map[string]any {
	return map[string]any{
		"features": []map[string]any{
			{
				"id":         "fallback-id",
				"collection": "MDT-2m",
				"bbox":       []float64{-8.2, 39.5, -8.1, 39.6},
				"links": []map[string]any{
					{"rel": "parent", "href": "https://example.com/collections/MDT-2m"},
					{"rel": "self", "href": "https://example.com/items/MDT-2m-0455-3"},
				},
				"assets": map[string]any{
					"data": map[string]any{
						"href": "https://example.com/download/MDT-2m-0455-3.tif",
						"type": "image/tiff; application=geotiff",
					},
					"duplicate": map[string]any{
						"href": "https://example.com/download/MDT-2m-0455-3.tif",
						"type": "image/tiff; application=geotiff",
					},
					"metadata": map[string]any{
						"href": "https://example.com/download/MDT-2m-0455-3.xml",
						"type": "application/xml",
					},
				},
			},
		},
	}
}

func TestSearchBBoxRequest(t *testing.T) {
	var captured searchRequest
	var gotCookie, gotUA, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/dgt-be/v1/search" {
			t.Errorf("path = %s, want /dgt-be/v1/search", r.URL.Path)
		}
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		gotHeader = r.Header.Get("X-Requested-With")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(featureResponse())
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	bbox := domain.NewBoundingBox(-8.3, 39.4, -8.0, 39.7)
	items, err := g.Search(context.Background(), output.SearchQuery{
		BBox:        &bbox,
		Collections: []string{"MDT-2m"},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []float64{-8.3, 39.4, -8.0, 39.7}
	if len(captured.BBox) != 4 {
		t.Fatalf("request bbox = %v, want 4 values", captured.BBox)
	}
	for i, v := range want {
		if captured.BBox[i] != v {
			t.Errorf("bbox[%d] = %v, want %v", i, captured.BBox[i], v)
		}
	}
	if captured.Filter != nil {
		t.Error("bbox query should not carry a filter")
	}
	if len(captured.Collections) != 1 || captured.Collections[0] != "MDT-2m" {
		t.Errorf("collections = %v, want [MDT-2m]", captured.Collections)
	}
	if captured.Limit <= 0 {
		t.Errorf("limit = %d, want a positive default", captured.Limit)
	}

	if gotCookie != "JSESSIONID=abc123" {
		t.Errorf("Cookie = %q, want session cookie", gotCookie)
	}
	if gotUA != "cddfetch/1.0" {
		t.Errorf("User-Agent = %q, want default", gotUA)
	}
	if gotHeader != "XMLHttpRequest" {
		t.Errorf("X-Requested-With = %q, want session header", gotHeader)
	}

	// Two distinct asset URLs survive dedupe; the item ID comes from the
	// self link, not the feature ID.
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 after dedupe", len(items))
	}
	for _, item := range items {
		if item.ItemID != "MDT-2m-0455-3" {
			t.Errorf("ItemID = %q, want MDT-2m-0455-3", item.ItemID)
		}
		if item.Collection != "MDT-2m" {
			t.Errorf("Collection = %q, want MDT-2m", item.Collection)
		}
	}
}

func TestSearchPolygonFilter(t *testing.T) {
	var captured searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"features": []any{}})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	poly := domain.Polygon{Vertices: []domain.Point{
		{X: -8.3, Y: 39.4}, {X: -8.0, Y: 39.4}, {X: -8.0, Y: 39.7},
	}}
	if _, err := g.Search(context.Background(), output.SearchQuery{Polygon: &poly}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(captured.BBox) != 0 {
		t.Error("polygon query should not carry a bbox")
	}
	if captured.Filter == nil {
		t.Fatal("polygon query must carry an intersects filter")
	}
	if captured.Filter.Op != "intersects" {
		t.Errorf("filter op = %q, want intersects", captured.Filter.Op)
	}
	if len(captured.Filter.Args) != 2 {
		t.Fatalf("filter args = %d, want 2", len(captured.Filter.Args))
	}
	// Round trip through JSON leaves the geometry as a generic map.
	geom, ok := captured.Filter.Args[1].(map[string]any)
	if !ok {
		t.Fatalf("filter geometry has unexpected shape %T", captured.Filter.Args[1])
	}
	if geom["type"] != "Polygon" {
		t.Errorf("geometry type = %v, want Polygon", geom["type"])
	}
	ring := geom["coordinates"].([]any)[0].([]any)
	if len(ring) != 4 {
		t.Fatalf("ring has %d positions, want 4 (closed triangle)", len(ring))
	}
	first := ring[0].([]any)
	last := ring[len(ring)-1].([]any)
	if first[0] != last[0] || first[1] != last[1] {
		t.Error("GeoJSON ring must be closed")
	}
}

func TestSearchRequiresRegion(t *testing.T) {
	g := newTestGateway("http://unused.invalid")
	_, err := g.Search(context.Background(), output.SearchQuery{})
	if err == nil {
		t.Fatal("Search() without a region should fail")
	}
	var gerr *domain.GeometryError
	if !errors.As(err, &gerr) {
		t.Errorf("error = %v, want *GeometryError", err)
	}
}

func TestProbeClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "live session",
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("Probe() error = %v, want nil", err)
				}
			},
		},
		{
			name:   "expired session",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrAuthExpired) {
					t.Errorf("error = %v, want ErrAuthExpired", err)
				}
			},
		},
		{
			name:   "forbidden session",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrAuthExpired) {
					t.Errorf("error = %v, want ErrAuthExpired", err)
				}
			},
		},
		{
			name:   "server failure is retryable",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var rerr *domain.RequestError
				if !errors.As(err, &rerr) {
					t.Fatalf("error = %v, want *RequestError", err)
				}
				if rerr.Kind != domain.RequestKindServer {
					t.Errorf("Kind = %v, want server", rerr.Kind)
				}
				if !domain.Retryable(err) {
					t.Error("server failure should be retryable")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusOK {
					_ = json.NewEncoder(w).Encode(map[string]any{"features": []any{}})
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			tt.check(t, newTestGateway(server.URL).Probe(context.Background()))
		})
	}
}

func TestFetchStreamsBody(t *testing.T) {
	payload := strings.Repeat("ab", 2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "" {
			t.Error("fetch request missing session cookie")
		}
		w.Header().Set("Content-Type", "image/tiff")
		_, _ = io.WriteString(w, payload)
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	body, size, err := g.Fetch(context.Background(), server.URL+"/download/tile.tif")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = body.Close() }()

	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(got) != payload {
		t.Error("body does not match served payload")
	}
}

func TestFetchSniffsLoginPage(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "login page means expired session",
			body: `<html><body><form action="/login">Sign in</form></body></html>`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrAuthExpired) {
					t.Errorf("error = %v, want ErrAuthExpired", err)
				}
			},
		},
		{
			name: "auth marker means expired session",
			body: `<html><body>Authentication required</body></html>`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrAuthExpired) {
					t.Errorf("error = %v, want ErrAuthExpired", err)
				}
			},
		},
		{
			name: "plain HTML is a server failure",
			body: `<html><body>Service temporarily degraded</body></html>`,
			check: func(t *testing.T, err error) {
				var rerr *domain.RequestError
				if !errors.As(err, &rerr) {
					t.Fatalf("error = %v, want *RequestError", err)
				}
				if rerr.Kind != domain.RequestKindServer {
					t.Errorf("Kind = %v, want server", rerr.Kind)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			body, _, err := newTestGateway(server.URL).Fetch(context.Background(), server.URL+"/asset")
			if err == nil {
				_ = body.Close()
				t.Fatal("Fetch() of an HTML body should fail")
			}
			tt.check(t, err)
		})
	}
}

func TestThrottleDelaysConsecutiveRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/tiff")
		_, _ = io.WriteString(w, "tile bytes")
	}))
	defer server.Close()

	const delay = 30 * time.Millisecond
	g := NewGateway(Config{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Delay:   delay,
	}, testSession(), output.NoOpMetrics{}, testLogger())

	start := time.Now()
	for i := 0; i < 2; i++ {
		body, _, err := g.Fetch(context.Background(), server.URL+"/download/tile.tif")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		_, _ = io.Copy(io.Discard, body)
		_ = body.Close()
	}

	// The courtesy delay precedes every request, so two calls wait at
	// least twice.
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Errorf("two fetches took %v, want at least %v between requests", elapsed, 2*delay)
	}
}

func TestThrottleHonorsCancellation(t *testing.T) {
	g := NewGateway(Config{
		BaseURL: "http://unused.invalid",
		Delay:   time.Hour,
	}, testSession(), output.NoOpMetrics{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.throttle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("throttle() = %v, want context.Canceled", err)
	}
}

func TestSessionCookieHeader(t *testing.T) {
	s := Session{Cookies: map[string]string{"a": "1"}}
	if got := s.CookieHeader(); got != "a=1" {
		t.Errorf("CookieHeader() = %q, want a=1", got)
	}
	if (Session{}).Valid() {
		t.Error("empty session should not be valid")
	}
}
