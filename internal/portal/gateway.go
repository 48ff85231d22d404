package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

// Config holds gateway configuration.
type Config struct {
	BaseURL    string        // Portal root, e.g. https://cdd.dgterritorio.gov.pt
	SearchPath string        // Search endpoint path, default /dgt-be/v1/search
	Timeout    time.Duration // Per-request timeout, classified as Timeout when exceeded
	Delay      time.Duration // Courtesy inter-request delay, applied before every call
	UserAgent  string
}

// A bbox narrow enough to answer fast, used only to classify the session.
var probeBBox = []float64{-9.0, 38.0, -8.9, 38.1}

// Gateway implements output.SessionGateway over one authenticated session.
// The inter-request delay is a scheduling policy honored on every call,
// success or failure; it never grows with retries.
type Gateway struct {
	client  *http.Client
	cfg     Config
	session Session
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewGateway creates a gateway bound to one session.
func NewGateway(cfg Config, session Session, metrics output.MetricsCollector, logger *slog.Logger) *Gateway {
	if cfg.SearchPath == "" {
		cfg.SearchPath = "/dgt-be/v1/search"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cddfetch/1.0"
	}
	return &Gateway{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		session: session,
		metrics: metrics,
		logger:  logger,
	}
}

// throttle waits the configured courtesy delay, or returns early when the
// context is canceled.
func (g *Gateway) throttle(ctx context.Context) error {
	if g.cfg.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(g.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Probe implements output.SessionGateway.
func (g *Gateway) Probe(ctx context.Context) error {
	_, err := g.search(ctx, searchRequest{BBox: probeBBox, Limit: 1})
	return err
}

// Search implements output.SessionGateway.
func (g *Gateway) Search(ctx context.Context, q output.SearchQuery) ([]output.SearchItem, error) {
	req := searchRequest{Collections: q.Collections, Limit: q.Limit}
	if req.Limit <= 0 {
		req.Limit = 1000
	}
	switch {
	case q.Polygon != nil:
		coords := make([][]float64, 0, len(q.Polygon.Vertices)+1)
		for _, v := range q.Polygon.Vertices {
			coords = append(coords, []float64{v.X, v.Y})
		}
		// GeoJSON rings are explicitly closed.
		coords = append(coords, []float64{q.Polygon.Vertices[0].X, q.Polygon.Vertices[0].Y})
		req.Filter = &searchFilter{
			Op: "intersects",
			Args: []any{
				map[string]string{"property": "geometry"},
				geoJSONGeometry{Type: "Polygon", Coordinates: [][][]float64{coords}},
			},
		}
	case q.BBox != nil:
		req.BBox = []float64{q.BBox.MinX, q.BBox.MinY, q.BBox.MaxX, q.BBox.MaxY}
	default:
		return nil, &domain.GeometryError{Op: "intersect", Message: "search query has no region"}
	}

	resp, err := g.search(ctx, req)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	items := make([]output.SearchItem, 0, len(resp.Features))
	for _, feat := range resp.Features {
		itemID := feat.ID
		for _, link := range feat.Links {
			if link.Rel == "self" && link.Href != "" {
				itemID = link.Href[strings.LastIndex(link.Href, "/")+1:]
				break
			}
		}
		var bbox domain.BoundingBox
		if len(feat.BBox) >= 4 {
			bbox = domain.NewBoundingBox(feat.BBox[0], feat.BBox[1], feat.BBox[2], feat.BBox[3])
		}
		for _, asset := range feat.Assets {
			if asset.Href == "" {
				continue
			}
			if _, dup := seen[asset.Href]; dup {
				continue
			}
			seen[asset.Href] = struct{}{}
			items = append(items, output.SearchItem{
				Collection: feat.Collection,
				ItemID:     itemID,
				AssetURL:   asset.Href,
				MIMEType:   asset.Type,
				BBox:       bbox,
			})
		}
	}
	return items, nil
}

func (g *Gateway) search(ctx context.Context, body searchRequest) (*searchResponse, error) {
	if err := g.throttle(ctx); err != nil {
		return nil, err
	}

	searchURL := strings.TrimSuffix(g.cfg.BaseURL, "/") + g.cfg.SearchPath
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	g.decorate(req)

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.IncPortalRequests("search", false)
		return nil, classifyTransport(searchURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(searchURL, resp.StatusCode); err != nil {
		g.metrics.IncPortalRequests("search", false)
		return nil, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		g.metrics.IncPortalRequests("search", false)
		return nil, &domain.RequestError{Kind: domain.RequestKindNetwork, URL: searchURL, Err: err}
	}
	g.metrics.IncPortalRequests("search", true)
	return &parsed, nil
}

// Fetch implements output.SessionGateway.
func (g *Gateway) Fetch(ctx context.Context, assetURL string) (io.ReadCloser, int64, error) {
	if err := g.throttle(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, 0, err
	}
	g.decorate(req)

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.IncPortalRequests("fetch", false)
		return nil, 0, classifyTransport(assetURL, err)
	}

	if err := classifyStatus(assetURL, resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		g.metrics.IncPortalRequests("fetch", false)
		return nil, 0, err
	}

	// The portal answers expired sessions on asset URLs with its login
	// page and status 200. Sniff HTML bodies before trusting them.
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "text/html") {
		head := make([]byte, 4096)
		n, _ := io.ReadFull(resp.Body, head)
		_ = resp.Body.Close()
		g.metrics.IncPortalRequests("fetch", false)
		lower := strings.ToLower(string(head[:n]))
		if strings.Contains(lower, "login") || strings.Contains(lower, "auth") {
			return nil, 0, fmt.Errorf("fetching %s: %w", assetURL, domain.ErrAuthExpired)
		}
		return nil, 0, &domain.RequestError{
			Kind: domain.RequestKindServer,
			URL:  assetURL,
			Err:  errors.New("unexpected HTML response"),
		}
	}

	g.metrics.IncPortalRequests("fetch", true)
	return resp.Body, resp.ContentLength, nil
}

// decorate attaches the session cookies and standing headers.
func (g *Gateway) decorate(req *http.Request) {
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	for name, value := range g.session.Headers {
		req.Header.Set(name, value)
	}
	if cookie := g.session.CookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

// classifyTransport maps a transport-level failure into the domain
// taxonomy: timeouts and plain network errors are transient; a canceled
// context passes through untouched so cancellation is not retried.
func classifyTransport(reqURL string, err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &domain.RequestError{Kind: domain.RequestKindTimeout, URL: reqURL, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.RequestError{Kind: domain.RequestKindTimeout, URL: reqURL, Err: err}
	}
	return &domain.RequestError{Kind: domain.RequestKindNetwork, URL: reqURL, Err: err}
}

// classifyStatus maps an HTTP status into the domain taxonomy. 401/403 mean
// the session is gone, which is fatal for the whole run.
func classifyStatus(reqURL string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("status %d for %s: %w", status, reqURL, domain.ErrAuthExpired)
	default:
		return &domain.RequestError{Kind: domain.RequestKindServer, Status: status, URL: reqURL}
	}
}
