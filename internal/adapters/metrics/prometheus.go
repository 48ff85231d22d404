// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	tileOutcomes        *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	bytesFetched        *prometheus.CounterVec
	portalRequests      *prometheus.CounterVec
	runActive           prometheus.Gauge
	runsTotal           *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "cddfetch"
	}

	return &Collector{
		tileOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_outcomes_total",
				Help:      "Total number of finished tile tasks",
			},
			[]string{"collection", "outcome"},
		),

		fetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Tile fetch attempt duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"collection"},
		),

		bytesFetched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_fetched_total",
				Help:      "Total bytes downloaded",
			},
			[]string{"collection"},
		),

		portalRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "portal_requests_total",
				Help:      "Total number of portal requests",
			},
			[]string{"kind", "status"},
		),

		runActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_active",
				Help:      "Whether a download run is currently executing",
			},
		),

		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished runs",
			},
			[]string{"result"},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncTileOutcome increments the tile outcome counter.
func (c *Collector) IncTileOutcome(collection string, outcome domain.TaskOutcome) {
	c.tileOutcomes.WithLabelValues(collection, string(outcome)).Inc()
}

// ObserveFetchDuration records tile fetch duration.
func (c *Collector) ObserveFetchDuration(collection string, duration time.Duration) {
	c.fetchDuration.WithLabelValues(collection).Observe(duration.Seconds())
}

// AddBytesFetched accumulates downloaded bytes.
func (c *Collector) AddBytesFetched(collection string, n int64) {
	c.bytesFetched.WithLabelValues(collection).Add(float64(n))
}

// IncPortalRequests increments the portal request counter.
func (c *Collector) IncPortalRequests(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.portalRequests.WithLabelValues(kind, status).Inc()
}

// SetRunActive flags whether a run is executing.
func (c *Collector) SetRunActive(active bool) {
	if active {
		c.runActive.Set(1)
	} else {
		c.runActive.Set(0)
	}
}

// IncRuns increments the finished run counter.
func (c *Collector) IncRuns(result string) {
	c.runsTotal.WithLabelValues(result).Inc()
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := normalizePath(r.URL.Path)
		status := statusToString(wrapped.statusCode)

		c.IncHTTPRequests(r.Method, path, status)
		c.ObserveHTTPDuration(r.Method, path, duration)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath trims run IDs and other dynamic segments to keep metric
// cardinality bounded.
func normalizePath(path string) string {
	switch {
	case len(path) > 20:
		return path[:20] + "..."
	default:
		return path
	}
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
