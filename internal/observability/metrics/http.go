package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchRequestsTotal *prometheus.CounterVec
	searchDegradedTotal *prometheus.CounterVec
	searchResultCount   *prometheus.HistogramVec
	searchDuration      *prometheus.HistogramVec

	classifyOutcomeTotal *prometheus.CounterVec
	reviewResolvedTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxcore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taxcore",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total completed search requests.",
		},
		[]string{"service", "scope_mode"},
	)
	searchDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Total search requests served with a failed retrieval path.",
		},
		[]string{"service", "path"},
	)
	searchResultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxcore",
			Subsystem: "search",
			Name:      "result_count",
			Help:      "Distribution of returned results per search request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxcore",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	classifyOutcomeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "classify",
			Name:      "outcome_total",
			Help:      "Total gate decisions by outcome and method.",
		},
		[]string{"service", "outcome", "method"},
	)
	reviewResolvedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "review",
			Name:      "resolved_total",
			Help:      "Total resolved review items by decision.",
		},
		[]string{"service", "decision"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchRequestsTotal,
		searchDegradedTotal,
		searchResultCount,
		searchDuration,
		classifyOutcomeTotal,
		reviewResolvedTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		searchRequestsTotal:  searchRequestsTotal,
		searchDegradedTotal:  searchDegradedTotal,
		searchResultCount:    searchResultCount,
		searchDuration:       searchDuration,
		classifyOutcomeTotal: classifyOutcomeTotal,
		reviewResolvedTotal:  reviewResolvedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses id-bearing routes so the path label stays
// low-cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/taxonomy/nodes/") && strings.HasSuffix(path, "/path"):
		return "/v1/taxonomy/nodes/{node_id}/path"
	case strings.HasPrefix(path, "/v1/taxonomy/nodes/"):
		return "/v1/taxonomy/nodes/{node_id}"
	case strings.HasPrefix(path, "/v1/review/items/") && strings.HasSuffix(path, "/resolve"):
		return "/v1/review/items/{item_id}/resolve"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordSearch(service, scopeMode string, resultCount int, degradedPaths []string, duration time.Duration) {
	if scopeMode == "" {
		scopeMode = "none"
	}
	m.searchRequestsTotal.WithLabelValues(service, scopeMode).Inc()
	m.searchResultCount.WithLabelValues(service).Observe(float64(resultCount))
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())
	for _, path := range degradedPaths {
		m.searchDegradedTotal.WithLabelValues(service, path).Inc()
	}
}

func (m *HTTPServerMetrics) RecordClassifyOutcome(service, outcome, method string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	m.classifyOutcomeTotal.WithLabelValues(service, outcome, method).Inc()
}

func (m *HTTPServerMetrics) RecordReviewResolved(service, decision string) {
	if decision == "" {
		decision = "unknown"
	}
	m.reviewResolvedTotal.WithLabelValues(service, decision).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
