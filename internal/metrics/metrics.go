// Package metrics provides Prometheus metrics for the funAI server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funai_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Ingestion metrics
	ingestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_ingestions_total",
			Help: "Total package ingestions by mode and result",
		},
		[]string{"mode", "result"},
	)

	ingestionStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_ingestion_stage_failures_total",
			Help: "Ingestion failures by pipeline stage",
		},
		[]string{"stage"},
	)

	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funai_build_duration_seconds",
			Help:    "Wall-clock duration of package builds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	// Reconciler metrics
	reconcileRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "funai_reconcile_runs_total",
			Help: "Total folder reconciliation runs",
		},
	)

	reconcileChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_reconcile_changes_total",
			Help: "Catalog changes made by the folder reconciler",
		},
		[]string{"action"},
	)

	// Content metrics
	contentServesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_content_serves_total",
			Help: "Entry documents served by mode and status",
		},
		[]string{"mode", "status"},
	)

	contentCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "funai_content_cache_hits_total",
			Help: "Rewritten entry documents served from cache",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funai_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "funai_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "funai_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// Artifact backend metrics
	artifactOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funai_artifact_operation_duration_seconds",
			Help:    "Artifact backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	artifactOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funai_artifact_operations_total",
			Help: "Total artifact backend operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordIngestion records the outcome of one ingestion attempt.
// On failure, stage names the pipeline stage that stopped it.
func RecordIngestion(mode, stage string, success bool) {
	ingestionsTotal.WithLabelValues(mode, status(success)).Inc()
	if !success && stage != "" {
		ingestionStageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordBuild records a build duration.
func RecordBuild(duration time.Duration, success bool) {
	buildDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// RecordReconcile records one reconciler run and its changes.
func RecordReconcile(created, updated, failed int) {
	reconcileRunsTotal.Inc()
	reconcileChangesTotal.WithLabelValues("created").Add(float64(created))
	reconcileChangesTotal.WithLabelValues("updated").Add(float64(updated))
	reconcileChangesTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordContentServe records an entry document render.
func RecordContentServe(mode string, success bool) {
	contentServesTotal.WithLabelValues(mode, status(success)).Inc()
}

// RecordContentCacheHit records a cached entry document render.
func RecordContentCacheHit() {
	contentCacheHits.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordArtifactOperation records an artifact backend operation.
func RecordArtifactOperation(backend, operation string, duration time.Duration, success bool) {
	artifactOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	artifactOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// The path label is the matched route pattern so package keys and IDs do not
// explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
