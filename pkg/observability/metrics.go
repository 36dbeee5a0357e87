package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authentication
	AuthAttemptsTotal *prometheus.CounterVec

	// Version pipeline
	VersionsCreatedTotal *prometheus.CounterVec
	VersionPublishTotal  *prometheus.CounterVec
	BundleSizeBytes      prometheus.Histogram

	// Blob storage
	BlobOperationsTotal   *prometheus.CounterVec
	BlobOperationDuration *prometheus.HistogramVec

	// Aggregates
	ReviewWritesTotal      *prometheus.CounterVec
	DownloadsRecordedTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Background work
	BackgroundTaskErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bazaar_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bazaar_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_auth_attempts_total",
				Help: "Authentication attempts by credential kind and result",
			},
			[]string{"method", "result"},
		),

		VersionsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_versions_created_total",
				Help: "Version creation attempts by result",
			},
			[]string{"result"},
		),
		VersionPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_version_publish_total",
				Help: "Version publish attempts by result",
			},
			[]string{"result"},
		),
		BundleSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bazaar_bundle_size_bytes",
				Help:    "Size of uploaded bundles in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		BlobOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_blob_operations_total",
				Help: "Total number of blob storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		BlobOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bazaar_blob_operation_duration_seconds",
				Help:    "Blob storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		ReviewWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_review_writes_total",
				Help: "Review inserts, updates and deletes",
			},
			[]string{"operation"},
		),
		DownloadsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_downloads_recorded_total",
				Help: "Download events by result",
			},
			[]string{"result"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		BackgroundTaskErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_background_task_errors_total",
				Help: "Failures of fire-and-forget background tasks",
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthAttemptsTotal,
		m.VersionsCreatedTotal,
		m.VersionPublishTotal,
		m.BundleSizeBytes,
		m.BlobOperationsTotal,
		m.BlobOperationDuration,
		m.ReviewWritesTotal,
		m.DownloadsRecordedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BackgroundTaskErrorsTotal,
	)

	return m
}

// ObserveBlobOperation records the outcome and latency of a blob storage call
func (m *Metrics) ObserveBlobOperation(operation, backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BlobOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.BlobOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Install it with router.Use so the matched route template is available
// as the route label.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
