// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown, and OpenTelemetry tracing for bazaar.
//
// Logging is JSON via log/slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("extension_id", id).Info("version published")
//
// Request-scoped loggers are carried on the context and decorated with the
// request id, authenticated subject and trace ids by FromContext.
//
// Metrics live on a dedicated registry and are served by MetricsHandler:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// The readiness probe pings each Dependency concurrently. Critical
// dependencies (the database) make it answer 503; others only degrade it.
package observability
