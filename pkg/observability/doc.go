// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks for the dealflow services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("organization_id", orgID).Info("subscription status changed")
//
// Request handlers should use FromContext so request and user IDs are attached:
//
//	observability.FromContext(r.Context(), logger).Warn("invitation email failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	healthMux.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Tracing
//
// InitTracing installs an OTLP/gRPC exporter; spans are opened with
// observability.Tracer("billing").Start(ctx, "billing.apply_event").
package observability
