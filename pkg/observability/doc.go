// Package observability provides logging, Prometheus metrics, health checks
// and OpenTelemetry tracing for the billing binaries.
//
// # Logging
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json"})
//	observability.FromContext(ctx).WithField("invoice_id", id).Info("Invoice sent")
//
// # Metrics
//
// Metrics implements billing.Recorder, so transitions and side-effect
// warnings are counted by passing it to billing.WithRecorder:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	svc := billing.NewService(store, billing.WithRecorder(metrics))
//
// # Health Checks
//
// The database is required for readiness. Redis and optional dependencies
// such as the invoice archive only degrade it:
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddOptional("archive", archive)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
package observability
