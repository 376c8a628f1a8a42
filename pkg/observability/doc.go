// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("account_id", accountID).Warn("tenant binding degraded")
//
// Request-scoped logging picks up request, user and tenant ids from the
// context:
//
//	observability.FromContext(ctx).Info("project created")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordTxFinished(observability.TxOutcomeCommit, time.Since(start))
//
// All Record* methods are no-ops on a nil *Metrics.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//	handler = observability.InstrumentHandler(handler, "setlist")
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.RegisterRoutes(router)
package observability
