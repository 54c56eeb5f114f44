// Package observability provides structured logging, Prometheus metrics, health checks,
// OpenTelemetry export and graceful shutdown for the portal.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("client_id", id).Warn("token refresh failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
//
// # Health Checks
//
// Critical dependencies fail readiness; observed ones only degrade it.
//
//	checker := observability.NewHealthChecker(version).
//		Require("redis", observability.RedisProbe(redisClient)).
//		Observe("identity", observability.HTTPProbe(nil, identityURL))
//	observability.RegisterHealthRoutes(router, checker)
package observability
