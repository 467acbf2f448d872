// Package telemetry groups the server's observability.
//
// # Components
//
//   - logging: slog with redaction, runtime level changes, file rotation
//   - metrics: the Prometheus registry and HTTP request metrics
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness endpoints
//
// Quota-specific metrics (admissions, debits, accounting loss) live with
// the ledger in package limits and register on the same registry.
//
// # Usage
//
//	logger, _ := logging.New(cfg.Telemetry.Logging, nil)
//	slog.SetDefault(logger.Logger)
//
//	tp, _ := tracing.New(ctx, &cfg.Telemetry.Tracing, version)
//	defer tp.Shutdown(context.Background())
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, reg)
//
// Dictated text is never logged; the logging redactor replaces it with its
// length.
package telemetry
