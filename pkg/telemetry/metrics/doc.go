// Package metrics exposes the server's Prometheus registry.
//
// The Collector records HTTP request counts and latencies by route and
// serves the scrape endpoint. Quota and transcription metrics are defined
// next to the code that records them and register on Collector.Registry().
//
// Exported series:
//
//   - voicequota_http_requests_total{method,route,status}
//   - voicequota_http_request_duration_seconds{method,route}
//   - voicequota_http_requests_in_flight
//   - voicequota_build_info{version,commit}
//
// Usage:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	ledgerMetrics := limits.NewMetrics(collector.Registry())
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
