// Package server wires the voice usage API together.
//
// New builds every component from the configuration: the ledger backend
// and usage ledger, the admission gate, the transcription client, the
// authenticators and the HTTP handlers. Run serves them until its context
// is cancelled and then drains in-flight requests.
//
// Routes:
//
//   - GET  /api/ai-usage    the caller's usage snapshot (authenticated)
//   - POST /api/transcribe  admission, transcription and debit (authenticated, rate limited)
//   - GET  /health, /ready  liveness and readiness probes (paths configurable)
//   - GET  /version         build information
//   - GET  /metrics         Prometheus scrape endpoint (path configurable)
//
// Basic usage:
//
//	srv, err := server.New(ctx, cfg, server.Options{Build: build})
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server
