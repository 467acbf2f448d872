// Package tracing wires OpenTelemetry tracing for the server.
//
// Spans are exported over OTLP gRPC. W3C trace context is read from
// incoming requests and written by the CLI client, so a dictation can be
// followed from the terminal through admission, the speech-to-text call,
// and the ledger debit.
//
// Sampling is parent based, with one of three root strategies:
//
//   - always: sample every trace
//   - never: sample nothing
//   - ratio: sample a fraction of traces by trace ID
//
// Usage:
//
//	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	router.Use(tracing.HTTPMiddleware(routeName))
package tracing
