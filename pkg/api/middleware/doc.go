// Package middleware provides HTTP middleware for cross-cutting concerns.
//
// # Middleware Chain
//
// The server chains middleware in this order (outermost first):
//
//	Recovery -> RequestID -> Logging -> CORS -> Timeout -> auth -> RateLimiter -> handler
//
// RateLimiter sits behind authentication so it can key on the user ID.
//
// # Middleware Types
//
// Request tracking:
//   - RequestIDMiddleware: UUID request ID in context and X-Request-ID header
//   - LoggingMiddleware: structured request log and per-request metrics
//
// Security and resilience:
//   - CORSMiddleware: CORS headers for the browser client
//   - RecoveryMiddleware: recover from panics, return 500
//   - TimeoutMiddleware: per-request deadline on the context
//   - RateLimiter: per-user request frequency limit, 429 when exceeded
//
// # Context Values
//
//	requestID := middleware.GetRequestID(r.Context())
//	startTime := middleware.GetStartTime(r.Context())
package middleware
