package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/voicequota/pkg/api/types"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and returns a 500
// with the standard error body. The panic and stack are logged; nothing
// internal is sent to the client.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				types.WriteError(w, types.NewErrorResponse(http.StatusInternalServerError,
					types.CodeInternalError, "an internal error occurred, please try again later"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
