package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecoveryMiddleware(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		tests := []struct {
			name  string
			value interface{}
		}{
			{"string", "test panic"},
			{"error", errors.New("boom")},
			{"int", 42},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				wrapped := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					panic(tt.value)
				}))

				w := httptest.NewRecorder()
				wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/transcribe", nil))

				if w.Code != http.StatusInternalServerError {
					t.Errorf("Status code = %v, want %v", w.Code, http.StatusInternalServerError)
				}
				var body map[string]string
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("Failed to decode body: %v", err)
				}
				if body["code"] != "internal_error" || body["error"] == "" {
					t.Errorf("Unexpected body %v", body)
				}
			})
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		wrapped := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}))

		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ai-usage", nil))

		if w.Code != http.StatusOK || w.Body.String() != "OK" {
			t.Errorf("Unexpected response %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("re-panics on abort", func(t *testing.T) {
		wrapped := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		defer func() {
			if recover() != http.ErrAbortHandler {
				t.Error("Expected ErrAbortHandler to propagate")
			}
		}()
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
