package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	t.Run("adds CORS headers for allowed origin", func(t *testing.T) {
		config := &CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"https://tasks.example.com"},
			AllowedMethods: []string{"GET", "POST"},
			ExposedHeaders: []string{"X-Quota-Reset"},
		}

		wrapped := CORSMiddleware(config)(handler)

		req := httptest.NewRequest(http.MethodGet, "/api/ai-usage", nil)
		req.Header.Set("Origin", "https://tasks.example.com")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://tasks.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := w.Header().Get("Access-Control-Expose-Headers"); got == "" {
			t.Error("Expected exposed headers to be set")
		}
	})

	t.Run("rejects unknown origin", func(t *testing.T) {
		config := &CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"https://tasks.example.com"},
		}

		wrapped := CORSMiddleware(config)(handler)

		req := httptest.NewRequest(http.MethodGet, "/api/ai-usage", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Expected no CORS header, got %q", got)
		}
	})

	t.Run("answers preflight", func(t *testing.T) {
		wrapped := CORSMiddleware(DefaultCORSConfig())(handler)

		req := httptest.NewRequest(http.MethodOptions, "/api/transcribe", nil)
		req.Header.Set("Origin", "https://tasks.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent && w.Code != http.StatusOK {
			t.Errorf("Status = %d, want 204 or 200", w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Error("Expected allowed methods on preflight")
		}
		if w.Body.String() == "OK" {
			t.Error("Expected preflight not to reach the handler")
		}
	})

	t.Run("disabled passes through", func(t *testing.T) {
		wrapped := CORSMiddleware(&CORSConfig{Enabled: false})(handler)

		req := httptest.NewRequest(http.MethodGet, "/api/ai-usage", nil)
		req.Header.Set("Origin", "https://tasks.example.com")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Expected no CORS header, got %q", got)
		}
	})
}
