package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/voicequota/pkg/telemetry/logging"
)

// APIKeySource defines where to extract credentials from
type APIKeySource struct {
	Type   string // header, query, cookie
	Name   string // Header name, query param or cookie name
	Scheme string // "Bearer", etc. (optional)
}

// DefaultSources reads a bearer token, then X-API-Key, then the session cookie.
var DefaultSources = []APIKeySource{
	{Type: "header", Name: "Authorization", Scheme: "Bearer"},
	{Type: "header", Name: "X-API-Key"},
	{Type: "cookie", Name: "session"},
}

// Middleware is HTTP middleware that resolves the caller's identity
type Middleware struct {
	authenticators []Authenticator
	sources        []APIKeySource
}

// NewMiddleware creates a new authentication middleware. Authenticators are
// tried in order; the first to accept the credential wins.
func NewMiddleware(sources []APIKeySource, authenticators ...Authenticator) *Middleware {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &Middleware{
		authenticators: authenticators,
		sources:        sources,
	}
}

// Authenticate resolves the identity of r.
func (m *Middleware) Authenticate(r *http.Request) (*Identity, error) {
	credential := m.extractCredential(r)
	if credential == "" {
		return nil, ErrMissingCredentials
	}

	for _, a := range m.authenticators {
		if id, err := a.Authenticate(credential); err == nil {
			return id, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// Handle wraps an HTTP handler with authentication. Unauthenticated requests
// get 401 with a JSON error body.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Authenticate(r)
		if err != nil {
			slog.Warn("authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeUnauthorized(w, err)
			return
		}

		slog.Debug("request authenticated",
			"user", id.UserID,
			"method", id.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// extractCredential extracts the credential from the request using configured sources
func (m *Middleware) extractCredential(r *http.Request) string {
	for _, source := range m.sources {
		switch source.Type {
		case "header":
			value := r.Header.Get(source.Name)
			if value == "" {
				continue
			}
			if source.Scheme == "" {
				return value
			}
			prefix := source.Scheme + " "
			if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
				return strings.TrimSpace(value[len(prefix):])
			}

		case "query":
			if value := r.URL.Query().Get(source.Name); value != "" {
				return value
			}

		case "cookie":
			if c, err := r.Cookie(source.Name); err == nil && c.Value != "" {
				return c.Value
			}
		}
	}

	return ""
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="voicequota"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  "unauthenticated",
	})
}

// Context key for the identity
type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
// The user ID is also attached to the logging context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	if id != nil {
		ctx = logging.WithUser(ctx, id.UserID)
	}
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the identity from request context
func GetIdentity(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// UserID returns the authenticated user ID, or "" if unauthenticated.
func UserID(ctx context.Context) string {
	if id, ok := GetIdentity(ctx); ok {
		return id.UserID
	}
	return ""
}
