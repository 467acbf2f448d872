package auth

import (
	"errors"
	"time"
)

// Authentication methods reported in Identity.Method.
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
)

var (
	// ErrMissingCredentials is returned when a request carries no credential.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidCredentials is returned when no authenticator accepts the credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Method string

	// ExpiresAt is the credential expiry, zero if it does not expire.
	ExpiresAt time.Time
}

// APIKeyInfo represents an API key with metadata
type APIKeyInfo struct {
	Key       string
	UserID    string
	Enabled   bool
	CreatedAt time.Time
}

// Authenticator resolves a credential to an identity.
type Authenticator interface {
	Authenticate(credential string) (*Identity, error)
}
