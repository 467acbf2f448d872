/*
Package auth resolves the caller of an API request to a user ID.

Two credential kinds are accepted: static API keys from configuration and
HS256-signed session tokens issued by the web application. Both are looked
up from the same request sources, and the resulting Identity is stored in
the request context.

# Basic Usage

	keys := auth.NewAPIKeyValidator([]*auth.APIKeyInfo{
		{Key: "vq-test-1234567890abcdef", UserID: "user-123", Enabled: true},
	})
	tokens, err := auth.NewJWTValidator(auth.JWTConfig{Secret: secret})
	if err != nil {
		return err
	}

	mw := auth.NewMiddleware(auth.DefaultSources, keys, tokens)
	http.Handle("/api/", mw.Handle(yourHandler))

Inside a handler:

	userID := auth.UserID(r.Context())

# Credential Sources

 1. Authorization header with Bearer scheme
 2. X-API-Key header
 3. "session" cookie

The first non-empty source is used. Unauthenticated requests receive 401
with body {"error": "...", "code": "unauthenticated"}.

# Security Considerations

Credential values are never logged, only user IDs. API keys are compared in
constant time. Tokens must be signed with HS256; other algorithms, including
"none", are rejected.
*/
package auth
