package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures HS256 session token validation.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// JWTValidator authenticates HS256 session tokens. The user ID is taken from
// the "sub" claim, falling back to "user_id".
type JWTValidator struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTValidator creates a validator. The secret must be at least 32 bytes.
func NewJWTValidator(cfg JWTConfig) (*JWTValidator, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(cfg.Secret))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTValidator{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate implements Authenticator.
func (v *JWTValidator) Authenticate(credential string) (*Identity, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		return v.cfg.Secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	userID, _ := claims.GetSubject()
	if userID == "" {
		userID = getClaimString(claims, "user_id")
	}
	if userID == "" {
		return nil, errors.New("invalid token: no subject")
	}

	id := &Identity{UserID: userID, Method: MethodJWT}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Issue signs a session token for userID valid for ttl.
func (v *JWTValidator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}
