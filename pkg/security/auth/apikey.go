package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"
)

// APIKeyValidator validates API keys against a configured set of keys
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]*APIKeyInfo
}

// NewAPIKeyValidator creates a new API key validator with the given keys
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	v := &APIKeyValidator{}
	v.Replace(keys)
	return v
}

// Validate checks if the given API key is valid and returns its info
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	info, ok := v.keys[sha256.Sum256([]byte(key))]
	if !ok || subtle.ConstantTimeCompare([]byte(info.Key), []byte(key)) != 1 {
		return nil, fmt.Errorf("invalid API key")
	}

	if !info.Enabled {
		return nil, fmt.Errorf("API key disabled")
	}

	return info, nil
}

// Authenticate implements Authenticator.
func (v *APIKeyValidator) Authenticate(credential string) (*Identity, error) {
	info, err := v.Validate(credential)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: info.UserID, Method: MethodAPIKey}, nil
}

// Replace swaps the whole key set. Used on config reload.
func (v *APIKeyValidator) Replace(keys []*APIKeyInfo) {
	keyMap := make(map[[sha256.Size]byte]*APIKeyInfo, len(keys))
	for _, key := range keys {
		keyMap[sha256.Sum256([]byte(key.Key))] = key
	}

	v.mu.Lock()
	v.keys = keyMap
	v.mu.Unlock()
}

// Len returns the number of configured keys.
func (v *APIKeyValidator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}
