package server

import (
	"fmt"
	"time"

	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/security/auth"
)

func (s *Server) buildAuth() error {
	authCfg := s.cfg.Security.Authentication

	s.keys = auth.NewAPIKeyValidator(apiKeys(authCfg.Keys))
	authenticators := []auth.Authenticator{s.keys}

	if authCfg.JWT.Secret != "" {
		jwtValidator, err := auth.NewJWTValidator(auth.JWTConfig{
			Secret:   []byte(authCfg.JWT.Secret),
			Issuer:   authCfg.JWT.Issuer,
			Audience: authCfg.JWT.Audience,
			Leeway:   authCfg.JWT.Leeway,
		})
		if err != nil {
			return fmt.Errorf("failed to configure session tokens: %w", err)
		}
		authenticators = append(authenticators, jwtValidator)
	}

	if s.keys.Len() == 0 && len(authenticators) == 1 {
		s.logger.Warn("no API keys or session secret configured, every request will be rejected")
	}

	s.auth = auth.NewMiddleware(credentialSources(authCfg.Sources), authenticators...)
	return nil
}

func apiKeys(keys []config.APIKeyConfig) []*auth.APIKeyInfo {
	now := time.Now()
	infos := make([]*auth.APIKeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, &auth.APIKeyInfo{
			Key:       k.Key,
			UserID:    k.UserID,
			Enabled:   k.IsEnabled(),
			CreatedAt: now,
		})
	}
	return infos
}

func credentialSources(sources []config.CredentialSource) []auth.APIKeySource {
	out := make([]auth.APIKeySource, 0, len(sources))
	for _, src := range sources {
		out = append(out, auth.APIKeySource{Type: src.Type, Name: src.Name, Scheme: src.Scheme})
	}
	return out
}

// ApplyConfig takes the hot-reloadable parts of a new configuration. Only
// API keys are swapped; quota, storage and listener settings need a restart.
func (s *Server) ApplyConfig(next *config.Config) {
	keys := apiKeys(next.Security.Authentication.Keys)
	s.keys.Replace(keys)
	s.logger.Info("api keys reloaded", "keys", len(keys))
}
