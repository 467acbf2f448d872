package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/voicequota/pkg/config"
)

var secretRefRegex = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager resolves secrets through its providers in order. The first
// provider with a value wins.
type Manager struct {
	providers []Provider
	cache     *Cache
	closers   []func() error
}

// NewManager creates a manager over providers.
func NewManager(cache *Cache, providers ...Provider) *Manager {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Manager{providers: providers, cache: cache}
}

// FromConfig builds the env provider and, when a directory is configured,
// the file provider in front of it.
func FromConfig(cfg config.SecretsConfig) (*Manager, error) {
	m := NewManager(NewCache(cfg.CacheTTL))

	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir, cfg.Watch, m.cache.Clear)
		if err != nil {
			return nil, err
		}
		m.providers = append(m.providers, fp)
		m.closers = append(m.closers, fp.Close)
	}
	m.providers = append(m.providers, NewEnvProvider(cfg.EnvPrefix))
	return m, nil
}

// GetSecret returns the value of name from the cache or the first provider
// that has it.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		return value, nil
	}

	var errs []error
	for _, p := range m.providers {
		value, err := p.GetSecret(ctx, name)
		if err == nil {
			m.cache.Set(name, value)
			slog.Debug("secret resolved", "provider", p.Name(), "name", redactSecretName(name))
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}

	if len(errs) > 0 {
		return "", fmt.Errorf("failed to get secret %q: %w", name, errors.Join(errs...))
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// ResolveReferences replaces every ${secret:name} in input. Unresolvable
// references are left in place and reported together.
func (m *Manager) ResolveReferences(ctx context.Context, input string) (string, error) {
	var errs []string

	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRefRegex.FindStringSubmatch(match)[1]
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err.Error())
			return match
		}
		return value
	})

	if len(errs) > 0 {
		return output, fmt.Errorf("failed to resolve secret references: %s", strings.Join(errs, "; "))
	}
	return output, nil
}

// ResolveConfig resolves references in the credential fields of cfg in place.
func (m *Manager) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"transcription.api_key", &cfg.Transcription.APIKey},
		{"storage.postgres.dsn", &cfg.Storage.Postgres.DSN},
		{"storage.redis.url", &cfg.Storage.Redis.URL},
		{"security.authentication.jwt.secret", &cfg.Security.Authentication.JWT.Secret},
	}
	for i := range cfg.Security.Authentication.Keys {
		fields = append(fields, struct {
			name  string
			value *string
		}{fmt.Sprintf("security.authentication.keys[%d].key", i), &cfg.Security.Authentication.Keys[i].Key})
	}

	var errs []error
	for _, f := range fields {
		if !strings.Contains(*f.value, "${secret:") {
			continue
		}
		resolved, err := m.ResolveReferences(ctx, *f.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.value = resolved
	}
	return errors.Join(errs...)
}

// Refresh drops every cached value so the next lookup reads the providers.
func (m *Manager) Refresh() {
	for _, p := range m.providers {
		if fp, ok := p.(*FileProvider); ok {
			fp.Refresh()
		}
	}
	m.cache.Clear()
}

// Close releases provider resources.
func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
