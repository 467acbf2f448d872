package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts from Default and allows selective overrides.
type ConfigBuilder struct {
	cfg *Config
}

// NewTestConfig creates a builder whose configuration is valid as is.
func NewTestConfig() *ConfigBuilder {
	return &ConfigBuilder{cfg: Default()}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

func (b *ConfigBuilder) WithQuota(maxSeconds int64, window time.Duration, maxSingle int64) *ConfigBuilder {
	b.cfg.Quota.MaxSecondsPerWindow = maxSeconds
	b.cfg.Quota.WindowDuration = window
	b.cfg.Quota.MaxSingleRequestSeconds = maxSingle
	return b
}

func (b *ConfigBuilder) WithBackend(backend string) *ConfigBuilder {
	b.cfg.Storage.Backend = backend
	return b
}

func (b *ConfigBuilder) WithAPIKey(key, userID string) *ConfigBuilder {
	b.cfg.Security.Authentication.Keys = append(b.cfg.Security.Authentication.Keys,
		APIKeyConfig{Key: key, UserID: userID})
	return b
}

func (b *ConfigBuilder) WithLoggingLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

func (b *ConfigBuilder) WithTLS(certFile, keyFile string) *ConfigBuilder {
	b.cfg.Security.TLS.Enabled = true
	b.cfg.Security.TLS.CertFile = certFile
	b.cfg.Security.TLS.KeyFile = keyFile
	return b
}

// MinimalConfig returns a valid configuration for tests that don't care
// about most values.
func MinimalConfig() *Config {
	return NewTestConfig().Build()
}
