package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTranscription(&cfg.Transcription)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateClient(&cfg.Client)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.idle_timeout", cfg.IdleTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
		{"server.request_timeout", cfg.RequestTimeout},
	} {
		if d.value < 0 {
			errs = append(errs, FieldError{Field: d.field, Message: "must not be negative"})
		}
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}

	return errs
}

func validateQuota(cfg *QuotaConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxSecondsPerWindow <= 0 {
		errs = append(errs, FieldError{
			Field:   "quota.max_seconds_per_window",
			Message: "must be positive",
		})
	}
	if cfg.WindowDuration <= 0 {
		errs = append(errs, FieldError{
			Field:   "quota.window_duration",
			Message: "must be positive",
		})
	}
	if cfg.MaxSingleRequestSeconds <= 0 {
		errs = append(errs, FieldError{
			Field:   "quota.max_single_request_seconds",
			Message: "must be positive",
		})
	}

	for i, lang := range cfg.SupportedLanguages {
		if lang == "" || lang != strings.ToLower(lang) || strings.ContainsAny(lang, "-_ ") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("quota.supported_languages[%d]", i),
				Message: fmt.Sprintf("invalid language code %q: use lowercase base codes like \"en\"", lang),
			})
		}
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "storage.postgres.dsn",
				Message: "dsn is required for the postgres backend",
			})
		}
	case "redis":
		if cfg.Redis.URL == "" {
			errs = append(errs, FieldError{
				Field:   "storage.redis.url",
				Message: "url is required for the redis backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', 'postgres', or 'redis'", cfg.Backend),
		})
	}

	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "storage.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.Retention.MaxAge < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention.max_age",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateTranscription(cfg *TranscriptionConfig) []FieldError {
	var errs []FieldError

	switch cfg.Provider {
	case "openai":
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "transcription.base_url",
				Message: fmt.Sprintf("invalid URL %q: must be an absolute http(s) URL", cfg.BaseURL),
			})
		}
	case "fake":
	default:
		errs = append(errs, FieldError{
			Field:   "transcription.provider",
			Message: fmt.Sprintf("invalid provider %q: must be 'openai' or 'fake'", cfg.Provider),
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "transcription.timeout",
			Message: "must be positive",
		})
	}
	if cfg.MaxUploadBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "transcription.max_upload_bytes",
			Message: "must be positive",
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	if cfg.RequestsPerMinute <= 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limit.requests_per_minute",
			Message: "must be positive when rate limiting is enabled",
		})
	}
	if cfg.Burst <= 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limit.burst",
			Message: "must be positive when rate limiting is enabled",
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.LivenessPath == cfg.Health.ReadinessPath {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.readiness_path",
			Message: "readiness path must differ from liveness path",
		})
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_file",
				Message: "TLS certificate file is required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.key_file",
				Message: "TLS key file is required when TLS is enabled",
			})
		}
	}
	if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
		errs = append(errs, FieldError{
			Field:   "security.tls.min_version",
			Message: fmt.Sprintf("invalid TLS version %q: must be '1.2' or '1.3'", cfg.TLS.MinVersion),
		})
	}

	auth := &cfg.Authentication
	validTypes := map[string]bool{"header": true, "query": true, "cookie": true}
	for i, src := range auth.Sources {
		prefix := fmt.Sprintf("security.authentication.sources[%d]", i)
		if !validTypes[src.Type] {
			errs = append(errs, FieldError{
				Field:   prefix + ".type",
				Message: fmt.Sprintf("invalid source type %q: must be 'header', 'query', or 'cookie'", src.Type),
			})
		}
		if src.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "name is required"})
		}
	}

	seen := make(map[string]bool)
	for i, key := range auth.Keys {
		prefix := fmt.Sprintf("security.authentication.keys[%d]", i)
		if key.Key == "" {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "key is required"})
		} else if seen[key.Key] {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "duplicate key"})
		}
		seen[key.Key] = true
		if key.UserID == "" {
			errs = append(errs, FieldError{Field: prefix + ".user_id", Message: "user_id is required"})
		}
	}

	if s := auth.JWT.Secret; s != "" && !IsSecretRef(s) && len(s) < 32 {
		errs = append(errs, FieldError{
			Field:   "security.authentication.jwt.secret",
			Message: "secret must be at least 32 bytes",
		})
	}

	return errs
}

func validateClient(cfg *ClientConfig) []FieldError {
	var errs []FieldError

	if u, err := url.Parse(cfg.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{
			Field:   "client.server_url",
			Message: fmt.Sprintf("invalid URL %q", cfg.ServerURL),
		})
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > 1 {
		errs = append(errs, FieldError{
			Field:   "client.silence_threshold",
			Message: "threshold must be between 0.0 and 1.0",
		})
	}
	if cfg.SilenceTimeout < 0 || cfg.MaxRecording < 0 || cfg.PollInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "client",
			Message: "durations must not be negative",
		})
	}

	return errs
}

// IsSecretRef reports whether s is a ${secret:name} reference.
func IsSecretRef(s string) bool {
	return strings.HasPrefix(s, "${secret:") && strings.HasSuffix(s, "}")
}
