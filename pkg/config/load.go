package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "VOICEQUOTA_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention VOICEQUOTA_FIELD (e.g., VOICEQUOTA_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load a .env file next to the config file, then one in the working directory
// 2. Load YAML from file (an empty path means defaults only)
// 3. Apply default values
// 4. Apply environment variable overrides
// 5. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = parseFile(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// loadDotEnv populates the process environment from .env files. Variables
// already set in the environment are never overwritten.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}

	seen := make(map[string]bool)
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", abs, err)
		}
	}
	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envString(name string, dst *string) {
	if val := getenv(name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := getenv(name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparseable values are ignored and the file value is kept.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	// Quota overrides
	envInt64("MAX_SECONDS_PER_WINDOW", &cfg.Quota.MaxSecondsPerWindow)
	envDuration("WINDOW_DURATION", &cfg.Quota.WindowDuration)
	envInt64("MAX_SINGLE_REQUEST_SECONDS", &cfg.Quota.MaxSingleRequestSeconds)

	// Storage overrides
	envString("STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	envString("REDIS_URL", &cfg.Storage.Redis.URL)

	// Transcription overrides
	envString("STT_PROVIDER", &cfg.Transcription.Provider)
	envString("STT_BASE_URL", &cfg.Transcription.BaseURL)
	envString("STT_API_KEY", &cfg.Transcription.APIKey)
	envString("STT_MODEL", &cfg.Transcription.Model)
	envDuration("STT_TIMEOUT", &cfg.Transcription.Timeout)
	envInt64("MAX_UPLOAD_BYTES", &cfg.Transcription.MaxUploadBytes)

	// Rate limit overrides
	envBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envInt("RATE_LIMIT_PER_MINUTE", &cfg.RateLimit.RequestsPerMinute)
	envInt("MAX_CONCURRENT", &cfg.RateLimit.MaxConcurrent)
	envInt("MAX_CONCURRENT_PER_USER", &cfg.RateLimit.MaxConcurrentPerUser)

	// Telemetry overrides
	envString("LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("LOG_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("LOG_FILE", &cfg.Telemetry.Logging.File.Path)
	envBool("METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := getenv("TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	// Security overrides
	envBool("TLS_ENABLED", &cfg.Security.TLS.Enabled)
	envString("TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
	envString("SECRETS_DIR", &cfg.Security.Secrets.Dir)
	envString("JWT_SECRET", &cfg.Security.Authentication.JWT.Secret)
	envString("JWT_ISSUER", &cfg.Security.Authentication.JWT.Issuer)

	// Client overrides
	envString("SERVER_URL", &cfg.Client.ServerURL)
	envString("TOKEN", &cfg.Client.Token)
	envString("LANGUAGE", &cfg.Client.Language)
}
