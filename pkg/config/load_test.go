package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:8080"
  read_timeout: "45s"

quota:
  max_seconds_per_window: 600
  window_duration: "1h"
  supported_languages: ["en", "de"]

storage:
  backend: "sqlite"
  sqlite:
    path: "./usage.db"

transcription:
  base_url: "http://localhost:9000/v1"
  api_key: "sk-test"

rate_limit:
  enabled: false

security:
  authentication:
    keys:
      - key: "key-alice"
        user_id: "alice"
      - key: "key-bob"
        user_id: "bob"
        enabled: false

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:8080" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:8080", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("expected read timeout 45s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Quota.MaxSecondsPerWindow != 600 || cfg.Quota.WindowDuration != time.Hour {
		t.Errorf("unexpected quota %+v", cfg.Quota)
	}
	if cfg.Quota.MaxSingleRequestSeconds != DefaultMaxSingleRequestSeconds {
		t.Errorf("expected default single request cap, got %d", cfg.Quota.MaxSingleRequestSeconds)
	}
	if len(cfg.Quota.SupportedLanguages) != 2 {
		t.Errorf("expected 2 languages, got %v", cfg.Quota.SupportedLanguages)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLite.Driver != "sqlite" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.RateLimit.Enabled {
		t.Error("explicit rate_limit.enabled=false was overridden")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("metrics should stay enabled when not mentioned")
	}

	keys := cfg.Security.Authentication.Keys
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if !keys[0].IsEnabled() {
		t.Error("key without enabled field should be enabled")
	}
	if keys[1].IsEnabled() {
		t.Error("key with enabled: false should be disabled")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: [unclosed\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
quota:
  max_seconds_per_window: -5
storage:
  backend: "etcd"
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
transcription:
  api_key: "from-file"
`)

	t.Setenv("VOICEQUOTA_LISTEN_ADDRESS", "0.0.0.0:9999")
	t.Setenv("VOICEQUOTA_STT_API_KEY", "from-env")
	t.Setenv("VOICEQUOTA_STT_TIMEOUT", "12s")
	t.Setenv("VOICEQUOTA_MAX_SECONDS_PER_WINDOW", "900")
	t.Setenv("VOICEQUOTA_RATE_LIMIT_ENABLED", "false")
	t.Setenv("VOICEQUOTA_JWT_SECRET", strings.Repeat("s", 32))

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Transcription.APIKey != "from-env" {
		t.Errorf("expected env api key, got %q", cfg.Transcription.APIKey)
	}
	if cfg.Transcription.Timeout != 12*time.Second {
		t.Errorf("expected 12s timeout, got %v", cfg.Transcription.Timeout)
	}
	if cfg.Quota.MaxSecondsPerWindow != 900 {
		t.Errorf("expected 900 seconds, got %d", cfg.Quota.MaxSecondsPerWindow)
	}
	if cfg.RateLimit.Enabled {
		t.Error("expected rate limit disabled by env")
	}
	if len(cfg.Security.Authentication.JWT.Secret) != 32 {
		t.Error("expected JWT secret from env")
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	path := writeConfig(t, "transcription:\n  timeout: 20s\n")

	t.Setenv("VOICEQUOTA_STT_TIMEOUT", "soon")
	t.Setenv("VOICEQUOTA_RATE_LIMIT_PER_MINUTE", "lots")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Transcription.Timeout != 20*time.Second {
		t.Errorf("expected file timeout kept, got %v", cfg.Transcription.Timeout)
	}
	if cfg.RateLimit.RequestsPerMinute != DefaultRequestsPerMinute {
		t.Errorf("expected default rate kept, got %d", cfg.RateLimit.RequestsPerMinute)
	}
}

func TestLoadConfigWithEnvOverrides_DotEnv(t *testing.T) {
	path := writeConfig(t, "")
	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(dotenv, []byte("VOICEQUOTA_TOKEN=from-dotenv\nVOICEQUOTA_LANGUAGE=de\n"), 0600); err != nil {
		t.Fatal(err)
	}

	// Variables already present in the environment win over .env.
	t.Setenv("VOICEQUOTA_LANGUAGE", "fr")
	t.Setenv("VOICEQUOTA_TOKEN", "")
	os.Unsetenv("VOICEQUOTA_TOKEN")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Client.Token != "from-dotenv" {
		t.Errorf("expected token from .env, got %q", cfg.Client.Token)
	}
	if cfg.Client.Language != "fr" {
		t.Errorf("expected environment to win, got %q", cfg.Client.Language)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("VOICEQUOTA_SERVER_URL", "https://voice.example.com")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Client.ServerURL != "https://voice.example.com" {
		t.Errorf("expected env server URL, got %q", cfg.Client.ServerURL)
	}
	if cfg.Quota.MaxSecondsPerWindow != DefaultMaxSecondsPerWindow {
		t.Errorf("expected default quota, got %d", cfg.Quota.MaxSecondsPerWindow)
	}
}

func TestLoadConfigWithEnvOverrides_InFlightCaps(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.RateLimit.MaxConcurrent != DefaultMaxConcurrent || cfg.RateLimit.MaxConcurrentPerUser != DefaultMaxConcurrentUser {
		t.Errorf("expected default caps, got %d/%d", cfg.RateLimit.MaxConcurrent, cfg.RateLimit.MaxConcurrentPerUser)
	}

	t.Setenv("VOICEQUOTA_MAX_CONCURRENT", "8")
	t.Setenv("VOICEQUOTA_MAX_CONCURRENT_PER_USER", "-1")

	cfg, err = LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.RateLimit.MaxConcurrent != 8 {
		t.Errorf("expected global cap 8, got %d", cfg.RateLimit.MaxConcurrent)
	}
	// Negative disables the per-user cap.
	if cfg.RateLimit.MaxConcurrentPerUser != -1 {
		t.Errorf("expected per-user cap disabled, got %d", cfg.RateLimit.MaxConcurrentPerUser)
	}
}
