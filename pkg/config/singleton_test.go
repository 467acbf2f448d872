package config

import (
	"os"
	"sync"
	"testing"
	"time"
)

func resetGlobal() {
	globalConfig = nil
	configPath = ""
	initOnce = *new(sync.Once)
}

func TestInitialize(t *testing.T) {
	resetGlobal()
	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:8181\"\n")

	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Server.ListenAddress != "127.0.0.1:8181" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:8181", cfg.Server.ListenAddress)
	}
	if Path() != path {
		t.Errorf("expected path %q, got %q", path, Path())
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	resetGlobal()
	first := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1111\"\n")
	second := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:2222\"\n")

	if err := Initialize(first); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(second); err != nil {
		t.Fatal(err)
	}

	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:1111" {
		t.Errorf("second Initialize should be ignored, got %q", got)
	}
}

func TestGetConfig_BeforeInitialize(t *testing.T) {
	resetGlobal()
	if GetConfig() != nil {
		t.Error("expected nil config before initialization")
	}
}

func TestReloadConfig_KeepsQuotaAndStorage(t *testing.T) {
	resetGlobal()
	path := writeConfig(t, `
quota:
  max_seconds_per_window: 600
security:
  authentication:
    keys:
      - key: "k1"
        user_id: "alice"
telemetry:
  logging:
    level: "info"
`)
	if err := Initialize(path); err != nil {
		t.Fatal(err)
	}

	updated := `
quota:
  max_seconds_per_window: 60
storage:
  backend: "sqlite"
security:
  authentication:
    keys:
      - key: "k1"
        user_id: "alice"
      - key: "k2"
        user_id: "bob"
telemetry:
  logging:
    level: "debug"
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	prev, next, err := ReloadConfig(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if prev.Telemetry.Logging.Level != "info" {
		t.Errorf("expected previous level info, got %q", prev.Telemetry.Logging.Level)
	}
	if next.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected new level debug, got %q", next.Telemetry.Logging.Level)
	}
	if len(next.Security.Authentication.Keys) != 2 {
		t.Errorf("expected 2 keys after reload, got %d", len(next.Security.Authentication.Keys))
	}
	if next.Quota.MaxSecondsPerWindow != 600 {
		t.Errorf("quota must not change on reload, got %d", next.Quota.MaxSecondsPerWindow)
	}
	if next.Storage.Backend != "memory" {
		t.Errorf("storage must not change on reload, got %q", next.Storage.Backend)
	}
	if GetConfig() != next {
		t.Error("global config should be the reloaded instance")
	}
}

func TestReloadConfig_ValidationFailure(t *testing.T) {
	resetGlobal()
	path := writeConfig(t, "telemetry:\n  logging:\n    level: info\n")
	if err := Initialize(path); err != nil {
		t.Fatal(err)
	}
	before := GetConfig()

	if err := os.WriteFile(path, []byte("telemetry:\n  logging:\n    level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := ReloadConfig(path); err == nil {
		t.Fatal("expected reload to fail")
	}
	if GetConfig() != before {
		t.Error("failed reload must keep the existing config")
	}
}

func TestMustGetConfig(t *testing.T) {
	resetGlobal()
	defer func() {
		if recover() == nil {
			t.Error("expected panic before initialization")
		}
	}()
	MustGetConfig()
}

func TestSetConfig(t *testing.T) {
	resetGlobal()
	cfg := NewTestConfig().WithQuota(60, time.Hour, 30).Build()
	SetConfig(cfg)

	if MustGetConfig() != cfg {
		t.Error("expected SetConfig instance")
	}
}
