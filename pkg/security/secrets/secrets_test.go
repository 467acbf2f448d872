package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/voicequota/pkg/config"
)

func writeSecret(t *testing.T, dir, name, value string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("VQTEST_SECRET_STT_API_KEY", "sk-from-env")
	p := NewEnvProvider("VQTEST_SECRET_")

	got, err := p.GetSecret(context.Background(), "stt-api-key")
	if err != nil || got != "sk-from-env" {
		t.Errorf("GetSecret() = %q, %v", got, err)
	}

	_, err = p.GetSecret(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "jwt-secret", "  0123456789abcdef0123456789abcdef\n", 0o600)
	writeSecret(t, dir, "loose", "value", 0o644)

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "jwt-secret", want: "0123456789abcdef0123456789abcdef"},
		{name: "loose", wantErr: true},
		{name: "missing", wantErr: true},
		{name: "../etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(context.Background(), tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetSecret(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetSecret(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestFileProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "stt-api-key", "old", 0o600)

	changed := make(chan struct{}, 1)
	p, err := NewFileProvider(dir, true, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if v, _ := p.GetSecret(context.Background(), "stt-api-key"); v != "old" {
		t.Fatalf("expected old value, got %q", v)
	}

	writeSecret(t, dir, "stt-api-key", "new", 0o600)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
	if v, _ := p.GetSecret(context.Background(), "stt-api-key"); v != "new" {
		t.Errorf("expected new value after change, got %q", v)
	}
}

func TestCache_TTL(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected cached value, got %q %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to expire at TTL")
	}

	disabled := NewCache(0)
	disabled.Set("k", "v")
	if disabled.Size() != 0 {
		t.Error("zero TTL cache should store nothing")
	}
}

// countingProvider counts lookups.
type countingProvider struct {
	values map[string]string
	err    error
	calls  int
}

func (p *countingProvider) GetSecret(_ context.Context, name string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	if v, ok := p.values[name]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func (p *countingProvider) Name() string { return "counting" }

func TestManager_OrderAndCache(t *testing.T) {
	first := &countingProvider{values: map[string]string{"a": "from-first"}}
	second := &countingProvider{values: map[string]string{"a": "from-second", "b": "only-second"}}
	m := NewManager(NewCache(time.Minute), first, second)

	if v, _ := m.GetSecret(context.Background(), "a"); v != "from-first" {
		t.Errorf("expected first provider to win, got %q", v)
	}
	if v, _ := m.GetSecret(context.Background(), "b"); v != "only-second" {
		t.Errorf("expected fallback to second provider, got %q", v)
	}

	m.GetSecret(context.Background(), "a")
	if first.calls != 2 {
		t.Errorf("expected cached lookup, first provider called %d times", first.calls)
	}

	m.Refresh()
	m.GetSecret(context.Background(), "a")
	if first.calls != 3 {
		t.Errorf("expected lookup after refresh, first provider called %d times", first.calls)
	}
}

func TestManager_ProviderFailure(t *testing.T) {
	broken := &countingProvider{err: errors.New("permission denied")}
	m := NewManager(nil, broken)

	_, err := m.GetSecret(context.Background(), "x")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected provider failure, got %v", err)
	}
}

func TestManager_ResolveReferences(t *testing.T) {
	m := NewManager(nil, &countingProvider{values: map[string]string{"host": "db.internal"}})

	got, err := m.ResolveReferences(context.Background(), "postgres://${secret:host}:5432/usage")
	if err != nil || got != "postgres://db.internal:5432/usage" {
		t.Errorf("ResolveReferences() = %q, %v", got, err)
	}

	got, err = m.ResolveReferences(context.Background(), "${secret:missing}")
	if err == nil || got != "${secret:missing}" {
		t.Errorf("expected unresolved reference kept with error, got %q, %v", got, err)
	}
}

func TestManager_ResolveConfig(t *testing.T) {
	m := NewManager(nil, &countingProvider{values: map[string]string{
		"stt-api-key": "sk-resolved",
		"alice-key":   "alice-resolved",
	}})

	cfg := config.Default()
	cfg.Transcription.APIKey = "${secret:stt-api-key}"
	cfg.Security.Authentication.Keys = []config.APIKeyConfig{
		{Key: "${secret:alice-key}", UserID: "alice"},
		{Key: "literal", UserID: "bob"},
	}
	cfg.Security.Authentication.JWT.Secret = "${secret:jwt-missing}"

	err := m.ResolveConfig(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "security.authentication.jwt.secret") {
		t.Errorf("expected error naming the jwt field, got %v", err)
	}
	if cfg.Transcription.APIKey != "sk-resolved" {
		t.Errorf("api key not resolved: %q", cfg.Transcription.APIKey)
	}
	if cfg.Security.Authentication.Keys[0].Key != "alice-resolved" || cfg.Security.Authentication.Keys[1].Key != "literal" {
		t.Errorf("unexpected keys %+v", cfg.Security.Authentication.Keys)
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "shared", "from-file", 0o600)
	t.Setenv("VQTEST_SECRET_SHARED", "from-env")
	t.Setenv("VQTEST_SECRET_ENV_ONLY", "env-only")

	m, err := FromConfig(config.SecretsConfig{EnvPrefix: "VQTEST_SECRET_", Dir: dir, CacheTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if v, _ := m.GetSecret(context.Background(), "shared"); v != "from-file" {
		t.Errorf("expected file provider first, got %q", v)
	}
	if v, _ := m.GetSecret(context.Background(), "env-only"); v != "env-only" {
		t.Errorf("expected env fallback, got %q", v)
	}
}
