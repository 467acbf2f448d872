package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/voicequota/pkg/config"
)

func newTestLogger(t *testing.T, cfg config.LoggingConfig) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"json", config.LoggingConfig{Level: "info", Format: "json"}, false},
		{"text", config.LoggingConfig{Level: "debug", Format: "text"}, false},
		{"invalid level", config.LoggingConfig{Level: "loud", Format: "json"}, true},
		{"invalid format", config.LoggingConfig{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, config.LoggingConfig{Level: "warn", Format: "json"})

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}

	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn output, got %q", buf.String())
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})
	derived := l.With("component", "test")

	derived.Debug("before")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered, got %q", buf.String())
	}

	if err := l.SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	derived.Debug("after")
	if !strings.Contains(buf.String(), "after") {
		t.Errorf("derived logger should follow level change, got %q", buf.String())
	}
	if l.Level() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", l.Level())
	}

	if err := l.SetLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	l, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})

	ctx := WithUser(WithRequestID(context.Background(), "req-1"), "alice")
	l.InfoContext(ctx, "debited", "seconds", 8)

	m := decodeLine(t, buf)
	if m["request_id"] != "req-1" {
		t.Errorf("expected request_id req-1, got %v", m["request_id"])
	}
	if m["user"] != "alice" {
		t.Errorf("expected user alice, got %v", m["user"])
	}
	if m["seconds"] != float64(8) {
		t.Errorf("expected seconds 8, got %v", m["seconds"])
	}
}

func TestLogger_Redaction(t *testing.T) {
	l, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json", RedactPII: true})

	l.Info("transcription failed",
		"text", "my bank password is hunter2",
		"api_key", "sk-abcdefghijklmnop",
		"header", "Bearer eyJhbGciOi.eyJzdWIiOiJ.signature",
		"error", errors.New("upstream rejected key sk-1234567890abcdef"),
	)

	m := decodeLine(t, buf)
	if m["text"] != "[27 chars]" {
		t.Errorf("expected transcript length only, got %v", m["text"])
	}
	if m["api_key"] != "sk-a***" {
		t.Errorf("expected masked key, got %v", m["api_key"])
	}
	if m["header"] != "Bearer ***" {
		t.Errorf("expected masked bearer token, got %v", m["header"])
	}
	if s, _ := m["error"].(string); strings.Contains(s, "1234567890") {
		t.Errorf("error message leaked key: %q", s)
	}
}

func TestLogger_NoRedactionWhenDisabled(t *testing.T) {
	l, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})

	l.Info("transcribed", "text", "hello world")
	if m := decodeLine(t, buf); m["text"] != "hello world" {
		t.Errorf("expected raw text, got %v", m["text"])
	}
}

func TestLogger_TextFormat(t *testing.T) {
	l, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "text"})

	l.Info("started", "addr", ":8080")
	if !strings.Contains(buf.String(), "msg=started") || !strings.Contains(buf.String(), "addr=:8080") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicequota.log")
	l, err := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		File:   config.LogFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	l.Info("to file")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("unexpected file content %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
