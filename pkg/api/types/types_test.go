package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/transcribe"
)

var testPolicy = limits.QuotaPolicy{
	MaxSecondsPerWindow:     1800,
	WindowDuration:          24 * time.Hour,
	MaxSingleRequestSeconds: 120,
}

func TestNewUsageResponse(t *testing.T) {
	end := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("partially used", func(t *testing.T) {
		resp := NewUsageResponse(limits.UsageRecord{ConsumedSeconds: 1080, RequestCount: 4, WindowEnd: end}, testPolicy)

		if resp.Usage.Minutes != 18 || resp.Usage.Requests != 4 || resp.Usage.PercentUsed != 60 {
			t.Errorf("Unexpected usage %+v", resp.Usage)
		}
		if resp.Limits.MaxMinutes != 30 || resp.Limits.RemainingMinutes != 12 || !resp.Limits.Allowed {
			t.Errorf("Unexpected limits %+v", resp.Limits)
		}
		if resp.Limits.Reason != "" {
			t.Errorf("Expected no reason, got %q", resp.Limits.Reason)
		}
		if resp.ResetsAt != end.UnixMilli() {
			t.Errorf("ResetsAt = %d, want %d", resp.ResetsAt, end.UnixMilli())
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		resp := NewUsageResponse(limits.UsageRecord{ConsumedSeconds: 1800, WindowEnd: end}, testPolicy)

		if resp.Limits.Allowed || resp.Limits.Reason != "window_exhausted" {
			t.Errorf("Unexpected limits %+v", resp.Limits)
		}
		if resp.Limits.RemainingMinutes != 0 {
			t.Errorf("RemainingMinutes = %v, want 0", resp.Limits.RemainingMinutes)
		}
	})
}

func TestUsageResponse_JSON(t *testing.T) {
	resp := NewUsageResponse(limits.UsageRecord{ConsumedSeconds: 90, RequestCount: 1}, testPolicy)
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var body struct {
		Usage    map[string]interface{} `json:"usage"`
		Limits   map[string]interface{} `json:"limits"`
		ResetsAt *int64                 `json:"resetsAt"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"minutes", "requests", "percentUsed"} {
		if _, ok := body.Usage[key]; !ok {
			t.Errorf("Missing usage.%s in %s", key, raw)
		}
	}
	for _, key := range []string{"maxMinutes", "remainingMinutes", "allowed"} {
		if _, ok := body.Limits[key]; !ok {
			t.Errorf("Missing limits.%s in %s", key, raw)
		}
	}
	if _, ok := body.Limits["reason"]; ok {
		t.Errorf("Expected reason to be omitted while allowed: %s", raw)
	}
	if body.ResetsAt == nil {
		t.Errorf("Missing resetsAt in %s", raw)
	}
}

func TestMinutes(t *testing.T) {
	tests := []struct {
		seconds int64
		want    float64
	}{
		{0, 0},
		{30, 0.5},
		{60, 1},
		{89, 1.5},
		{720, 12},
		{1800, 30},
	}
	for _, tt := range tests {
		if got := Minutes(tt.seconds); got != tt.want {
			t.Errorf("Minutes(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"request error", NewRequestError("language", "unsupported language %q", "xx"), 400, CodeInvalidRequest},
		{"empty audio", transcribe.ErrEmptyAudio, 400, CodeInvalidRequest},
		{"too large", &http.MaxBytesError{Limit: 10}, 413, CodeRequestTooLarge},
		{"storage", &limits.StorageError{Op: "snapshot", Err: errors.New("down")}, 503, CodeStorageUnavailable},
		{"wrapped storage", fmt.Errorf("snapshot: %w", limits.ErrStorageUnavailable), 503, CodeStorageUnavailable},
		{"provider failure", &transcribe.ServiceError{Provider: "p", StatusCode: 500}, 502, CodeTranscriptionFailed},
		{"provider timeout", &transcribe.ServiceError{Provider: "p", Err: context.DeadlineExceeded}, 504, CodeTranscriptionTimeout},
		{"unknown", errors.New("boom"), 500, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := FromError(tt.err)
			if resp.StatusCode() != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", resp.StatusCode(), tt.wantStatus)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Error == "" {
				t.Error("Expected a message")
			}
		})
	}
}

func TestNewAdmissionDenied(t *testing.T) {
	reset := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	resp := NewAdmissionDenied(limits.AdmissionDecision{
		RemainingSeconds: 10,
		Reason:           limits.ReasonWindowExhausted,
		WindowResetAt:    reset,
	})
	if resp.StatusCode() != http.StatusTooManyRequests || resp.Code != CodeQuotaExceeded {
		t.Errorf("Unexpected response %+v", resp)
	}
	if resp.Decision == nil || resp.Decision.RemainingSeconds != 10 || resp.Decision.WindowResetAt != reset.UnixMilli() {
		t.Errorf("Unexpected decision %+v", resp.Decision)
	}

	tooLong := NewAdmissionDenied(limits.AdmissionDecision{Reason: limits.ReasonRequestTooLong})
	if tooLong.Code != CodeRequestTooLong {
		t.Errorf("Code = %q, want %q", tooLong.Code, CodeRequestTooLong)
	}
}

func TestSetQuotaHeaders(t *testing.T) {
	end := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := httptest.NewRecorder()

	SetQuotaHeaders(w, limits.UsageRecord{ConsumedSeconds: 1795, WindowEnd: end}, testPolicy)

	if got := w.Header().Get(HeaderQuotaLimit); got != "1800" {
		t.Errorf("%s = %q", HeaderQuotaLimit, got)
	}
	if got := w.Header().Get(HeaderQuotaRemaining); got != "5" {
		t.Errorf("%s = %q", HeaderQuotaRemaining, got)
	}
	if got := w.Header().Get(HeaderQuotaReset); got != fmt.Sprint(end.Unix()) {
		t.Errorf("%s = %q", HeaderQuotaReset, got)
	}
}

func TestSetRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		until time.Time
		want  string
	}{
		{now.Add(90 * time.Second), "90"},
		{now.Add(1500 * time.Millisecond), "2"},
		{now.Add(-time.Minute), "1"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		SetRetryAfter(w, now, tt.until)
		if got := w.Header().Get("Retry-After"); got != tt.want {
			t.Errorf("Retry-After = %q, want %q", got, tt.want)
		}
	}
}
