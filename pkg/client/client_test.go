package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/voicequota/pkg/api/types"
)

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := New("localhost:8080", "t"); err == nil {
		t.Error("expected error for URL without scheme")
	}
}

func TestClient_Usage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != UsagePath || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(types.UsageResponse{
			Usage:    types.UsageStats{Minutes: 18, Requests: 4, PercentUsed: 60},
			Limits:   types.LimitStatus{MaxMinutes: 30, RemainingMinutes: 12, Allowed: true},
			ResetsAt: 1767225600000,
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", "tok")
	if err != nil {
		t.Fatal(err)
	}
	u, err := c.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if u.Limits.RemainingMinutes != 12 || u.Usage.Requests != 4 || u.ResetsAt != 1767225600000 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("bad multipart body: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("expected language en, got %q", got)
		}
		if got := r.FormValue("duration"); got != "4.50" {
			t.Errorf("expected duration 4.50, got %q", got)
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("missing audio part: %v", err)
		}
		f.Close()
		json.NewEncoder(w).Encode(types.TranscribeResponse{Text: "buy milk", Language: "en", OverQuota: true})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "tok")
	resp, err := c.Transcribe(context.Background(), []byte("RIFF...."), "en", 4500*time.Millisecond)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if resp.Text != "buy milk" || !resp.OverQuota {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "quota denial",
			status:   http.StatusTooManyRequests,
			body:     `{"error":"voice quota exhausted","code":"quota_exceeded","decision":{"allowed":false,"remainingSeconds":0,"reason":"window_exhausted","windowResetAt":1767225600000}}`,
			wantCode: "quota_exceeded",
			wantMsg:  "voice quota exhausted",
		},
		{
			name:    "plain text body",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantMsg: "upstream down",
		},
		{
			name:    "empty body",
			status:  http.StatusUnauthorized,
			wantMsg: "Unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "42")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := New(srv.URL, "tok")
			_, err := c.Usage(context.Background())

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("unexpected error %+v", apiErr)
			}
			if apiErr.RetryAfter != 42*time.Second {
				t.Errorf("expected Retry-After 42s, got %s", apiErr.RetryAfter)
			}
			if tt.status == http.StatusTooManyRequests && (apiErr.Decision == nil || apiErr.Decision.Reason != "window_exhausted") {
				t.Errorf("expected decision payload, got %+v", apiErr.Decision)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url, "tok")
	if _, err := c.Usage(context.Background()); err == nil {
		t.Fatal("expected error from closed server")
	}
}
