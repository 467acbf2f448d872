package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/voicequota/pkg/config"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                true,
		Path:                   "/metrics",
		RequestDurationBuckets: []float64{0.1, 1, 10},
	}
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.RecordHTTPRequest("POST", "/api/transcribe", 200, 800*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/transcribe", 200, 1200*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/transcribe", 429, time.Millisecond)

	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("POST", "/api/transcribe", "200")); got != 2 {
		t.Errorf("expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("POST", "/api/transcribe", "429")); got != 1 {
		t.Errorf("expected 1 rejected request, got %v", got)
	}
	if n := testutil.CollectAndCount(c.requestDuration); n != 1 {
		t.Errorf("expected one duration series, got %d", n)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, nil)

	c.RecordHTTPRequest("GET", "/api/ai-usage", 200, time.Millisecond)
	done := c.TrackInFlight()
	done()

	if n := testutil.CollectAndCount(c.requestsTotal); n != 0 {
		t.Errorf("disabled collector recorded %d series", n)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordHTTPRequest("GET", "/", 200, 0)
	c.TrackInFlight()()
	c.SetBuildInfo("dev", "none")
}

func TestCollector_RouteCardinality(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	for i := 0; i < DefaultMaxRoutes+10; i++ {
		c.RecordHTTPRequest("GET", fmt.Sprintf("/probe/%d", i), 404, time.Millisecond)
	}

	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("GET", OtherRoute, "404")); got != 10 {
		t.Errorf("expected 10 requests folded into %q, got %v", OtherRoute, got)
	}
	if c.routes.Count() != DefaultMaxRoutes {
		t.Errorf("expected %d tracked routes, got %d", DefaultMaxRoutes, c.routes.Count())
	}
}

func TestCollector_InFlight(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	done := c.TrackInFlight()
	if got := testutil.ToFloat64(c.inFlight); got != 1 {
		t.Errorf("expected 1 in flight, got %v", got)
	}
	done()
	if got := testutil.ToFloat64(c.inFlight); got != 0 {
		t.Errorf("expected 0 in flight, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.SetBuildInfo("1.2.3", "abc123")
	c.RecordHTTPRequest("GET", "/api/ai-usage", 200, 5*time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"voicequota_http_requests_total",
		`version="1.2.3"`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("expected first two values to be allowed")
	}
	if cl.Allow("c") {
		t.Error("expected third value to be rejected")
	}
	if !cl.Allow("a") {
		t.Error("known value should still be allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("expected count 2, got %d", cl.Count())
	}
}
