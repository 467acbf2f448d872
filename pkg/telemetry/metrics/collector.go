package metrics

import (
	"strconv"
	"sync"
	"time"

	"mercator-hq/voicequota/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// OtherRoute is the route label used once the route limit is reached.
const OtherRoute = "other"

// DefaultMaxRoutes bounds the number of distinct route labels.
const DefaultMaxRoutes = 64

// Collector owns the process registry and the HTTP server metrics.
// Component metrics (ledger, gate, transcriber) register themselves on
// Registry().
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	buildInfo       *prometheus.GaugeVec

	routes *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a new one is created
// with the Go runtime and process collectors attached.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	buckets := cfg.RequestDurationBuckets
	if len(buckets) == 0 {
		buckets = config.DefaultRequestDurationBuckets
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
		routes:   NewCardinalityLimiter(DefaultMaxRoutes),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicequota_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicequota_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: buckets,
			},
			[]string{"method", "route"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicequota_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voicequota_build_info",
				Help: "Build information, value is always 1",
			},
			[]string{"version", "commit"},
		),
	}

	registry.MustRegister(c.requestsTotal, c.requestDuration, c.inFlight, c.buildInfo)
	return c
}

// Enabled reports whether recording is on.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordHTTPRequest records a completed request. Paths beyond the route
// limit are folded into OtherRoute.
func (c *Collector) RecordHTTPRequest(method, path string, status int, latency time.Duration) {
	if !c.Enabled() {
		return
	}

	route := path
	if !c.routes.Allow(route) {
		route = OtherRoute
	}

	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the function
// that decrements it.
func (c *Collector) TrackInFlight() func() {
	if !c.Enabled() {
		return func() {}
	}
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// SetBuildInfo publishes the running version.
func (c *Collector) SetBuildInfo(version, commit string) {
	if c == nil {
		return
	}
	c.buildInfo.Reset()
	c.buildInfo.WithLabelValues(version, commit).Set(1)
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing up to maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
