// Package server assembles the voice usage API from its components and
// manages its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/voicequota/pkg/api/middleware"
	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/limits/gate"
	"mercator-hq/voicequota/pkg/limits/ledger"
	"mercator-hq/voicequota/pkg/limits/storage"
	"mercator-hq/voicequota/pkg/security/auth"
	tlsutil "mercator-hq/voicequota/pkg/security/tls"
	"mercator-hq/voicequota/pkg/telemetry/health"
	"mercator-hq/voicequota/pkg/telemetry/metrics"
	"mercator-hq/voicequota/pkg/transcribe"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Options overrides components built from the configuration.
type Options struct {
	Build BuildInfo

	// Backend replaces the configured ledger backend.
	Backend storage.Backend

	// Transcriber replaces the configured transcription service.
	Transcriber transcribe.Transcriber

	// Registry replaces the process metrics registry.
	Registry *prometheus.Registry

	// Clock replaces time.Now in the ledger.
	Clock func() time.Time
}

// Server is the voice usage API server.
type Server struct {
	cfg    *config.Config
	build  BuildInfo
	logger *slog.Logger

	backend     storage.Backend
	ledger      *ledger.Ledger
	gate        *gate.Gate
	transcriber transcribe.Transcriber
	quota       *limits.Metrics
	collector   *metrics.Collector
	health      *health.Checker
	scheduler   *ledger.Scheduler
	keys        *auth.APIKeyValidator
	auth        *auth.Middleware
	limiter     *middleware.RateLimiter

	handler    http.Handler
	httpServer *http.Server
	reloader   *tlsutil.CertificateReloader

	mu       sync.Mutex
	running  bool
	listener net.Listener
	stopOnce sync.Once
}

// New builds the server and its components. The ledger backend is opened
// here; call Close if Run is never called.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	s := &Server{
		cfg:    cfg,
		build:  opts.Build,
		logger: slog.Default().With("component", "server"),
	}

	s.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, opts.Registry)
	s.collector.SetBuildInfo(opts.Build.Version, opts.Build.Commit)
	s.quota = limits.NewMetrics(s.collector.Registry())

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = storage.Open(ctx, StorageOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s ledger backend: %w", cfg.Storage.Backend, err)
		}
	}
	s.backend = backend

	if err := s.buildQuota(opts.Clock); err != nil {
		_ = s.backend.Close()
		return nil, err
	}

	t := opts.Transcriber
	if t == nil {
		var err error
		t, err = newTranscriber(cfg.Transcription)
		if err != nil {
			_ = s.backend.Close()
			return nil, err
		}
	}
	s.transcriber = transcribe.Instrument(t, s.collector.Registry())

	if err := s.buildAuth(); err != nil {
		_ = s.backend.Close()
		return nil, err
	}

	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	s.health = health.New(health.DefaultCheckTimeout)
	s.health.RegisterCheck("ledger", s.ledger.Ping)
	if cfg.Storage.Retention.Schedule != "" {
		s.health.RegisterCheck("retention", func(context.Context) error {
			if !s.scheduler.IsRunning() {
				return errors.New("retention scheduler is not running")
			}
			return nil
		})
	}

	s.handler = s.routes()
	return s, nil
}

func (s *Server) buildQuota(clock func() time.Time) error {
	policy := QuotaPolicy(s.cfg)

	ledgerOpts := []ledger.Option{
		ledger.WithMetrics(s.quota),
		ledger.WithLogger(slog.Default().With("component", "limits.ledger")),
	}
	if clock != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithClock(clock))
	}

	l, err := ledger.New(s.backend, policy, ledgerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create usage ledger: %w", err)
	}
	s.ledger = l
	s.gate = gate.New(l, s.quota)
	s.scheduler = ledger.NewScheduler(l, ledger.RetentionConfig{
		Schedule: s.cfg.Storage.Retention.Schedule,
		MaxAge:   s.cfg.Storage.Retention.MaxAge,
	})
	return nil
}

// QuotaPolicy maps the quota section of cfg to a ledger policy.
func QuotaPolicy(cfg *config.Config) limits.QuotaPolicy {
	return limits.QuotaPolicy{
		MaxSecondsPerWindow:     cfg.Quota.MaxSecondsPerWindow,
		WindowDuration:          cfg.Quota.WindowDuration,
		MaxSingleRequestSeconds: cfg.Quota.MaxSingleRequestSeconds,
	}
}

// StorageOptions maps the storage section of cfg to backend options.
func StorageOptions(cfg *config.Config) storage.Options {
	st := cfg.Storage
	return storage.Options{
		Backend: st.Backend,
		SQLite: storage.SQLiteBackendConfig{
			DBPath:      st.SQLite.Path,
			Driver:      st.SQLite.Driver,
			BusyTimeout: st.SQLite.BusyTimeout,
		},
		Postgres: storage.PostgresBackendConfig{
			DSN:             st.Postgres.DSN,
			MaxOpenConns:    st.Postgres.MaxOpenConns,
			MaxIdleConns:    st.Postgres.MaxIdleConns,
			ConnMaxLifetime: st.Postgres.ConnMaxLifetime,
		},
		Redis: storage.RedisBackendConfig{
			URL:        st.Redis.URL,
			KeyPrefix:  st.Redis.KeyPrefix,
			MaxRetries: st.Redis.MaxRetries,
			// Records outlive their window by the pruning age.
			Retention: st.Retention.MaxAge,
		},
	}
}

func newTranscriber(cfg config.TranscriptionConfig) (transcribe.Transcriber, error) {
	switch cfg.Provider {
	case "fake":
		return transcribe.NewFake(cfg.FakeText, 0, nil), nil
	case "", "openai":
		c, err := transcribe.NewClient(transcribe.Config{
			Name:    "openai",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create transcription client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", cfg.Provider)
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Ledger returns the usage ledger.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	srvCfg := s.cfg.Server
	s.httpServer = &http.Server{
		Addr:           srvCfg.ListenAddress,
		Handler:        s.handler,
		ReadTimeout:    srvCfg.ReadTimeout,
		WriteTimeout:   srvCfg.WriteTimeout,
		IdleTimeout:    srvCfg.IdleTimeout,
		MaxHeaderBytes: srvCfg.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	tlsCfg := s.cfg.Security.TLS
	if tlsCfg.Enabled {
		s.reloader = tlsutil.NewCertificateReloader(tlsCfg.CertFile, tlsCfg.KeyFile, tlsCfg.ReloadInterval)
		if err := s.reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		c, err := tlsutil.ServerConfig(tlsCfg, s.reloader)
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.httpServer.TLSConfig = c
	}

	ln, err := net.Listen("tcp", srvCfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srvCfg.ListenAddress, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if err := s.scheduler.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting voice usage API",
			"address", ln.Addr().String(),
			"tls_enabled", tlsCfg.Enabled,
			"ledger_backend", s.ledger.Backend(),
			"transcriber", s.transcriber.Name(),
		)
		var err error
		if tlsCfg.Enabled {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		_ = s.Shutdown(context.Background())
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Addr returns the bound listen address once Run has started listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown drains in-flight requests within the configured timeout and
// releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.stopOnce.Do(func() {
		timeout := s.cfg.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown: %w", err))
			}
		}
		errs = append(errs, s.close())

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		s.logger.Info("voice usage API stopped")
	})

	return errors.Join(errs...)
}

// Close releases components without serving. It is safe to call after
// Shutdown.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() { err = s.close() })
	return err
}

func (s *Server) close() error {
	s.scheduler.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("ledger backend close: %w", err)
	}
	return nil
}

// IsRunning reports whether Run is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
