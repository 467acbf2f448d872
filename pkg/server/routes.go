package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"mercator-hq/voicequota/pkg/api/handlers"
	"mercator-hq/voicequota/pkg/api/middleware"
	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/telemetry/health"
	"mercator-hq/voicequota/pkg/telemetry/tracing"
)

// API routes.
const (
	UsagePath      = "/api/ai-usage"
	TranscribePath = "/api/transcribe"
	VersionPath    = "/version"
)

// routes builds the router and the middleware chain around it:
//
//	Recovery → RequestID → Logging → CORS → Timeout → router → tracing → auth → rate limit
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		types.WriteError(w, types.NewErrorResponse(http.StatusNotFound, types.CodeNotFound, "no such endpoint"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		types.WriteError(w, types.NewErrorResponse(http.StatusMethodNotAllowed, types.CodeMethodNotAllowed, "method not allowed"))
	})
	r.Use(tracing.HTTPMiddleware(routeTemplate))

	usage := handlers.NewUsageHandler(s.ledger)
	transcribeHandler := handlers.NewTranscribeHandler(s.gate, s.ledger, s.transcriber, s.quota, handlers.TranscribeConfig{
		MaxUploadBytes:     s.cfg.Transcription.MaxUploadBytes,
		SupportedLanguages: s.cfg.Quota.SupportedLanguages,
		MaxInFlight:        s.cfg.RateLimit.MaxConcurrent,
		MaxInFlightPerUser: s.cfg.RateLimit.MaxConcurrentPerUser,
	})

	var transcribeChain http.Handler = transcribeHandler
	if s.limiter != nil {
		transcribeChain = s.limiter.Handle(transcribeChain)
	}

	r.Handle(UsagePath, s.auth.Handle(usage)).Methods(http.MethodGet)
	r.Handle(TranscribePath, s.auth.Handle(transcribeChain)).Methods(http.MethodPost)

	hc := s.cfg.Telemetry.Health
	r.Handle(hc.LivenessPath, s.health.LivenessHandler()).Methods(http.MethodGet, http.MethodHead)
	r.Handle(hc.ReadinessPath, s.health.ReadinessHandler()).Methods(http.MethodGet, http.MethodHead)
	r.Handle(VersionPath, health.VersionHandler(s.build.Version, s.build.Commit, s.build.BuildTime)).Methods(http.MethodGet)

	if mc := s.cfg.Telemetry.Metrics; mc.Enabled {
		r.Handle(mc.Path, s.collector.Handler()).Methods(http.MethodGet)
	}

	var h http.Handler = r
	h = s.inFlight(h)
	h = middleware.TimeoutMiddleware(s.cfg.Server.RequestTimeout)(h)
	h = middleware.CORSMiddleware(corsConfig(s.cfg))(h)
	h = middleware.LoggingMiddleware(s.collector)(h)
	h = middleware.RequestIDMiddleware(h)
	h = middleware.RecoveryMiddleware(h)
	return h
}

func (s *Server) inFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := s.collector.TrackInFlight()
		defer done()
		next.ServeHTTP(w, r)
	})
}

// routeTemplate names a request by its matched route.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return ""
}

func corsConfig(cfg *config.Config) *middleware.CORSConfig {
	c := cfg.CORS
	return &middleware.CORSConfig{
		Enabled:          c.Enabled,
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}
