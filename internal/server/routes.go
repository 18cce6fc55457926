package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/observability"
	"github.com/arenawatch/arenawatch/internal/server/handlers"
)

const (
	adminSignalPath = "/admin/signal"

	// Admin signal requests per minute and burst.
	adminRateLimit = 10
	adminRateBurst = 5
)

// Option adjusts which optional routes New mounts.
type Option func(*Server)

// WithoutHealth skips the /health probes.
func WithoutHealth() Option {
	return func(s *Server) { s.health = false }
}

// WithProfiler mounts net/http/pprof under /debug.
func WithProfiler() Option {
	return func(s *Server) { s.profiler = true }
}

// WithAdminToken enables POST /admin/signal behind bearer token auth. An
// empty token leaves the endpoint off.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

func (s *Server) registerRoutes() {
	if s.health {
		s.router.Route("/health", func(r chi.Router) {
			r.Get("/", handlers.HealthHandler)
			r.Get("/live", handlers.LivenessHandler)
			r.Get("/ready", handlers.ReadinessHandler)
			r.Get("/startup", handlers.StartupHandler)
		})
	}

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if s.api != nil {
		s.router.Route("/api/v1", s.api.Routes)
	}
	if s.profiler {
		s.router.Mount("/debug", middleware.Profiler())
		observability.ComponentLogger().Warn("pprof endpoints mounted", zap.String("path", "/debug/pprof/"))
	}
	if s.adminToken != "" {
		s.registerAdminSignals()
	}
}

// registerAdminSignals exposes the gofulmen signal manager over HTTP so an
// operator can trigger a reload or shutdown without shell access.
func (s *Server) registerAdminSignals() {
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: adminRateLimit,
		RateBurst: adminRateBurst,
	})
	s.router.Post(adminSignalPath, handler.ServeHTTP)

	observability.ComponentLogger().Warn("Admin signal endpoint enabled",
		zap.String("path", adminSignalPath),
		zap.Int("rate_limit_per_min", adminRateLimit),
		zap.Int("rate_burst", adminRateBurst))
}
