package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/observability"

	"github.com/marketgate/marketgate/internal/server/handlers"
	servermw "github.com/marketgate/marketgate/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)
	s.registerAdminEndpoint()

	if s.opts.Service == nil {
		return
	}

	var limiter *servermw.ClientRateLimiter
	if s.opts.RateLimit > 0 {
		limiter = servermw.NewClientRateLimiter(s.opts.RateLimit, s.opts.RateBurst)
	}

	market := &handlers.MarketHandler{Service: s.opts.Service}
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(servermw.RateLimit(limiter))
		r.Get("/quote/{vendor}/{identifier}", market.Quote)
		r.Get("/series/{vendor}/{identifier}", market.Series)
		r.Get("/gate/{vendor}", market.Gate)
		r.Get("/vendors", market.Vendors)
		r.Post("/document", market.Document)
	})
}

// registerAdminEndpoint mounts the signal endpoint when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger
	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
