// Package server binds the market-data service to HTTP with chi.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/observability"
	"github.com/marketgate/marketgate/internal/server/handlers"
	servermw "github.com/marketgate/marketgate/internal/server/middleware"
	"github.com/marketgate/marketgate/internal/wire"
)

// Options configures the HTTP server. Zero timeouts take the defaults.
type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RateLimit caps requests per second per client address on /v1 routes. Zero disables it.
	RateLimit float64
	RateBurst int

	// Service backs the /v1 routes. They are not mounted when it is nil.
	Service *wire.Service

	// AdminToken enables POST /admin/signal with bearer auth when set.
	AdminToken string
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	opts     Options
	listener net.Listener
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	opts = withDefaults(opts)
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	// Request ID first for correlation, then metrics, with recovery innermost so
	// panics are still measured and logged.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	s := &Server{router: r, opts: opts}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

func withDefaults(opts Options) Options {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 120 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return opts
}

// Start listens and serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.opts.Port),
			zap.String("addr", listener.Addr().String()))
	}

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Start is listening, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
}
