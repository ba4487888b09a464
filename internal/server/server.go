// Package server provides the optional HTTP status server that exposes a
// running benchmark's health, outcomes and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/rasterbench/internal/errors"
	"github.com/3leaps/rasterbench/internal/server/handlers"
	"github.com/3leaps/rasterbench/internal/server/middleware"
	"github.com/3leaps/rasterbench/pkg/results"
)

// Options configures the routes the server exposes.
type Options struct {
	// Version is served at /version.
	Version handlers.VersionInfo

	// Outcomes backs /outcomes. Nil serves an empty list.
	Outcomes handlers.OutcomeSource

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server is the status HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router

	httpServer *http.Server
	listener   net.Listener
}

// New creates a server bound to host:port. Port 0 picks a free port on Start.
func New(host string, port int, opts ...Options) *Server {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Outcomes == nil {
		o.Outcomes = emptyOutcomes
	}

	s := &Server{host: host, port: port}
	s.router = s.routes(o)
	return s
}

func (s *Server) routes(o Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteHTTPError(w, http.StatusNotFound, apperrors.HTTPError{
			Code:      apperrors.CodeNotFound,
			Message:   fmt.Sprintf("no route for %s", req.URL.Path),
			RequestID: middleware.RequestIDFromContext(req.Context()),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteHTTPError(w, http.StatusMethodNotAllowed, apperrors.HTTPError{
			Code:      apperrors.CodeMethodNotAllowed,
			Message:   fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path),
			RequestID: middleware.RequestIDFromContext(req.Context()),
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(o.Version))

	r.Get("/outcomes", handlers.OutcomesHandler(o.Outcomes))
	r.Get("/outcomes/{job}", handlers.JobOutcomesHandler(o.Outcomes))

	if o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port, or the bound port once started.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	s.listener = ln
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func emptyOutcomes() []results.Outcome { return nil }
