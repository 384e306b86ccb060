// Package server exposes the canonization engine over HTTP: a canonize
// endpoint, read access to canonical records and parked fragments, the
// declared entity policies, the replay history, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	meridian "github.com/meridian-data/meridian"
	"github.com/meridian-data/meridian/pkg/logging"
)

// Server serves the engine's HTTP surface.
type Server struct {
	engine meridian.Engine
	logger *zerolog.Logger
	router chi.Router
}

// New creates a server over an engine.
func New(engine meridian.Engine, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{engine: engine, logger: logger}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes mounts every endpoint.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/canonize", s.handleCanonize)
		r.Get("/entities", s.handleEntities)
		r.Get("/records/{id}", s.handleRecord)
		r.Get("/staging/{correlationID}", s.handleParked)
		r.Get("/replay/{entityType}", s.handleReplay)
	})
	return r
}

// Listen serves until the context is canceled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
