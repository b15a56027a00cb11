// Package core is the HTTP chassis for the Inkwell admin API. It owns the
// chi router, the global middleware chain (panic recovery, request IDs,
// structured request logging, bearer-token auth), and the response
// envelope shared by all handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/config"
)

// Server bundles the router with the cross-cutting dependencies every
// handler needs. Domain handlers register their routes through
// RouteRegistrars; the indirection keeps core free of handler imports.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// RouteRegistrars are invoked by MountRoutes under the /admin group.
	// Populated by the application entry point.
	RouteRegistrars []func(chi.Router)

	// HealthHandler serves GET /health outside the auth boundary so load
	// balancers can probe without credentials.
	HealthHandler http.HandlerFunc

	router *chi.Mux
}

// NewServer initializes the chassis. Routes are mounted separately so tests
// can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain and the admin route
// group. Middleware order matters: Recoverer is outermost so every panic is
// caught, the request ID must exist before the logger runs, and auth runs
// last so rejected requests are still logged with their correlation ID.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.AdminAuthMiddleware)
		for _, registrar := range s.RouteRegistrars {
			registrar(r)
		}
	})

	if s.HealthHandler != nil {
		s.router.Get("/health", s.HealthHandler)
	}
}
