// Package core provides the HTTP chassis of the booking API: a chi router,
// the ordered middleware chain (recovery, request ids, logging, compression,
// metrics, tenant resolution, authentication, rate limiting), the JSON
// envelope helpers, and the health endpoint. Domain handlers mount
// themselves through V1RouteRegistrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classbook/internal/config"
)

// Server encapsulates all dependencies of the API so tests can inject fakes.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	Authenticator  Authenticator
	Tenants        TenantResolver
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// MetricsHandler serves GET /metrics when set (Prometheus exposition).
	MetricsHandler http.Handler

	// V1RouteRegistrars are invoked inside the /v1 route group. Populated by
	// the entry point to keep handler packages out of core's imports.
	V1RouteRegistrars []func(chi.Router)

	// Closers run in order during Shutdown.
	Closers []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer builds a Server with a fresh router. Routes are mounted later by
// MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, tenants TenantResolver, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant resolver must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Tenants:   tenants,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources registered in Closers. All closers run even
// when one fails; the errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for _, closeFn := range s.Closers {
		if err := closeFn(ctx); err != nil {
			s.Logger.Error("error during shutdown", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}
