package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/testtrack-client/internal/adapter/metrics"
	"github.com/pscheid92/testtrack-client/internal/platform/config"
	"github.com/pscheid92/testtrack-client/internal/session"
)

type Server struct {
	echo   *echo.Echo
	config *config.Config

	sessionConfig session.Config
	sessionDeps   session.Deps

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler

	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

// WithMetrics instruments requests and serves the registry on /metrics.
func WithMetrics(m *metrics.HTTPMetrics, handler http.Handler) Option {
	return func(s *Server) {
		s.httpMetrics = m
		s.metricsHandler = handler
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

func NewServer(cfg *config.Config, deps session.Deps, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		sessionConfig: session.Config{
			URL:            cfg.TestTrackURL,
			AnalyticsToken: cfg.MixpanelToken,
		},
		sessionDeps: deps,
	}
	srv.startTime = srv.now()
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) now() time.Time {
	if s.sessionDeps.Clock != nil {
		return s.sessionDeps.Clock.Now()
	}
	return time.Now()
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Group returns a route group whose handlers run inside a managed session.
func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, append(m, s.sessionMiddleware)...)
}

// Handler exposes the router, e.g. for tests or embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) isSecure(c echo.Context) bool {
	if c.Request().TLS != nil {
		return true
	}
	return s.config.TrustForwardedProto && c.Request().Header.Get(echo.HeaderXForwardedProto) == "https"
}
