package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/testtrack-client/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe. Checks run in order and the first failure wins.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeResponse struct {
	Status      string `json:"status"`
	FailedCheck string `json:"failed_check,omitempty"`
	Error       string `json:"error,omitempty"`
}

type livenessResponse struct {
	Status  string  `json:"status"`
	Uptime  float64 `json:"uptime"`
	Version string  `json:"version"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup also loads the split registry once, so the first visitor
// request after a deploy finds it cached.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	checks := s.healthChecks
	if s.sessionDeps.Registry != nil {
		checks = append(checks[:len(checks):len(checks)], HealthCheck{Name: "split_registry", Check: func(ctx context.Context) error {
			_, err := s.sessionDeps.Registry.SplitRegistry(ctx)
			return err
		}})
	}
	return respondProbe(c, runChecks(ctx, checks))
}

func (s *Server) handleLiveness(c echo.Context) error {
	resp := livenessResponse{
		Status:  "ok",
		Uptime:  s.now().Sub(s.startTime).Seconds(),
		Version: version.Get().Version,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return respondProbe(c, runChecks(ctx, s.healthChecks))
}

func runChecks(ctx context.Context, checks []HealthCheck) probeResponse {
	for _, hc := range checks {
		if err := hc.Check(ctx); err != nil {
			return probeResponse{Status: "unhealthy", FailedCheck: hc.Name, Error: err.Error()}
		}
	}
	return probeResponse{Status: "ready"}
}

func respondProbe(c echo.Context, resp probeResponse) error {
	status := http.StatusOK
	if resp.FailedCheck != "" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send probe response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
