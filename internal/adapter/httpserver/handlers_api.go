package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	apperrors "github.com/pscheid92/testtrack-client/internal/platform/errors"
)

type assignmentRequest struct {
	SplitName string `json:"split_name"`
}

type identifierRequest struct {
	IdentifierType string `json:"identifier_type"`
	Value          string `json:"value"`
}

func (s *Server) registerAPIRoutes() {
	api := s.Group("/tt/api", newRateLimiter(s.config.APIRateLimit, s.config.APIRateBurst))
	api.GET("/state", s.handleState)
	api.POST("/assignments", s.handleAssign)
	api.POST("/login", s.handleLogIn)
	api.POST("/signup", s.handleSignUp)
}

func (s *Server) handleState(c echo.Context) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return err
	}

	snapshot, err := sess.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, snapshot); err != nil {
		return fmt.Errorf("failed to write state response: %w", err)
	}
	return nil
}

func (s *Server) handleAssign(c echo.Context) error {
	var req assignmentRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if strings.TrimSpace(req.SplitName) == "" {
		return apperrors.ValidationError("split_name is required")
	}

	sess, err := sessionFrom(c)
	if err != nil {
		return err
	}
	if _, err := sess.Assign(c.Request().Context(), req.SplitName); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLogIn(c echo.Context) error {
	req, err := bindIdentifier(c)
	if err != nil {
		return err
	}

	sess, err := sessionFrom(c)
	if err != nil {
		return err
	}
	if err := sess.LogIn(c.Request().Context(), req.IdentifierType, req.Value); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSignUp(c echo.Context) error {
	req, err := bindIdentifier(c)
	if err != nil {
		return err
	}

	sess, err := sessionFrom(c)
	if err != nil {
		return err
	}
	if err := sess.SignUp(c.Request().Context(), req.IdentifierType, req.Value); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func bindIdentifier(c echo.Context) (identifierRequest, error) {
	var req identifierRequest
	if err := c.Bind(&req); err != nil {
		return req, apperrors.ValidationError("invalid request body")
	}
	if req.IdentifierType == "" || req.Value == "" {
		return req, apperrors.ValidationError("identifier_type and value are required")
	}
	return req, nil
}
