package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/platform/logctx"
	apperrors "github.com/pscheid92/testtrack-client/internal/platform/errors"
	"github.com/pscheid92/testtrack-client/internal/session"
)

const headerCorrelationID = "X-Correlation-ID"

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(headerCorrelationID)
		if id == "" {
			id = logctx.NewCorrelationID()
		}
		c.Response().Header().Set(headerCorrelationID, id)

		ctx := logctx.WithCorrelationID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// sessionMiddleware wraps the handler in a managed session. Cookies are written right
// before the response is committed; tasks are scheduled after the handler returns.
func (s *Server) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		sess := session.New(s.sessionConfig, s.sessionDeps, session.Request{
			Host:   req.Host,
			Secure: s.isSecure(c),
			Jar:    &echoCookieJar{c: c},
		})

		ctx := logctx.WithVisitorID(req.Context(), sess.Visitor(req.Context()).ID())

		c.Response().Before(func() {
			if err := sess.PersistCookies(ctx); err != nil {
				slog.WarnContext(ctx, "Failed to persist session cookies", "error", err)
			}
		})

		return sess.Manage(ctx, func(ctx context.Context) error {
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		})
	}
}

func sessionFrom(c echo.Context) (*session.Session, error) {
	sess, ok := session.FromContext(c.Request().Context())
	if !ok {
		return nil, apperrors.InternalError("no session for request", nil)
	}
	return sess, nil
}

type echoCookieJar struct {
	c echo.Context
}

func (j *echoCookieJar) Read(name string) (string, bool) {
	cookie, err := j.c.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (j *echoCookieJar) Write(cookie domain.Cookie) {
	j.c.SetCookie(&http.Cookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Path:     "/",
		Domain:   cookie.Domain,
		Expires:  cookie.Expires,
		Secure:   cookie.Secure,
		HttpOnly: cookie.HTTPOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if _, ok := errors.AsType[*echo.HTTPError](err); ok {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)

			// Session finalization can fail after the handler already answered.
			if c.Response().Committed {
				return nil
			}

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Service unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(err)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}
