package httpserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/correlation"
	apperrors "github.com/nagpalvipin/slido-clone-sub000/internal/platform/errors"
)

const notifySecretHeader = "X-Notify-Secret"

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		if eventID := c.Param("eventID"); eventID != "" {
			ctx = correlation.WithEvent(ctx, eventID)
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// notifySecretMiddleware guards the write-layer ingress. Without a
// configured secret every caller is accepted.
func (s *Server) notifySecretMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.NotifySecret != "" && !s.presentsNotifySecret(c) {
			return apperrors.UnauthorizedError("invalid notify secret")
		}
		return next(c)
	}
}

// presentsNotifySecret reports whether the request carries the configured
// notify secret. It is false when no secret is configured.
func (s *Server) presentsNotifySecret(c echo.Context) bool {
	secret := s.config.NotifySecret
	if secret == "" {
		return false
	}
	got := c.Request().Header.Get(notifySecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
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

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeUnauthorized:
		slog.WarnContext(ctx, "Unauthorized request", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
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
