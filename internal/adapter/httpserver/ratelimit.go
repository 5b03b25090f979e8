package httpserver

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/nagpalvipin/slido-clone-sub000/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newIngressLimiter throttles write-layer calls per caller and event, so one
// busy event cannot use up another event's budget. Requests for which skip
// returns true are never throttled.
func newIngressLimiter(ratePerSecond float64, burst int, skip middleware.Skipper) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(1 / ratePerSecond)))
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: skip,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP() + "|" + c.Param("eventID"), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error: "rate limit exceeded",
				Type:  apperrors.TypeValidation,
				Context: map[string]any{
					"event_id": c.Param("eventID"),
				},
			})
		},
	})
}
