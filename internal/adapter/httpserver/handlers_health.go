package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const readinessProbeTimeout = 5 * time.Second

// HealthCheck is a named dependency probe used by readiness.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness runs every dependency probe concurrently and reports each
// result. Any failing probe makes the instance unready.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(s.healthChecks))
		healthy = true
		g       errgroup.Group
	)
	for _, hc := range s.healthChecks {
		g.Go(func() error {
			result := "ok"
			if err := hc.Check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[hc.Name] = result
			healthy = healthy && result == "ok"
			return nil
		})
	}
	_ = g.Wait()

	status, code := "ready", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
		slog.WarnContext(ctx, "Readiness probe failed", "checks", results)
	}
	if err := c.JSON(code, map[string]any{"status": status, "checks": results}); err != nil {
		return fmt.Errorf("failed to write readiness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
