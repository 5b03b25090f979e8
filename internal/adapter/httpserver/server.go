package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/metrics"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/broadcast"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
)

// liveService is the part of the broadcaster the HTTP layer drives.
type liveService interface {
	domain.Notifier
	Connect(ctx context.Context, req broadcast.ConnectRequest) (*broadcast.Connection, error)
	EndEvent(eventID domain.EventID) bool
	ConnectionCount(eventID domain.EventID) int
}

// Deps are the collaborators wired into the server at startup.
type Deps struct {
	Live         liveService
	Verifier     domain.TokenVerifier
	Registry     *prometheus.Registry
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	live     liveService
	verifier domain.TokenVerifier
	upgrader *gorillaws.Upgrader
	limits   *ConnectionLimits

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:     e,
		config:   cfg,
		live:     deps.Live,
		verifier: deps.Verifier,
		upgrader: websocket.NewUpgrader(websocket.OriginPolicy{
			AppURL:      cfg.AppURL,
			Extra:       cfg.Origins(),
			Development: cfg.IsDevelopment(),
		}.CheckOrigin()),
		limits: NewConnectionLimits(clock, LimitsConfig{
			Global:        int64(cfg.MaxWebSocketConnections),
			PerIP:         cfg.MaxConnectionsPerIP,
			RatePerSecond: cfg.ConnectionRatePerSecond,
			Burst:         cfg.ConnectionRateBurst,
		}),
		registry:     deps.Registry,
		healthChecks: deps.HealthChecks,
		clock:        clock,
		startTime:    clock.Now(),
	}
	if deps.Registry != nil {
		srv.httpMetrics = metrics.NewHTTPMetrics(deps.Registry)
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
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
