package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/httpserver"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/metrics"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/redis"
	"github.com/nagpalvipin/slido-clone-sub000/internal/app"
	"github.com/nagpalvipin/slido-clone-sub000/internal/broadcast"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/config"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/logging"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, running without notify subscriber and action forwarding")
		return nil
	}
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func settingsFrom(cfg *config.Config) broadcast.Settings {
	return broadcast.Settings{
		PingInterval:          cfg.PingInterval,
		HeartbeatTimeout:      cfg.EffectiveHeartbeatTimeout(),
		CloseGrace:            cfg.CloseGrace,
		QueueSize:             cfg.OutboundQueueSize,
		RoomGrace:             cfg.RoomGracePeriod,
		MaxRoomConnections:    cfg.MaxRoomConnections,
		AttendeeRatePerMinute: cfg.AttendeeRatePerMinute,
		HostRatePerMinute:     cfg.HostRatePerMinute,
		RateLimitStrikes:      cfg.RateLimitStrikes,
	}
}

func tokenVerifier(cfg *config.Config, rdb *goredis.Client) domain.TokenVerifier {
	if rdb == nil {
		return app.NewDevTokenVerifier(cfg.DevHostCode)
	}
	store := redis.NewTokenStore(rdb)
	if cfg.IsDevelopment() {
		return app.NewFallbackVerifier(store, app.NewDevTokenVerifier(cfg.DevHostCode))
	}
	return store
}

func runGracefulShutdown(srv *httpserver.Server, broadcaster *broadcast.Broadcaster, stopSubscriber context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopSubscriber()
		broadcaster.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	reg := metrics.NewRegistry()

	rdb := setupRedis(context.Background(), cfg)
	if rdb != nil {
		redisMetrics := metrics.NewRedisMetrics(reg)
		rdb.AddHook(redis.NewMetricsHook(redisMetrics))
		rdb.AddHook(redis.NewCircuitBreakerHook(redis.DefaultBreakerSettings(), redisMetrics))
		defer func() { _ = rdb.Close() }()
	}

	registry := broadcast.NewRegistry(clock, settingsFrom(cfg), metrics.NewLiveMetrics(reg))

	var actions domain.ActionHandler
	if rdb != nil {
		actions = redis.NewActionForwarder(rdb)
	}
	broadcaster := broadcast.NewBroadcaster(registry, actions)

	var checks []httpserver.HealthCheck
	subscriberCtx, stopSubscriber := context.WithCancel(context.Background())
	defer stopSubscriber()
	if rdb != nil {
		subscriber := redis.NewNotifySubscriber(rdb, broadcaster)
		go func() {
			if err := subscriber.Serve(subscriberCtx, redis.ResubscribePolicy); err != nil {
				slog.Error("Notify subscriber stopped", "error", err)
			}
		}()
		checks = append(checks,
			httpserver.HealthCheck{Name: "redis", Check: redis.HealthCheck(rdb)},
			httpserver.HealthCheck{Name: "notify_subscriber", Check: subscriber.Ready},
		)
	}

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Live:         broadcaster,
		Verifier:     tokenVerifier(cfg, rdb),
		Registry:     reg,
		HealthChecks: checks,
		Clock:        clock,
	})

	done := runGracefulShutdown(srv, broadcaster, stopSubscriber)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
