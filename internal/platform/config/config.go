package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minNotifySecretLength = 16

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AppURL    string `env:"APP_URL"`
	// Comma-separated extra browser origins, e.g. a projector display domain.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	RedisURL     string `env:"REDIS_URL"`
	NotifySecret string `env:"NOTIFY_SECRET"`
	DevHostCode  string `env:"DEV_HOST_CODE"`

	PingInterval     time.Duration `env:"PING_INTERVAL" default:"30s"`
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" default:"0s"`
	RoomGracePeriod  time.Duration `env:"ROOM_GRACE_PERIOD" default:"30s"`
	CloseGrace       time.Duration `env:"CLOSE_GRACE" default:"1s"`

	OutboundQueueSize     int `env:"OUTBOUND_QUEUE_SIZE" default:"64"`
	AttendeeRatePerMinute int `env:"ATTENDEE_RATE_PER_MINUTE" default:"10"`
	HostRatePerMinute     int `env:"HOST_RATE_PER_MINUTE" default:"60"`
	RateLimitStrikes      int `env:"RATE_LIMIT_STRIKES" default:"3"`
	MaxRoomConnections    int `env:"MAX_ROOM_CONNECTIONS" default:"2000"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRatePerSecond float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionRateBurst     int     `env:"CONNECTION_RATE_BURST" default:"20"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Origins returns the configured extra origins, trimmed, without empties.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// EffectiveHeartbeatTimeout resolves the zero default to 1.5 ping intervals.
func (c *Config) EffectiveHeartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout > 0 {
		return c.HeartbeatTimeout
	}
	return c.PingInterval * 3 / 2
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if !cfg.IsDevelopment() {
		required := map[string]string{
			"REDIS_URL":     cfg.RedisURL,
			"NOTIFY_SECRET": cfg.NotifySecret,
		}
		for name, value := range required {
			if value == "" {
				return fmt.Errorf("%s is required", name)
			}
		}
		if cfg.DevHostCode != "" {
			return errors.New("DEV_HOST_CODE is only allowed in development")
		}
	}

	if cfg.NotifySecret != "" && len(cfg.NotifySecret) < minNotifySecretLength {
		return fmt.Errorf("NOTIFY_SECRET must be at least %d characters", minNotifySecretLength)
	}

	if cfg.PingInterval <= 0 {
		return errors.New("PING_INTERVAL must be positive")
	}
	if cfg.HeartbeatTimeout != 0 && cfg.HeartbeatTimeout <= cfg.PingInterval {
		return errors.New("HEARTBEAT_TIMEOUT must be longer than PING_INTERVAL")
	}
	if cfg.RoomGracePeriod < 0 {
		return errors.New("ROOM_GRACE_PERIOD must not be negative")
	}

	positive := map[string]int{
		"OUTBOUND_QUEUE_SIZE":       cfg.OutboundQueueSize,
		"RATE_LIMIT_STRIKES":        cfg.RateLimitStrikes,
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CONNECTION_RATE_BURST":     cfg.ConnectionRateBurst,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.AttendeeRatePerMinute < 0 || cfg.HostRatePerMinute < 0 {
		return errors.New("rate limits must not be negative")
	}

	return nil
}
