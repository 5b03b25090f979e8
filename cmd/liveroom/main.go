package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/commands"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/logging"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/version"
	"github.com/urfave/cli/v3"
)

func build() string {
	info := version.Get()
	short := info.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s) %s", info.Version, short, info.BuildTime)
}

func main() {
	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "liveroom",
		Usage:     "Follow and act on live Q&A events",
		UsageText: "liveroom [global options] command [command options]",
		Version:   build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Usage:       "live server base URL",
				Sources:     cli.EnvVars("LIVEROOM_SERVER"),
				Value:       "http://localhost:8080",
				Destination: &flags.Server,
			},
			&cli.StringFlag{
				Name:        "api",
				Usage:       "REST API base URL used to resync after reconnects (optional)",
				Sources:     cli.EnvVars("LIVEROOM_API"),
				Destination: &flags.API,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "host code or attendee session token",
				Sources:     cli.EnvVars("LIVEROOM_TOKEN"),
				Destination: &flags.Token,
			},
			&cli.DurationFlag{
				Name:        "reconnect-base",
				Usage:       "first reconnect delay",
				Sources:     cli.EnvVars("LIVEROOM_RECONNECT_BASE"),
				Value:       time.Second,
				Destination: &flags.BaseDelay,
			},
			&cli.DurationFlag{
				Name:        "reconnect-max",
				Usage:       "upper bound for reconnect delays",
				Sources:     cli.EnvVars("LIVEROOM_RECONNECT_MAX"),
				Value:       30 * time.Second,
				Destination: &flags.MaxDelay,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LIVEROOM_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (text, json)",
				Sources:     cli.EnvVars("LIVEROOM_LOG_FORMAT"),
				Value:       "text",
				Destination: &flags.LogFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			slog.SetDefault(logging.New(os.Stderr, flags.LogLevel, flags.LogFormat))
			return ctx, nil
		},
	}

	app = commands.NewWatchCmd(flags).Register(app)
	app = commands.NewSendCmd(flags).Register(app)

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
