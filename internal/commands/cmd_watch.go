package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/urfave/cli/v3"
)

var errMissingEvent = errors.New("event id is required")

type WatchCmd struct {
	flags *Flags
	board bool
}

func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Stream live updates of an event",
		UsageText: "liveroom watch [--board] <event-id>",
		Description: `Connects to the event's live channel and prints every message.

The connection is re-established with exponential backoff when it drops.
With --api set, each reconnect fetches the current questions and polls and
discards live messages the fetched state already covers.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "board",
				Usage:       "print the question board after every change",
				Destination: &cmd.board,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	eventID := domain.EventID(c.Args().First())
	if eventID == "" {
		return errMissingEvent
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	out := c.Root().Writer
	board := client.NewBoard()
	handler := client.HandlerFuncs{
		Transition: func(t client.Transition) {
			_, _ = fmt.Fprintln(out, formatTransition(t))
			if reason, ok := finalClose(t.Err); ok {
				cancel(fmt.Errorf("connection closed: %s", reason))
			}
		},
		Snapshot: func(s client.Snapshot) {
			board.Reset(s)
			_, _ = fmt.Fprintln(out, formatSnapshot(s))
			if cmd.board {
				printBoard(out, board)
			}
		},
		Message: func(msg domain.Message) {
			_, _ = fmt.Fprintln(out, formatMessage(msg))
			if board.Apply(msg) && cmd.board {
				printBoard(out, board)
			}
		},
	}

	ctrl := cmd.flags.controller(eventID, handler)
	slog.InfoContext(ctx, "Watching event", "event_id", eventID, "server", cmd.flags.Server)
	ctrl.Start(ctx)
	<-ctx.Done()
	ctrl.Disconnect()
	<-ctrl.Done()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.InfoContext(ctx, "Stopped watching", "event_id", eventID, "reason", err)
	}
	return nil
}
