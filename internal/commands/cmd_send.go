package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/urfave/cli/v3"
)

var errConnectionLost = errors.New("connection lost before the action was confirmed")

type SendCmd struct {
	flags   *Flags
	opts    actionOptions
	timeout time.Duration
}

func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

// Register adds the send command to the application
func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Send one action and wait for the server to confirm it",
		UsageText: "liveroom send --type upvote_question --question-id 42 <event-id>",
		Description: `Connects, sends a single action frame and waits for the broadcast that
confirms it. Upvotes and answer toggles are shown optimistically and rolled
back when the server answers with an error.

Action types: upvote_question, poll_vote, answer_question, delete_question,
open_poll, close_poll. Host actions need a host token.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "type",
				Usage:       "action type",
				Required:    true,
				Destination: &cmd.opts.Type,
			},
			&cli.StringFlag{
				Name:        "question-id",
				Usage:       "question the action refers to",
				Destination: &cmd.opts.QuestionID,
			},
			&cli.StringFlag{
				Name:        "poll-id",
				Usage:       "poll the action refers to",
				Destination: &cmd.opts.PollID,
			},
			&cli.StringFlag{
				Name:        "option-id",
				Usage:       "poll option to vote for",
				Destination: &cmd.opts.OptionID,
			},
			&cli.BoolFlag{
				Name:        "answered",
				Usage:       "answered flag for answer_question",
				Value:       true,
				Destination: &cmd.opts.Answered,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long to wait for confirmation",
				Value:       10 * time.Second,
				Destination: &cmd.timeout,
			},
		},
		Action: cmd.run,
	})

	return app
}

// update is one piece of controller output, handed to the command goroutine.
type update struct {
	transition *client.Transition
	snapshot   *client.Snapshot
	message    *domain.Message
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	eventID := domain.EventID(c.Args().First())
	if eventID == "" {
		return errMissingEvent
	}
	frame, err := buildFrame(cmd.opts)
	if err != nil {
		return err
	}
	ref, err := target(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	updates := make(chan update, 64)
	forward := func(u update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}
	ctrl := cmd.flags.controller(eventID, client.HandlerFuncs{
		Transition: func(t client.Transition) { forward(update{transition: &t}) },
		Snapshot:   func(s client.Snapshot) { forward(update{snapshot: &s}) },
		Message:    func(m domain.Message) { forward(update{message: &m}) },
	})
	ctrl.Start(ctx)
	defer func() {
		cancel()
		ctrl.Disconnect()
		<-ctrl.Done()
	}()

	out := c.Root().Writer
	s := &sendSession{
		frame:        frame,
		ref:          ref,
		board:        client.NewBoard(),
		needSnapshot: cmd.flags.API != "",
		send:         func(f domain.ClientFrame) error { return ctrl.Send(ctx, f) },
	}
	for {
		select {
		case <-ctx.Done():
			s.abandon()
			return fmt.Errorf("%s not confirmed within %s", frame.Type, cmd.timeout)
		case u := <-updates:
			done, err := s.handle(u)
			if err != nil {
				return err
			}
			if done {
				_, _ = fmt.Fprintf(out, "%s confirmed: %s\n", frame.Type, formatMessage(*s.confirmedBy))
				if q, ok := s.board.Question(ref); ok {
					_, _ = fmt.Fprintf(out, "question %s: %d upvotes, answered=%t\n", q.ID, q.Upvotes, q.Answered)
				}
				return nil
			}
		}
	}
}

// sendSession tracks a single optimistic action from connect to
// confirmation or rollback.
type sendSession struct {
	frame        domain.ClientFrame
	ref          domain.RefID
	board        *client.Board
	needSnapshot bool
	send         func(domain.ClientFrame) error

	connected   bool
	synced      bool
	sent        bool
	applied     bool
	confirmedBy *domain.Message
}

// handle folds one update in. It returns true once the action is confirmed.
func (s *sendSession) handle(u update) (bool, error) {
	switch {
	case u.transition != nil:
		t := *u.transition
		if reason, ok := finalClose(t.Err); ok {
			s.abandon()
			return false, fmt.Errorf("connection closed: %s", reason)
		}
		switch t.To {
		case client.StateConnected:
			s.connected = true
			return false, s.maybeSend()
		case client.StateDisconnected:
			s.connected = false
			s.synced = false
			if s.sent {
				s.abandon()
				return false, errConnectionLost
			}
		}
	case u.snapshot != nil:
		s.board.Reset(*u.snapshot)
		s.synced = true
		return false, s.maybeSend()
	case u.message != nil:
		msg := *u.message
		if msg.Type == domain.TypeError {
			s.abandon()
			return false, fmt.Errorf("server rejected %s: %v (%v)", s.frame.Type, msg.Payload["message"], msg.Payload["code"])
		}
		s.board.Apply(msg)
		if s.sent && confirms(s.frame, msg) {
			s.confirmedBy = &msg
			return true, nil
		}
	}
	return false, nil
}

func (s *sendSession) maybeSend() error {
	if s.sent || !s.connected || (s.needSnapshot && !s.synced) {
		return nil
	}
	s.applied = applyLocally(s.board, s.frame)
	if err := s.send(s.frame); err != nil {
		s.abandon()
		return err
	}
	s.sent = true
	slog.Debug("Action sent", "type", s.frame.Type, "ref", s.ref, "optimistic", s.applied)
	return nil
}

// abandon rolls back the optimistic edit, if one was made.
func (s *sendSession) abandon() {
	if s.applied {
		s.board.Rollback(s.ref)
		s.applied = false
	}
}
