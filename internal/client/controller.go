package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// ErrNotConnected is returned by Send while no stream is open.
var ErrNotConnected = errors.New("not connected")

var errDisconnected = errors.New("disconnected")

// State is the controller's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stream is one open live connection.
type Stream interface {
	Read(ctx context.Context) (domain.Message, error)
	Send(ctx context.Context, frame domain.ClientFrame) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, eventID domain.EventID) (Stream, error)
}

// Snapshot is the authoritative room state fetched over REST.
type Snapshot struct {
	AsOf      time.Time
	Questions []domain.Payload
	Polls     []domain.Payload
}

type Resyncer interface {
	Resync(ctx context.Context, eventID domain.EventID) (Snapshot, error)
}

// Transition describes a state change. Delay and Attempt are set when
// entering Backoff; Err carries the failure that caused a disconnect.
type Transition struct {
	From, To State
	Attempt  int
	Delay    time.Duration
	Err      error
}

// Handler receives controller output. Calls are made from the controller
// goroutine, one at a time.
type Handler interface {
	OnTransition(t Transition)
	OnSnapshot(s Snapshot)
	OnMessage(msg domain.Message)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Transition func(Transition)
	Snapshot   func(Snapshot)
	Message    func(domain.Message)
}

func (h HandlerFuncs) OnTransition(t Transition) {
	if h.Transition != nil {
		h.Transition(t)
	}
}

func (h HandlerFuncs) OnSnapshot(s Snapshot) {
	if h.Snapshot != nil {
		h.Snapshot(s)
	}
}

func (h HandlerFuncs) OnMessage(msg domain.Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

type ControllerConfig struct {
	EventID   domain.EventID
	Dialer    Dialer
	Resyncer  Resyncer
	Handler   Handler
	Clock     clockwork.Clock
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Controller keeps a live stream open for one event, reconnecting with
// capped exponential backoff and resynchronising after every connect.
// Retries continue until Disconnect or context cancellation.
type Controller struct {
	eventID  domain.EventID
	dialer   Dialer
	resyncer Resyncer
	handler  Handler
	clock    clockwork.Clock
	backoff  *Backoff

	mu     sync.Mutex
	state  State
	stream Stream

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewController(cfg ControllerConfig) *Controller {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	handler := cfg.Handler
	if handler == nil {
		handler = HandlerFuncs{}
	}
	return &Controller{
		eventID:  cfg.EventID,
		dialer:   cfg.Dialer,
		resyncer: cfg.Resyncer,
		handler:  handler,
		clock:    clock,
		backoff:  NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		state:    StateDisconnected,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the controller until Disconnect is called or ctx is done.
func (c *Controller) Start(ctx context.Context) {
	go c.run(ctx)
}

// Disconnect moves the controller to the terminal Closed state, closing
// the open stream and cancelling any pending reconnect.
func (c *Controller) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
	})
}

// Done is closed once the controller has reached Closed.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send writes an action frame on the open stream.
func (c *Controller) Send(ctx context.Context, frame domain.ClientFrame) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}
	if err := stream.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", frame.Type, err)
	}
	return nil
}

func (c *Controller) transition(to State, fill func(*Transition)) {
	c.mu.Lock()
	t := Transition{From: c.state, To: to}
	c.state = to
	c.mu.Unlock()
	if fill != nil {
		fill(&t)
	}
	c.handler.OnTransition(t)
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.transition(StateClosed, nil)

	for !c.stopped() && ctx.Err() == nil {
		c.transition(StateConnecting, nil)

		stream, err := c.dialer.Dial(ctx, c.eventID)
		if err != nil {
			slog.DebugContext(ctx, "Dial failed", "event_id", c.eventID, "error", err)
			c.transition(StateDisconnected, func(t *Transition) { t.Err = err })
			if !c.wait(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.stream = stream
		c.mu.Unlock()
		// Disconnect may have run before the stream was visible to it.
		if c.stopped() {
			_ = stream.Close()
			return
		}

		c.backoff.Reset()
		c.transition(StateConnected, nil)

		err = c.session(ctx, stream)
		_ = stream.Close()
		c.mu.Lock()
		c.stream = nil
		c.mu.Unlock()

		if c.stopped() || ctx.Err() != nil {
			return
		}
		slog.InfoContext(ctx, "Live connection lost", "event_id", c.eventID, "error", err)
		c.transition(StateDisconnected, func(t *Transition) { t.Err = err })
		if !c.wait(ctx) {
			return
		}
	}
}

// wait sleeps for the next backoff delay. It returns false if the
// controller was stopped meanwhile.
func (c *Controller) wait(ctx context.Context) bool {
	if c.stopped() {
		return false
	}
	attempt := c.backoff.Attempt()
	delay := c.backoff.Next()
	c.transition(StateBackoff, func(t *Transition) {
		t.Attempt = attempt
		t.Delay = delay
	})

	timer := c.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-c.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

type resyncResult struct {
	snapshot Snapshot
	err      error
}

// session runs one connected stream: it resyncs over REST while buffering
// live messages, then applies live messages until the stream fails.
func (c *Controller) session(ctx context.Context, stream Stream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan domain.Message, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	reconciler := NewReconciler()
	var resynced chan resyncResult
	if c.resyncer != nil {
		reconciler.Begin()
		resynced = make(chan resyncResult, 1)
		go func() {
			snap, err := c.resyncer.Resync(ctx, c.eventID)
			resynced <- resyncResult{snapshot: snap, err: err}
		}()
	}

	for {
		select {
		case msg := <-messages:
			if msg.Type == domain.TypePing {
				if err := stream.Send(ctx, domain.ClientFrame{Type: domain.FramePong}); err != nil {
					return fmt.Errorf("send pong: %w", err)
				}
				continue
			}
			for _, m := range reconciler.Offer(msg) {
				c.handler.OnMessage(m)
			}
		case res := <-resynced:
			resynced = nil
			if res.err != nil {
				return fmt.Errorf("resync: %w", res.err)
			}
			c.handler.OnSnapshot(res.snapshot)
			for _, m := range reconciler.Complete(res.snapshot.AsOf) {
				c.handler.OnMessage(m)
			}
		case err := <-readErr:
			return err
		case <-c.stop:
			return errDisconnected
		}
	}
}
