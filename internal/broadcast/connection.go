package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/metrics"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/correlation"
	"golang.org/x/time/rate"
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connection is one client's subscription to a room. Outbound frames go
// through a bounded queue drained by a dedicated writer goroutine, so a
// slow client never blocks the room.
type Connection struct {
	id        string
	eventID   domain.EventID
	role      domain.Role
	transport domain.Transport
	clock     clockwork.Clock
	settings  Settings
	actions   domain.ActionHandler
	metrics   *metrics.LiveMetrics
	ctx       context.Context

	queue     chan []byte
	pong      chan struct{} // holds at most one unanswered client ping
	done      chan struct{} // closed when Close is first called
	closed    chan struct{} // closed once the transport is closed and the room left
	closeOnce sync.Once
	reason    domain.CloseReason
	state     atomic.Int32
	room      atomic.Pointer[Room]

	activityMu   sync.Mutex
	lastActivity time.Time

	// Owned by the reader goroutine.
	limiter *rate.Limiter
	strikes int
}

func newConnection(ctx context.Context, eventID domain.EventID, role domain.Role, transport domain.Transport, registry *Registry, actions domain.ActionHandler) *Connection {
	settings := registry.settings
	id := uuid.NewString()

	c := &Connection{
		id:           id,
		eventID:      eventID,
		role:         role,
		transport:    transport,
		clock:        registry.clock,
		settings:     settings,
		actions:      actions,
		metrics:      registry.metrics,
		ctx:          correlation.WithConnection(correlation.WithEvent(ctx, string(eventID)), id),
		queue:        make(chan []byte, settings.QueueSize),
		pong:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		closed:       make(chan struct{}),
		lastActivity: registry.clock.Now(),
		limiter:      newFrameLimiter(settings.ratePerMinute(role)),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (s Settings) ratePerMinute(role domain.Role) int {
	if role == domain.RoleHost {
		return s.HostRatePerMinute
	}
	return s.AttendeeRatePerMinute
}

// newFrameLimiter allows perMinute frames in any burst, refilled evenly over
// a minute. Zero disables the limit.
func newFrameLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func (c *Connection) ID() string              { return c.id }
func (c *Connection) EventID() domain.EventID { return c.eventID }
func (c *Connection) Role() domain.Role       { return c.role }
func (c *Connection) State() State            { return State(c.state.Load()) }

// Closed is closed once the connection has fully shut down.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// CloseReason is valid once the connection has left the Open state.
func (c *Connection) CloseReason() domain.CloseReason {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}

// Enqueue queues msg for delivery without blocking. If the queue is full the
// connection is closed as a slow consumer and false is returned.
func (c *Connection) Enqueue(msg domain.Message) bool {
	frame, err := msg.Encode()
	if err != nil {
		slog.ErrorContext(c.ctx, "Failed to encode message", "type", msg.Type, "error", err)
		return false
	}
	return c.enqueueFrame(frame)
}

func (c *Connection) enqueueFrame(frame []byte) bool {
	if c.State() >= StateClosing {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		slog.WarnContext(c.ctx, "Outbound queue full, disconnecting slow client", "queue_size", cap(c.queue))
		c.Close(domain.CloseSlowConsumer)
		return false
	}
}

// Close begins shutdown. Only the first call has an effect. Reasons that
// flush let the writer drain queued frames for up to CloseGrace; the rest
// close the transport immediately.
func (c *Connection) Close(reason domain.CloseReason) {
	c.closeOnce.Do(func() {
		c.reason = reason
		c.state.Store(int32(StateClosing))
		close(c.done)
		if !reason.Flushes() {
			go func() { _ = c.transport.Close(reason) }()
		}
	})
}

func (c *Connection) start() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	c.metrics.ConnectionOpened()
	go c.writeLoop()
	go c.readLoop()
}

func (c *Connection) touch() {
	c.activityMu.Lock()
	c.lastActivity = c.clock.Now()
	c.activityMu.Unlock()
}

func (c *Connection) idle() time.Duration {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	return c.clock.Since(c.lastActivity)
}

func (c *Connection) writeLoop() {
	defer c.finish()

	ping := c.clock.NewTicker(c.settings.PingInterval)
	defer ping.Stop()
	heartbeat := c.clock.NewTimer(c.settings.HeartbeatTimeout)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.done:
			c.drain()
			return
		case frame := <-c.queue:
			if !c.write(frame) {
				return
			}
		case <-c.pong:
			if !c.write(c.encodeControl(domain.TypePong)) {
				return
			}
		case <-ping.Chan():
			if !c.write(c.encodeControl(domain.TypePing)) {
				return
			}
		case <-heartbeat.Chan():
			idle := c.idle()
			if idle >= c.settings.HeartbeatTimeout {
				slog.InfoContext(c.ctx, "Heartbeat timeout, closing connection", "idle", idle)
				c.Close(domain.CloseHeartbeatTimeout)
				return
			}
			heartbeat.Reset(c.settings.HeartbeatTimeout - idle)
		}
	}
}

func (c *Connection) write(frame []byte) bool {
	start := c.clock.Now()
	if err := c.transport.WriteFrame(frame); err != nil {
		slog.DebugContext(c.ctx, "Write failed", "error", err)
		c.Close(domain.CloseTransportError)
		return false
	}
	c.metrics.Delivered(c.clock.Since(start))
	return true
}

// drain writes whatever is still queued, bounded by CloseGrace.
func (c *Connection) drain() {
	if !c.reason.Flushes() {
		return
	}
	deadline := c.clock.Now().Add(c.settings.CloseGrace)
	for c.clock.Now().Before(deadline) {
		select {
		case frame := <-c.queue:
			if err := c.transport.WriteFrame(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) finish() {
	_ = c.transport.Close(c.reason)
	c.state.Store(int32(StateClosed))
	c.metrics.ConnectionClosed(string(c.reason))
	if r := c.room.Load(); r != nil {
		r.Leave(c)
	}
	slog.InfoContext(c.ctx, "Connection closed", "reason", c.reason, "role", c.role)
	close(c.closed)
}

func (c *Connection) readLoop() {
	for {
		data, err := c.transport.ReadFrame()
		if err != nil {
			c.Close(domain.CloseTransportError)
			return
		}
		c.touch()
		c.handleFrame(data)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *Connection) handleFrame(data []byte) {
	typ, peekErr := domain.PeekFrameType(data)
	if peekErr == nil && typ.IsHeartbeat() {
		if typ == domain.FramePing {
			// Pings arriving while a pong is still pending are coalesced.
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
		return
	}

	if !c.allowFrame() {
		return
	}
	if peekErr != nil {
		c.sendError(domain.CodeInvalidMessage, "malformed frame")
		return
	}

	frame, err := domain.ParseClientFrame(data)
	if err != nil {
		c.sendError(domain.CodeInvalidMessage, err.Error())
		return
	}
	if !frame.Type.AllowedFor(c.role) {
		c.sendError(domain.CodeUnauthorized, fmt.Sprintf("%s requires the host role", frame.Type))
		return
	}
	c.forward(frame)
}

// allowFrame draws one token from the connection's rate limit. Rejected
// frames get a RATE_LIMIT_EXCEEDED error; repeat offenders are disconnected.
func (c *Connection) allowFrame() bool {
	now := c.clock.Now()
	if c.limiter.AllowN(now, 1) {
		return true
	}

	c.strikes++
	c.metrics.RateLimited()
	c.enqueueFrame(c.encode(domain.NewMessage(c.eventID, domain.TypeError, domain.Payload{
		"code":        domain.CodeRateLimitExceeded,
		"message":     "too many messages",
		"retry_after": c.retryAfter(now),
	}, now)))

	if c.strikes >= c.settings.RateLimitStrikes {
		slog.WarnContext(c.ctx, "Rate limit exceeded repeatedly, closing connection", "strikes", c.strikes)
		c.Close(domain.CloseRateLimited)
	}
	return false
}

// retryAfter returns the whole seconds until the next frame would be allowed.
func (c *Connection) retryAfter(now time.Time) int {
	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 60
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return max(1, int(math.Ceil(delay.Seconds())))
}

func (c *Connection) forward(frame domain.ClientFrame) {
	if c.actions == nil {
		c.sendError(domain.CodeInvalidMessage, "actions are not supported")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.settings.ActionTimeout)
	defer cancel()

	action := domain.Action{EventID: c.eventID, ConnectionID: c.id, Role: c.role, Frame: frame}
	if err := c.actions.HandleAction(ctx, action); err != nil {
		slog.WarnContext(c.ctx, "Action failed", "action", frame.Type, "error", err)
		c.metrics.ActionForwarded("failed")
		c.sendError(domain.CodeActionFailed, fmt.Sprintf("%s could not be processed", frame.Type))
		return
	}
	c.metrics.ActionForwarded("ok")
}

func (c *Connection) sendError(code domain.ErrorCode, message string) {
	c.enqueueFrame(c.encode(domain.ErrorMessage(c.eventID, code, message, c.clock.Now())))
}

func (c *Connection) encodeControl(t domain.MessageType) []byte {
	return c.encode(domain.NewMessage(c.eventID, t, nil, c.clock.Now()))
}

func (c *Connection) encode(msg domain.Message) []byte {
	frame, err := msg.Encode()
	if err != nil {
		// Control frames are built from plain values and always encode.
		panic(fmt.Sprintf("encode %s frame: %v", msg.Type, err))
	}
	return frame
}
