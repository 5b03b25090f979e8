package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/metrics"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// joinAttempts bounds retries when a join races with a room being retired.
const joinAttempts = 3

// ConnectRequest describes an authenticated client about to join a room.
type ConnectRequest struct {
	EventID   domain.EventID
	Role      domain.Role
	Transport domain.Transport
}

// Broadcaster is the entry point used by the write layer and the transport
// handlers. It never blocks on delivery to clients.
type Broadcaster struct {
	registry *Registry
	clock    clockwork.Clock
	actions  domain.ActionHandler
	metrics  *metrics.LiveMetrics
}

var _ domain.Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster over registry. actions receives
// authorised client actions and may be nil, in which case action frames are
// answered with an error.
func NewBroadcaster(registry *Registry, actions domain.ActionHandler) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		clock:    registry.clock,
		actions:  actions,
		metrics:  registry.metrics,
	}
}

func (b *Broadcaster) Registry() *Registry { return b.registry }

// Publish fans a committed state change out to every member of the event's
// room. Invalid messages are logged and dropped.
func (b *Broadcaster) Publish(eventID domain.EventID, t domain.MessageType, payload domain.Payload) {
	b.publish(eventID, t, payload, Audience{})
}

// PublishToRole fans a state change out to members holding role only.
func (b *Broadcaster) PublishToRole(eventID domain.EventID, role domain.Role, t domain.MessageType, payload domain.Payload) {
	b.publish(eventID, t, payload, Audience{Role: role})
}

// SendTo delivers a message to a single connection of the event's room.
// Targeted messages are not sequenced.
func (b *Broadcaster) SendTo(eventID domain.EventID, connectionID string, t domain.MessageType, payload domain.Payload) {
	b.publish(eventID, t, payload, Audience{ConnectionID: connectionID})
}

func (b *Broadcaster) publish(eventID domain.EventID, t domain.MessageType, payload domain.Payload, audience Audience) {
	if err := domain.ValidatePayload(t, payload); err != nil {
		slog.Error("Dropping invalid message", "event_id", eventID, "type", t, "error", err)
		b.metrics.Dropped("invalid")
		return
	}
	if audience.ConnectionID == "" && !t.IsRoomEvent() {
		slog.Error("Dropping non-broadcast message type", "event_id", eventID, "type", t)
		b.metrics.Dropped("invalid")
		return
	}

	msg := domain.NewMessage(eventID, t, payload, b.clock.Now())
	var room *Room
	if audience.ConnectionID != "" {
		r, ok := b.registry.Lookup(eventID)
		if !ok {
			b.metrics.Dropped("no_room")
			return
		}
		room = r
	} else {
		room = b.registry.GetOrCreate(eventID)
	}

	if !room.PublishTo(msg, audience) {
		slog.Warn("Dropping message for closed room", "event_id", eventID, "type", t)
		b.metrics.Dropped("room_closed")
	}
}

// Connect creates a connection for req, joins it to the event's room and
// starts its reader and writer. The caller owns req.Transport until Connect
// succeeds.
func (b *Broadcaster) Connect(ctx context.Context, req ConnectRequest) (*Connection, error) {
	c := newConnection(ctx, req.EventID, req.Role, req.Transport, b.registry, b.actions)

	for range joinAttempts {
		err := b.registry.GetOrCreate(req.EventID).Join(c)
		if errors.Is(err, domain.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("join room %s: %w", req.EventID, err)
		}
		c.start()
		slog.InfoContext(c.ctx, "Connection opened", "role", c.role, "remote_addr", req.Transport.RemoteAddr())
		return c, nil
	}
	return nil, fmt.Errorf("join room %s: %w", req.EventID, domain.ErrRoomClosed)
}

// ConnectionCount returns the number of members of the event's room.
func (b *Broadcaster) ConnectionCount(eventID domain.EventID) int {
	r, ok := b.registry.Lookup(eventID)
	if !ok {
		return 0
	}
	return r.Count()
}

// RoomCount returns the number of registered rooms.
func (b *Broadcaster) RoomCount() int {
	return b.registry.Len()
}

// EndEvent closes every connection of the event with event_ended, flushing
// their queues, and removes the room. It reports whether a room existed.
func (b *Broadcaster) EndEvent(eventID domain.EventID) bool {
	r, ok := b.registry.retire(eventID)
	if !ok {
		return false
	}
	r.shutdown(domain.CloseEventEnded, nil)
	slog.Info("Event ended", "event_id", eventID)
	return true
}

// Stop closes every room with server_shutdown and waits, up to the
// configured stop timeout, for their connections to flush and close.
func (b *Broadcaster) Stop() {
	rooms := b.registry.retireAll()
	replies := make([]chan []*Connection, len(rooms))
	for i, r := range rooms {
		replies[i] = make(chan []*Connection, 1)
		r.shutdown(domain.CloseServerShutdown, replies[i])
	}

	timeout := b.clock.NewTimer(b.registry.settings.StopTimeout)
	defer timeout.Stop()

	var pending []*Connection
	for _, reply := range replies {
		select {
		case conns := <-reply:
			pending = append(pending, conns...)
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.registry.settings.StopTimeout)
			return
		}
	}
	for _, c := range pending {
		select {
		case <-c.Closed():
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.registry.settings.StopTimeout)
			return
		}
	}
	slog.Info("Broadcaster stopped gracefully", "rooms", len(rooms), "connections", len(pending))
}
