package broadcast

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

const roomCommandBuffer = 256

// roomCmd is the command interface for the Room actor.
type roomCmd interface{ isRoomCmd() }

type baseRoomCmd struct{}

func (baseRoomCmd) isRoomCmd() {}

type joinCmd struct {
	baseRoomCmd
	conn  *Connection
	reply chan error
}

type leaveCmd struct {
	baseRoomCmd
	conn *Connection
}

type publishCmd struct {
	baseRoomCmd
	msg      domain.Message
	audience Audience
}

type countCmd struct {
	baseRoomCmd
	reply chan int
}

type graceExpiredCmd struct {
	baseRoomCmd
	generation uint64
}

type closeCmd struct {
	baseRoomCmd
	reason domain.CloseReason
	closed chan []*Connection
}

// Audience narrows a publish to part of a room. The zero value is everyone.
type Audience struct {
	Role         domain.Role
	ConnectionID string
}

func (a Audience) includes(c *Connection) bool {
	if a.ConnectionID != "" && a.ConnectionID != c.id {
		return false
	}
	return a.Role == "" || a.Role == c.role
}

// Room is the set of connections subscribed to one event. All member state
// is owned by the run goroutine and mutated only through commands.
type Room struct {
	eventID  domain.EventID
	registry *Registry
	clock    clockwork.Clock
	settings Settings

	cmdCh chan roomCmd
	done  chan struct{}

	// size mirrors len(members) for the registry's emptiness check.
	size    atomic.Int64
	retired atomic.Bool

	// Owned by run.
	members    map[string]*Connection
	seq        uint64
	lastStamp  time.Time
	graceTimer clockwork.Timer
	graceGen   uint64
}

func newRoom(eventID domain.EventID, registry *Registry) *Room {
	r := &Room{
		eventID:  eventID,
		registry: registry,
		clock:    registry.clock,
		settings: registry.settings,
		cmdCh:    make(chan roomCmd, roomCommandBuffer),
		done:     make(chan struct{}),
		members:  make(map[string]*Connection),
	}
	go r.run()
	return r
}

func (r *Room) EventID() domain.EventID { return r.eventID }

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Join adds c to the room. A connection can belong to at most one room.
// Returns domain.ErrRoomClosed if the room is being torn down; callers
// should fetch a fresh room from the registry and retry.
func (r *Room) Join(c *Connection) error {
	reply := make(chan error, 1)
	if !r.send(joinCmd{conn: c, reply: reply}) {
		return domain.ErrRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrRoomClosed
		}
	}
}

// Leave removes c. Leaving a room c is not a member of is a no-op.
func (r *Room) Leave(c *Connection) {
	r.send(leaveCmd{conn: c})
}

// Publish fans msg out to every member. It returns once the message is
// queued to the room, without waiting for delivery.
func (r *Room) Publish(msg domain.Message) bool {
	return r.PublishTo(msg, Audience{})
}

func (r *Room) PublishTo(msg domain.Message, audience Audience) bool {
	return r.send(publishCmd{msg: msg, audience: audience})
}

// Count returns the number of members, or 0 if the room has closed.
func (r *Room) Count() int {
	reply := make(chan int, 1)
	if !r.send(countCmd{reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-r.done:
		return 0
	}
}

// shutdown closes every member with reason and stops the room. When closed
// is non-nil it receives the members that were closed.
func (r *Room) shutdown(reason domain.CloseReason, closed chan []*Connection) {
	if !r.send(closeCmd{reason: reason, closed: closed}) && closed != nil {
		closed <- nil
	}
}

func (r *Room) send(cmd roomCmd) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) run() {
	defer close(r.done)
	defer r.disarmGrace()

	// A room created by a publish has no members yet.
	r.armGrace()

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case joinCmd:
			c.reply <- r.handleJoin(c.conn)
		case leaveCmd:
			r.handleLeave(c.conn)
		case publishCmd:
			r.handlePublish(c.msg, c.audience)
		case countCmd:
			c.reply <- len(r.members)
		case graceExpiredCmd:
			if r.handleGraceExpired(c.generation) {
				return
			}
		case closeCmd:
			r.handleClose(c.reason, c.closed)
			return
		default:
			panic(fmt.Sprintf("room: unknown command %T", cmd))
		}
	}
}

func (r *Room) handleJoin(c *Connection) error {
	if limit := r.settings.MaxRoomConnections; limit > 0 && len(r.members) >= limit {
		return domain.ErrRoomFull
	}

	// Publish size before checking retired so that a concurrent retireIfEmpty
	// either sees this member or this join sees the retirement.
	r.size.Add(1)
	if r.retired.Load() {
		r.size.Add(-1)
		return domain.ErrRoomClosed
	}
	if !c.room.CompareAndSwap(nil, r) {
		r.size.Add(-1)
		return domain.ErrAlreadyJoined
	}

	r.members[c.id] = c
	r.disarmGrace()

	established := domain.NewMessage(r.eventID, domain.TypeConnectionEstablished, domain.Payload{
		"client_id":   c.id,
		"role":        c.role,
		"last_seq":    r.seq,
		"connections": len(r.members),
	}, r.clock.Now())
	c.Enqueue(established)

	slog.DebugContext(c.ctx, "Connection joined room", "members", len(r.members))
	return nil
}

func (r *Room) handleLeave(c *Connection) {
	if r.members[c.id] != c {
		return
	}
	r.removeMember(c)
	slog.DebugContext(c.ctx, "Connection left room", "members", len(r.members))
}

func (r *Room) removeMember(c *Connection) {
	delete(r.members, c.id)
	r.size.Add(-1)
	if len(r.members) == 0 {
		r.armGrace()
	}
}

func (r *Room) handlePublish(msg domain.Message, audience Audience) {
	if audience.ConnectionID == "" && msg.Type.IsRoomEvent() {
		r.seq++
		msg = msg.Stamped(r.nextStamp(msg.Timestamp), r.seq)
	} else if msg.Timestamp.IsZero() {
		msg.Timestamp = r.clock.Now()
	}

	frame, err := msg.Encode()
	if err != nil {
		slog.Error("Dropping unencodable message", "event_id", r.eventID, "type", msg.Type, "error", err)
		r.registry.metrics.Dropped("encode")
		return
	}

	start := r.clock.Now()
	if audience.ConnectionID != "" {
		r.deliverTo(audience, frame)
		r.registry.metrics.Published(string(msg.Type), r.clock.Since(start))
		return
	}

	var gone []*Connection
	for _, c := range r.members {
		if !audience.includes(c) {
			continue
		}
		if !c.enqueueFrame(frame) {
			gone = append(gone, c)
		}
	}
	// Overflowing members were closed by enqueueFrame; drop them now rather
	// than waiting for their writer to send a leave.
	for _, c := range gone {
		r.removeMember(c)
	}
	r.registry.metrics.Published(string(msg.Type), r.clock.Since(start))
}

// deliverTo enqueues frame for the single member named by audience. Unknown
// connections are ignored.
func (r *Room) deliverTo(audience Audience, frame []byte) {
	c, ok := r.members[audience.ConnectionID]
	if !ok || !audience.includes(c) {
		return
	}
	if !c.enqueueFrame(frame) {
		r.removeMember(c)
	}
}

// nextStamp returns ts, bumped past the previous room event if needed so that
// timestamps within a room strictly increase.
func (r *Room) nextStamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = r.clock.Now()
	}
	if !ts.After(r.lastStamp) {
		ts = r.lastStamp.Add(time.Nanosecond)
	}
	r.lastStamp = ts
	return ts
}

func (r *Room) handleGraceExpired(generation uint64) bool {
	if generation != r.graceGen || len(r.members) > 0 {
		return false
	}
	if !r.registry.retireIfEmpty(r) {
		return false
	}
	slog.Debug("Room grace period expired", "event_id", r.eventID)
	return true
}

func (r *Room) handleClose(reason domain.CloseReason, closed chan []*Connection) {
	members := make([]*Connection, 0, len(r.members))
	for _, c := range r.members {
		members = append(members, c)
	}
	for _, c := range members {
		c.Close(reason)
		delete(r.members, c.id)
		r.size.Add(-1)
	}
	if closed != nil {
		closed <- members
	}
	if len(members) > 0 {
		slog.Info("Room closed", "event_id", r.eventID, "reason", reason, "members", len(members))
	}
}

// armGrace starts the empty-room timer. Any earlier timer is invalidated.
func (r *Room) armGrace() {
	r.disarmGrace()
	generation := r.graceGen
	r.graceTimer = r.clock.AfterFunc(r.settings.RoomGrace, func() {
		r.send(graceExpiredCmd{generation: generation})
	})
}

func (r *Room) disarmGrace() {
	r.graceGen++
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}
