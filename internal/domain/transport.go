package domain

import "context"

// CloseReason records why a connection left the Open state.
type CloseReason string

const (
	CloseTransportError    CloseReason = "transport_error"
	CloseHeartbeatTimeout  CloseReason = "heartbeat_timeout"
	CloseRateLimited       CloseReason = "rate_limited"
	CloseSlowConsumer      CloseReason = "slow_consumer"
	CloseEventEnded        CloseReason = "event_ended"
	CloseServerShutdown    CloseReason = "server_shutdown"
	CloseHandshakeRejected CloseReason = "handshake_rejected"
)

// Flushes reports whether frames still queued should be written before the
// transport is closed. Dead or stalled peers have their queue abandoned.
func (r CloseReason) Flushes() bool {
	switch r {
	case CloseRateLimited, CloseEventEnded, CloseServerShutdown, CloseHandshakeRejected:
		return true
	case CloseTransportError, CloseHeartbeatTimeout, CloseSlowConsumer:
		return false
	default:
		return false
	}
}

// Transport is one client's duplex channel. WriteFrame is only called from
// a single writer goroutine and ReadFrame from a single reader goroutine.
// Close must be safe to call concurrently and more than once, and must
// unblock pending reads and writes.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close(reason CloseReason) error
	RemoteAddr() string
}

// TokenVerifier resolves the opaque handshake token of an event into a role.
type TokenVerifier interface {
	Verify(ctx context.Context, eventID EventID, token string) (Role, error)
}

// ActionHandler forwards an authorised client action to the write layer,
// which performs the durable mutation and later calls the Notifier.
type ActionHandler interface {
	HandleAction(ctx context.Context, action Action) error
}

// Notifier is called by the write layer after a durable commit.
// Implementations never fail the caller; internal errors are logged and the
// message dropped.
type Notifier interface {
	Publish(eventID EventID, t MessageType, payload Payload)
	PublishToRole(eventID EventID, role Role, t MessageType, payload Payload)
}
