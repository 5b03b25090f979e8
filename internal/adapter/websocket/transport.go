package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

const (
	writeWait    = 5 * time.Second
	closeWait    = time.Second
	maxFrameSize = 4096
)

var _ domain.Transport = (*Conn)(nil)

// NewUpgrader returns the upgrader for the live endpoint.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// Conn adapts an accepted gorilla connection to domain.Transport.
type Conn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func NewConn(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(maxFrameSize)
	return &Conn{conn: conn}
}

// ReadFrame returns the next text or binary message.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *Conn) WriteFrame(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame carrying reason and closes the socket. Safe to
// call concurrently with WriteFrame, which it unblocks.
func (c *Conn) Close(reason domain.CloseReason) error {
	c.closeOnce.Do(func() {
		if code, ok := closeCode(reason); ok {
			msg := websocket.FormatCloseMessage(code, string(reason))
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		}
		if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// closeCode maps a close reason to a WebSocket close status. A broken
// transport gets no close frame.
func closeCode(reason domain.CloseReason) (int, bool) {
	switch reason {
	case domain.CloseEventEnded:
		return websocket.CloseNormalClosure, true
	case domain.CloseServerShutdown, domain.CloseHeartbeatTimeout:
		return websocket.CloseGoingAway, true
	case domain.CloseRateLimited, domain.CloseHandshakeRejected:
		return websocket.ClosePolicyViolation, true
	case domain.CloseSlowConsumer:
		return websocket.CloseTryAgainLater, true
	case domain.CloseTransportError:
		return 0, false
	default:
		return websocket.CloseNormalClosure, true
	}
}
