package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

var _ client.Dialer = (*Dialer)(nil)

// Dialer opens live streams against a server's /ws/events endpoint.
type Dialer struct {
	baseURL string
	token   string
	header  http.Header
	dialer  *websocket.Dialer
}

// NewDialer accepts an http(s) or ws(s) base URL.
func NewDialer(baseURL, token string, header http.Header) *Dialer {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &Dialer{
		baseURL: base,
		token:   token,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (d *Dialer) URL(eventID domain.EventID) string {
	return fmt.Sprintf("%s/ws/events/%s?token=%s", d.baseURL, url.PathEscape(string(eventID)), url.QueryEscape(d.token))
}

func (d *Dialer) Dial(ctx context.Context, eventID domain.EventID) (client.Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.URL(eventID), d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", eventID, err)
	}
	return &Stream{conn: conn}, nil
}

// Stream is the client side of a live connection.
type Stream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Read blocks until the next message. Cancelling ctx does not interrupt a
// pending read; Close does.
func (s *Stream) Read(_ context.Context) (domain.Message, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return domain.Message{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return domain.Message{}, fmt.Errorf("decode message: %w", err)
		}
		return msg, nil
	}
}

func (s *Stream) Send(ctx context.Context, frame domain.ClientFrame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		err = s.conn.Close()
	})
	return err
}

// CloseStatus extracts the close code and text from a Read error.
func CloseStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}
