package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport records written frames and feeds inbound frames to the reader.
type fakeTransport struct {
	inbound chan []byte
	written chan []byte
	stall   bool

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	reason    domain.CloseReason
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		written: make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

// newStalledTransport never completes a write until it is closed.
func newStalledTransport() *fakeTransport {
	f := newFakeTransport()
	f.stall = true
	return f
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.closed:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	if f.stall {
		<-f.closed
		return errTransportClosed
	}
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.written <- frame
	return nil
}

func (f *fakeTransport) Close(reason domain.CloseReason) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:5555" }

func (f *fakeTransport) closeReason() domain.CloseReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.inbound <- data
}

// next returns the next written message, skipping server pings.
func (f *fakeTransport) next(t *testing.T) domain.Message {
	t.Helper()
	for {
		select {
		case frame := <-f.written:
			var msg domain.Message
			require.NoError(t, json.Unmarshal(frame, &msg))
			if msg.Type == domain.TypePing {
				continue
			}
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
			return domain.Message{}
		}
	}
}

// nextOfType skips frames until one of type t arrives.
func (f *fakeTransport) nextOfType(t *testing.T, typ domain.MessageType) domain.Message {
	t.Helper()
	for {
		msg := f.next(t)
		if msg.Type == typ {
			return msg
		}
	}
}

func (f *fakeTransport) assertNoFrame(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.written:
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeActions records forwarded actions.
type fakeActions struct {
	mu      sync.Mutex
	actions []domain.Action
	err     error
}

func (a *fakeActions) HandleAction(_ context.Context, action domain.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return a.err
}

func (a *fakeActions) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.actions)
}

func (a *fakeActions) last() domain.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actions[len(a.actions)-1]
}

func testSettings() Settings {
	s := DefaultSettings()
	s.QueueSize = 16
	return s
}

func newTestBroadcaster(t *testing.T, settings Settings, actions domain.ActionHandler) (*Broadcaster, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	b := NewBroadcaster(NewRegistry(clock, settings, nil), actions)
	t.Cleanup(b.Stop)
	return b, clock
}

func connect(t *testing.T, b *Broadcaster, eventID domain.EventID, role domain.Role) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c, err := b.Connect(context.Background(), ConnectRequest{EventID: eventID, Role: role, Transport: tr})
	require.NoError(t, err)
	established := tr.next(t)
	require.Equal(t, domain.TypeConnectionEstablished, established.Type)
	return c, tr
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, waiters))
}

func questionPayload(id int) domain.Payload {
	return domain.Payload{"question": map[string]any{"id": id, "text": "q"}}
}
