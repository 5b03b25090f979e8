package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/broadcast"
	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fullRoom struct {
	*broadcast.Broadcaster
}

func (fullRoom) Connect(context.Context, broadcast.ConnectRequest) (*broadcast.Connection, error) {
	return nil, fmt.Errorf("join room: %w", domain.ErrRoomFull)
}

func TestHandleWebSocket_Established(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ts := env.listen(t)

	stream := dialEvent(t, ts, "evt-1", "host-code")

	msg := readMessage(t, stream)
	assert.Equal(t, domain.TypeConnectionEstablished, msg.Type)
	assert.Equal(t, domain.EventID("evt-1"), msg.EventID)
	assert.Equal(t, "host", msg.Payload["role"])
	assert.NotEmpty(t, msg.Payload["client_id"])
	assert.Equal(t, 1, env.broadcaster.ConnectionCount("evt-1"))
}

func TestHandleWebSocket_InvalidToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ts := env.listen(t)

	stream := dialEvent(t, ts, "evt-1", "wrong")

	msg := readMessage(t, stream)
	assert.Equal(t, domain.TypeError, msg.Type)
	assert.Equal(t, string(domain.CodeUnauthorized), msg.Payload["code"])
	assertClosedWith(t, stream, domain.CloseHandshakeRejected)
	assert.Equal(t, 0, env.broadcaster.ConnectionCount("evt-1"))
	assert.Equal(t, int64(0), env.server.limits.Current())
}

func TestHandleWebSocket_PerIPLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	env := newTestEnv(t, cfg)
	ts := env.listen(t)

	first := dialEvent(t, ts, "evt-1", "attendee-session")
	readMessage(t, first)

	second := dialEvent(t, ts, "evt-1", "attendee-session")
	msg := readMessage(t, second)
	assert.Equal(t, string(domain.CodeConnectionLimit), msg.Payload["code"])
	assertClosedWith(t, second, domain.CloseHandshakeRejected)

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return env.server.limits.Current() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_RoomFull(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ts := env.listen(t)
	env.server.live = fullRoom{env.broadcaster}

	stream := dialEvent(t, ts, "evt-1", "attendee-session")
	msg := readMessage(t, stream)
	assert.Equal(t, string(domain.CodeRoomFull), msg.Payload["code"])
	assertClosedWith(t, stream, domain.CloseHandshakeRejected)
}

func TestHandleWebSocket_ReceivesIngressPublish(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ts := env.listen(t)

	attendee := dialEvent(t, ts, "evt-1", "attendee-session")
	host := dialEvent(t, ts, "evt-1", "host-code")
	readMessage(t, attendee)
	readMessage(t, host)

	rec := env.do(t, http.MethodPost, "/internal/events/evt-1/messages", map[string]any{
		"type":    "question_created",
		"payload": map[string]any{"question": map[string]any{"id": 42, "text": "X"}},
	}, testNotifySecret)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/internal/events/evt-1/messages", map[string]any{
		"type":    "question_upvoted",
		"payload": map[string]any{"question_id": 42, "upvote_count": 1},
	}, testNotifySecret)
	require.Equal(t, http.StatusAccepted, rec.Code)

	for _, stream := range []client.Stream{attendee, host} {
		created := readMessage(t, stream)
		assert.Equal(t, domain.TypeQuestionCreated, created.Type)
		assert.Equal(t, domain.EventID("evt-1"), created.EventID)
		upvoted := readMessage(t, stream)
		assert.Equal(t, domain.TypeQuestionUpvoted, upvoted.Type)
		assert.Greater(t, upvoted.Seq, created.Seq)
	}
}
