package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upvote(id int) map[string]any {
	return map[string]any{"type": "upvote_question", "question_id": id}
}

func TestConnection_RateLimitRejectsEleventhFrame(t *testing.T) {
	actions := &fakeActions{}
	b, _ := newTestBroadcaster(t, testSettings(), actions)
	c, tr := connect(t, b, "evt", domain.RoleAttendee)

	for i := range 10 {
		tr.sendJSON(t, upvote(i))
	}
	assert.Eventually(t, func() bool { return actions.count() == 10 }, time.Second, 5*time.Millisecond)

	tr.sendJSON(t, upvote(11))
	msg := tr.nextOfType(t, domain.TypeError)
	assert.Equal(t, string(domain.CodeRateLimitExceeded), msg.Payload["code"])
	assert.InDelta(t, 6.0, msg.Payload["retry_after"], 0)
	assert.Equal(t, 10, actions.count())
	assert.Equal(t, StateOpen, c.State())
}

func TestConnection_RepeatedRateLimitCloses(t *testing.T) {
	b, _ := newTestBroadcaster(t, testSettings(), &fakeActions{})
	c, tr := connect(t, b, "evt", domain.RoleAttendee)

	for i := range 13 {
		tr.sendJSON(t, upvote(i))
	}

	for range 3 {
		msg := tr.nextOfType(t, domain.TypeError)
		assert.Equal(t, string(domain.CodeRateLimitExceeded), msg.Payload["code"])
	}
	<-c.Closed()
	assert.Equal(t, domain.CloseRateLimited, c.CloseReason())
}

func TestConnection_RateLimitRefills(t *testing.T) {
	actions := &fakeActions{}
	b, clock := newTestBroadcaster(t, testSettings(), actions)
	_, tr := connect(t, b, "evt", domain.RoleAttendee)

	for i := range 10 {
		tr.sendJSON(t, upvote(i))
	}
	assert.Eventually(t, func() bool { return actions.count() == 10 }, time.Second, 5*time.Millisecond)

	clock.Advance(6 * time.Second)
	tr.sendJSON(t, upvote(10))
	assert.Eventually(t, func() bool { return actions.count() == 11 }, time.Second, 5*time.Millisecond)
}

func TestConnection_HostHasHigherLimit(t *testing.T) {
	actions := &fakeActions{}
	b, _ := newTestBroadcaster(t, testSettings(), actions)
	_, tr := connect(t, b, "evt", domain.RoleHost)

	for i := range 30 {
		tr.sendJSON(t, upvote(i))
	}
	assert.Eventually(t, func() bool { return actions.count() == 30 }, time.Second, 5*time.Millisecond)
}

func TestConnection_HeartbeatFramesAreNotRateLimited(t *testing.T) {
	actions := &fakeActions{}
	b, _ := newTestBroadcaster(t, testSettings(), actions)
	_, tr := connect(t, b, "evt", domain.RoleAttendee)

	for range 20 {
		tr.sendJSON(t, map[string]any{"type": "pong"})
	}
	tr.sendJSON(t, map[string]any{"type": "ping"})
	msg := tr.next(t)
	assert.Equal(t, domain.TypePong, msg.Type)

	tr.sendJSON(t, upvote(1))
	assert.Eventually(t, func() bool { return actions.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnection_PingFloodQueuesSinglePong(t *testing.T) {
	settings := testSettings()
	settings.QueueSize = 4
	actions := &fakeActions{}
	b, _ := newTestBroadcaster(t, settings, actions)

	stalled := newStalledTransport()
	c, err := b.Connect(context.Background(), ConnectRequest{EventID: "evt", Role: domain.RoleAttendee, Transport: stalled})
	require.NoError(t, err)

	for range 50 {
		stalled.sendJSON(t, map[string]any{"type": "ping"})
	}
	// The reader handles frames in order, so once the action arrives every
	// ping before it has been processed.
	stalled.sendJSON(t, upvote(1))
	assert.Eventually(t, func() bool { return actions.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateOpen, c.State())
	assert.Empty(t, c.CloseReason())
}

func TestConnection_ForwardsActions(t *testing.T) {
	actions := &fakeActions{}
	b, _ := newTestBroadcaster(t, testSettings(), actions)
	c, tr := connect(t, b, "evt", domain.RoleHost)

	tr.sendJSON(t, map[string]any{"type": "answer_question", "question_id": "q-1", "is_answered": true})
	assert.Eventually(t, func() bool { return actions.count() == 1 }, time.Second, 5*time.Millisecond)

	got := actions.last()
	assert.Equal(t, domain.EventID("evt"), got.EventID)
	assert.Equal(t, c.ID(), got.ConnectionID)
	assert.Equal(t, domain.RoleHost, got.Role)
	assert.Equal(t, domain.FrameAnswerQuestion, got.Frame.Type)
	assert.Equal(t, domain.RefID("q-1"), got.Frame.QuestionID)
	require.NotNil(t, got.Frame.IsAnswered)
	assert.True(t, *got.Frame.IsAnswered)
}

func TestConnection_RejectsHostActionFromAttendee(t *testing.T) {
	actions := &fakeActions{}
	b, _ := newTestBroadcaster(t, testSettings(), actions)
	_, tr := connect(t, b, "evt", domain.RoleAttendee)

	tr.sendJSON(t, map[string]any{"type": "delete_question", "question_id": 3})

	msg := tr.nextOfType(t, domain.TypeError)
	assert.Equal(t, string(domain.CodeUnauthorized), msg.Payload["code"])
	assert.Zero(t, actions.count())
}

func TestConnection_InvalidFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"not json", []byte("{nope")},
		{"missing type", []byte(`{"question_id":1}`)},
		{"unknown type", []byte(`{"type":"dance"}`)},
		{"missing field", []byte(`{"type":"poll_vote","poll_id":1}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBroadcaster(t, testSettings(), &fakeActions{})
			c, tr := connect(t, b, "evt", domain.RoleAttendee)

			tr.inbound <- tt.frame

			msg := tr.nextOfType(t, domain.TypeError)
			assert.Equal(t, string(domain.CodeInvalidMessage), msg.Payload["code"])
			assert.Equal(t, StateOpen, c.State())
		})
	}
}

func TestConnection_ActionFailure(t *testing.T) {
	b, _ := newTestBroadcaster(t, testSettings(), &fakeActions{err: errors.New("stream unavailable")})
	_, tr := connect(t, b, "evt", domain.RoleAttendee)

	tr.sendJSON(t, map[string]any{"type": "poll_vote", "poll_id": 1, "option_id": 2})

	msg := tr.nextOfType(t, domain.TypeError)
	assert.Equal(t, string(domain.CodeActionFailed), msg.Payload["code"])
}

func TestConnection_ActionsUnsupportedWithoutHandler(t *testing.T) {
	b, _ := newTestBroadcaster(t, testSettings(), nil)
	_, tr := connect(t, b, "evt", domain.RoleAttendee)

	tr.sendJSON(t, upvote(1))

	msg := tr.nextOfType(t, domain.TypeError)
	assert.Equal(t, string(domain.CodeInvalidMessage), msg.Payload["code"])
}

func TestConnection_HeartbeatTimeout(t *testing.T) {
	b, clock := newTestBroadcaster(t, testSettings(), nil)
	c, tr := connect(t, b, "evt", domain.RoleAttendee)
	blockUntil(t, clock, 2)

	clock.Advance(45 * time.Second)

	<-c.Closed()
	assert.Equal(t, domain.CloseHeartbeatTimeout, c.CloseReason())
	assert.Equal(t, domain.CloseHeartbeatTimeout, tr.closeReason())
}

func TestConnection_PongKeepsConnectionAlive(t *testing.T) {
	b, clock := newTestBroadcaster(t, testSettings(), nil)
	c, tr := connect(t, b, "evt", domain.RoleAttendee)
	blockUntil(t, clock, 2)

	clock.Advance(30 * time.Second)
	ping := <-tr.written
	assert.Contains(t, string(ping), `"type":"ping"`)

	tr.sendJSON(t, map[string]any{"type": "pong"})
	assert.Eventually(t, func() bool { return c.idle() == 0 }, time.Second, 5*time.Millisecond)

	clock.Advance(15 * time.Second)
	blockUntil(t, clock, 2)
	assert.Equal(t, StateOpen, c.State())
}

func TestConnection_TransportErrorCloses(t *testing.T) {
	b, _ := newTestBroadcaster(t, testSettings(), nil)
	c, tr := connect(t, b, "evt", domain.RoleAttendee)

	require.NoError(t, tr.Close(domain.CloseTransportError))

	<-c.Closed()
	assert.Equal(t, domain.CloseTransportError, c.CloseReason())
	assert.Eventually(t, func() bool { return b.ConnectionCount("evt") == 0 }, time.Second, 5*time.Millisecond)
}

func TestConnection_EnqueueAfterCloseIsRejected(t *testing.T) {
	b, _ := newTestBroadcaster(t, testSettings(), nil)
	c, _ := connect(t, b, "evt", domain.RoleAttendee)

	c.Close(domain.CloseServerShutdown)
	c.Close(domain.CloseTransportError)

	assert.False(t, c.Enqueue(domain.NewMessage("evt", domain.TypePing, nil, time.Now())))
	assert.Equal(t, domain.CloseServerShutdown, c.CloseReason())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
