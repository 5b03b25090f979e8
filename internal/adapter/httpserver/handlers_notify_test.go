package httpserver

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	apperrors "github.com/nagpalvipin/slido-clone-sub000/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, body []byte) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestHandlePublish_RequiresSecret(t *testing.T) {
	env := newTestEnv(t, testConfig())
	body := map[string]any{"type": "question_deleted", "payload": map[string]any{"question_id": 1}}

	for _, secret := range []string{"", "wrong-secret"} {
		rec := env.do(t, http.MethodPost, "/internal/events/evt-1/messages", body, secret)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, apperrors.TypeUnauthorized, decodeError(t, rec.Body.Bytes()).Type)
	}
}

func TestHandlePublish_OpenWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.NotifySecret = ""
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodPost, "/internal/events/evt-1/messages",
		map[string]any{"type": "question_deleted", "payload": map[string]any{"question_id": 1}}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandlePublish_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown type", map[string]any{"type": "dance", "payload": map[string]any{}}},
		{"control type", map[string]any{"type": "ping", "payload": map[string]any{}}},
		{"missing field", map[string]any{"type": "question_upvoted", "payload": map[string]any{"question_id": 1}}},
		{"reserved field", map[string]any{"type": "question_deleted", "payload": map[string]any{"question_id": 1, "seq": 3}}},
		{"unknown role", map[string]any{"type": "question_deleted", "payload": map[string]any{"question_id": 1}, "role": "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			rec := env.do(t, http.MethodPost, "/internal/events/evt-1/messages", tt.body, testNotifySecret)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, apperrors.TypeValidation, decodeError(t, rec.Body.Bytes()).Type)
		})
	}
}

func TestHandlePublish_ToRole(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ts := env.listen(t)
	attendee := dialEvent(t, ts, "evt-1", "attendee-session")
	host := dialEvent(t, ts, "evt-1", "host-code")
	readMessage(t, attendee)
	readMessage(t, host)

	rec := env.do(t, http.MethodPost, "/internal/events/evt-1/messages", map[string]any{
		"type":    "poll_results_updated",
		"payload": map[string]any{"poll_id": 1, "options": []any{}},
		"role":    "host",
	}, testNotifySecret)
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, domain.TypePollResultsUpdated, readMessage(t, host).Type)

	rec = env.do(t, http.MethodPost, "/internal/events/evt-1/messages", map[string]any{
		"type":    "question_deleted",
		"payload": map[string]any{"question_id": 9},
	}, testNotifySecret)
	require.Equal(t, http.StatusAccepted, rec.Code)
	// The attendee's next frame is the broadcast, not the host-only update.
	assert.Equal(t, domain.TypeQuestionDeleted, readMessage(t, attendee).Type)
}

func TestHandleEndEvent(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/internal/events/evt-1/end", nil, testNotifySecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts := env.listen(t)
	stream := dialEvent(t, ts, "evt-1", "attendee-session")
	readMessage(t, stream)

	rec = env.do(t, http.MethodPost, "/internal/events/evt-1/end", nil, testNotifySecret)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assertClosedWith(t, stream, domain.CloseEventEnded)
}

func TestHandleConnections(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ts := env.listen(t)
	readMessage(t, dialEvent(t, ts, "evt-1", "attendee-session"))
	readMessage(t, dialEvent(t, ts, "evt-1", "host-code"))

	rec := env.do(t, http.MethodGet, "/internal/events/evt-1/connections", nil, testNotifySecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"event_id":"evt-1","connections":2}`, rec.Body.String())
}
