package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/broadcast"
	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNotifySecret = "notify-secret-for-tests"

type staticVerifier map[string]domain.Role

func (v staticVerifier) Verify(_ context.Context, _ domain.EventID, token string) (domain.Role, error) {
	role, ok := v[token]
	if !ok {
		return "", domain.ErrInvalidToken
	}
	return role, nil
}

type testEnv struct {
	server      *Server
	broadcaster *broadcast.Broadcaster
	clock       *clockwork.FakeClock
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "development",
		Port:                    "0",
		NotifySecret:            testNotifySecret,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRatePerSecond: 100,
		ConnectionRateBurst:     100,
	}
}

func newTestEnv(t *testing.T, cfg *config.Config, opts ...func(*Deps)) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClock()
	registry := broadcast.NewRegistry(clock, broadcast.DefaultSettings(), nil)
	b := broadcast.NewBroadcaster(registry, nil)
	t.Cleanup(b.Stop)

	deps := Deps{
		Live:     b,
		Verifier: staticVerifier{"host-code": domain.RoleHost, "attendee-session": domain.RoleAttendee},
		Registry: prometheus.NewRegistry(),
		Clock:    clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &testEnv{server: NewServer(cfg, deps), broadcaster: b, clock: clock}
}

func withHealthChecks(checks ...HealthCheck) func(*Deps) {
	return func(d *Deps) {
		d.HealthChecks = checks
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, secret string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(notifySecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) listen(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialEvent(t *testing.T, ts *httptest.Server, eventID domain.EventID, token string) client.Stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := websocket.NewDialer(ts.URL, token, nil).Dial(ctx, eventID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })
	return stream
}

func readMessage(t *testing.T, stream client.Stream) domain.Message {
	t.Helper()
	type result struct {
		msg domain.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := stream.Read(context.Background())
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading message")
		return domain.Message{}
	}
}

func assertClosedWith(t *testing.T, stream client.Stream, reason domain.CloseReason) {
	t.Helper()
	_, err := stream.Read(context.Background())
	_, text, ok := websocket.CloseStatus(err)
	require.True(t, ok, "expected close frame, got %v", err)
	assert.Equal(t, string(reason), text)
}
