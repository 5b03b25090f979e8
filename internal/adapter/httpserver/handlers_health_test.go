package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleLiveness(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.clock.Advance(90 * time.Second)

	rec := env.do(t, http.MethodGet, "/health/live", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":90}`, rec.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthCheck
		status int
		body   string
	}{
		{
			name:   "no checks",
			status: http.StatusOK,
			body:   `{"status":"ready","checks":{}}`,
		},
		{
			name:   "redis healthy",
			checks: []HealthCheck{{Name: "redis", Check: healthOK}},
			status: http.StatusOK,
			body:   `{"status":"ready","checks":{"redis":"ok"}}`,
		},
		{
			name:   "redis down",
			checks: []HealthCheck{{Name: "redis", Check: healthErr("connection refused")}},
			status: http.StatusServiceUnavailable,
			body:   `{"status":"unhealthy","checks":{"redis":"connection refused"}}`,
		},
		{
			name: "every check is reported",
			checks: []HealthCheck{
				{Name: "redis", Check: healthOK},
				{Name: "notify_subscriber", Check: healthErr("not subscribed")},
			},
			status: http.StatusServiceUnavailable,
			body:   `{"status":"unhealthy","checks":{"redis":"ok","notify_subscriber":"not subscribed"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(), withHealthChecks(tt.checks...))

			rec := env.do(t, http.MethodGet, "/health/ready", nil, "")

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestHandleReadiness_ChecksShareDeadline(t *testing.T) {
	deadline := func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}
	env := newTestEnv(t, testConfig(), withHealthChecks(HealthCheck{Name: "redis", Check: deadline}))

	rec := env.do(t, http.MethodGet, "/health/ready", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleVersion(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodGet, "/version", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"build_time"`)
	assert.Contains(t, body, `"go_version"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.do(t, http.MethodGet, "/version", nil, "")

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `liveqa_http_requests_total{method="GET",route="/version",status_code="200"} 1`)
}
