package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLiveMetrics_NilIsNoop(t *testing.T) {
	var m *LiveMetrics

	assert.NotPanics(t, func() {
		m.RoomOpened()
		m.RoomClosed()
		m.ConnectionOpened()
		m.ConnectionClosed("event_ended")
		m.Published("question_created", time.Millisecond)
		m.Dropped("invalid")
		m.Delivered(time.Millisecond)
		m.RateLimited()
		m.ActionForwarded("ok")
	})
}

func TestLiveMetrics_Records(t *testing.T) {
	m := NewLiveMetrics(prometheus.NewRegistry())

	m.RoomOpened()
	m.RoomOpened()
	m.RoomClosed()
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveRooms), 0)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed("slow_consumer")
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveConnections), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues("slow_consumer")), 0)

	m.Published("question_upvoted", 2*time.Millisecond)
	m.Published("question_upvoted", time.Millisecond)
	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("question_upvoted")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FanOutDuration))

	m.Dropped("room_closed")
	m.RateLimited()
	m.ActionForwarded("error")
	m.Delivered(time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("room_closed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimitedFrames), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActionsForwarded.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FramesDelivered), 0)
}

func TestLiveMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewLiveMetrics(reg)
	assert.Panics(t, func() { NewLiveMetrics(reg) })
}
