package client

import (
	"testing"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func roomEvent(id int, ts time.Time) domain.Message {
	return domain.NewMessage("evt", domain.TypeQuestionDeleted, domain.Payload{"question_id": id}, ts)
}

func TestReconciler_DiscardsMessagesOlderThanSnapshot(t *testing.T) {
	r := NewReconciler()
	r.Begin()

	t1, t2, t3 := t0, t0.Add(time.Second), t0.Add(3*time.Second)
	assert.Empty(t, r.Offer(roomEvent(1, t1)))
	assert.Empty(t, r.Offer(roomEvent(2, t2)))
	assert.Empty(t, r.Offer(roomEvent(3, t3)))

	replay := r.Complete(t0.Add(2 * time.Second))
	require.Len(t, replay, 1)
	assert.Equal(t, t3, replay[0].Timestamp)
	assert.Equal(t, 2, r.Discarded())
	assert.False(t, r.Buffering())
}

func TestReconciler_EqualTimestampIsDiscarded(t *testing.T) {
	r := NewReconciler()
	r.Begin()
	r.Offer(roomEvent(1, t0))

	assert.Empty(t, r.Complete(t0))
}

func TestReconciler_ReplaysInArrivalOrder(t *testing.T) {
	r := NewReconciler()
	r.Begin()
	for i := 1; i <= 3; i++ {
		r.Offer(roomEvent(i, t0.Add(time.Duration(i)*time.Second)))
	}

	replay := r.Complete(t0)
	require.Len(t, replay, 3)
	for i, msg := range replay {
		assert.InDelta(t, float64(i+1), msg.Payload["question_id"], 0)
	}
}

func TestReconciler_LiveDuplicatesDropped(t *testing.T) {
	r := NewReconciler()

	assert.Len(t, r.Offer(roomEvent(1, t0.Add(time.Second))), 1)
	assert.Empty(t, r.Offer(roomEvent(1, t0.Add(time.Second))))
	assert.Empty(t, r.Offer(roomEvent(0, t0)))
	assert.Len(t, r.Offer(roomEvent(2, t0.Add(2*time.Second))), 1)
}

func TestReconciler_ControlMessagesPassThrough(t *testing.T) {
	r := NewReconciler()
	r.Begin()

	established := domain.NewMessage("evt", domain.TypeConnectionEstablished, domain.Payload{"client_id": "c", "role": "attendee"}, t0)
	assert.Len(t, r.Offer(established), 1)
	assert.True(t, r.Buffering())
}

func TestReconciler_BeginDropsAbandonedBuffer(t *testing.T) {
	r := NewReconciler()
	r.Begin()
	r.Offer(roomEvent(1, t0.Add(time.Hour)))

	r.Begin()
	assert.Empty(t, r.Complete(t0))
}
