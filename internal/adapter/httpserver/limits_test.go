package httpserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func newTestLimits(cfg LimitsConfig) (*ConnectionLimits, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewConnectionLimits(clock, cfg), clock
}

func TestConnectionLimits_Global(t *testing.T) {
	limits, _ := newTestLimits(LimitsConfig{Global: 2, PerIP: 10, RatePerSecond: 100, Burst: 100})

	ok, _ := limits.Acquire("1.1.1.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("2.2.2.2")
	assert.True(t, ok)

	ok, reason := limits.Acquire("3.3.3.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	limits.Release("1.1.1.1")
	ok, _ = limits.Acquire("3.3.3.3")
	assert.True(t, ok)
	assert.Equal(t, int64(2), limits.Current())
}

func TestConnectionLimits_PerIPRollsBackGlobal(t *testing.T) {
	limits, _ := newTestLimits(LimitsConfig{Global: 10, PerIP: 1, RatePerSecond: 100, Burst: 100})

	ok, _ := limits.Acquire("1.1.1.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(1), limits.Current())
	assert.Equal(t, 1, limits.CountIP("1.1.1.1"))

	limits.Release("1.1.1.1")
	assert.Equal(t, 0, limits.CountIP("1.1.1.1"))
	assert.Equal(t, int64(0), limits.Current())
}

func TestConnectionLimits_RateRefillsWithClock(t *testing.T) {
	limits, clock := newTestLimits(LimitsConfig{Global: 100, PerIP: 100, RatePerSecond: 1, Burst: 2})

	for range 2 {
		ok, _ := limits.Acquire("1.1.1.1")
		assert.True(t, ok)
	}
	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	ok, _ = limits.Acquire("2.2.2.2")
	assert.True(t, ok, "other addresses have their own bucket")

	clock.Advance(time.Second)
	ok, _ = limits.Acquire("1.1.1.1")
	assert.True(t, ok)
}

func TestConnectionLimits_ForgetsIdleAddresses(t *testing.T) {
	limits, clock := newTestLimits(LimitsConfig{Global: 100, PerIP: 100, RatePerSecond: 1, Burst: 1})

	limits.Acquire("1.1.1.1")
	assert.Equal(t, 1, limits.trackedIPs())

	clock.Advance(limiterIdleExpiry + time.Minute)
	limits.Acquire("2.2.2.2")
	assert.Equal(t, 1, limits.trackedIPs())
}

func TestConnectionLimits_Concurrent(t *testing.T) {
	limits, _ := newTestLimits(LimitsConfig{Global: 50, PerIP: 1000, RatePerSecond: 1000, Burst: 1000})

	var granted atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := limits.Acquire("1.1.1.1"); ok {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), granted.Load())
	assert.Equal(t, int64(50), limits.Current())
}
