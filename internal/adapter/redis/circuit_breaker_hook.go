package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// BreakerSettings tunes when the Redis circuit opens and how long it stays open.
type BreakerSettings struct {
	// FailureRate in (0,1] trips the breaker once at least MinExecutions
	// commands ran within Window.
	FailureRate   float64
	MinExecutions uint
	Window        time.Duration
	// Delay is how long the breaker stays open before letting a trial command through.
	Delay time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureRate:   0.6,
		MinExecutions: 5,
		Window:        10 * time.Second,
		Delay:         30 * time.Second,
	}
}

// CircuitBreakerHook fails Redis commands fast while Redis is unhealthy, so
// handshakes and action forwarding don't each wait out a timeout. Open-circuit
// errors wrap circuitbreaker.ErrOpen.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook builds the hook. m may be nil.
func NewCircuitBreakerHook(settings BreakerSettings, m *metrics.RedisMetrics) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(settings.FailureRate, settings.MinExecutions, settings.Window).
		WithDelay(settings.Delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Redis circuit breaker state changed", "from", e.OldState.String(), "to", e.NewState.String())
			if m != nil {
				label, value := breakerState(e.NewState)
				m.BreakerTransitions.WithLabelValues(label).Inc()
				m.BreakerState.Set(value)
			}
		}).
		Build()
	return &CircuitBreakerHook{cb: cb}
}

// breakerState maps a state to its metric label and gauge value.
func breakerState(state circuitbreaker.State) (string, float64) {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed", 0
	case circuitbreaker.HalfOpenState:
		return "half_open", 1
	case circuitbreaker.OpenState:
		return "open", 2
	default:
		return "unknown", -1
	}
}

func (h *CircuitBreakerHook) State() circuitbreaker.State { return h.cb.State() }

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis circuit breaker open, dial %s: %w", addr, circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		h.record(err)
		return conn, err
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis circuit breaker open, %s: %w", cmd.Name(), circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmd)
		h.record(err)
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis circuit breaker open, pipeline: %w", circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmds)
		h.record(err)
		return err
	}
}

// record counts err against Redis health. A missing key and a caller that
// gave up are not Redis failures.
func (h *CircuitBreakerHook) record(err error) {
	if err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
		h.cb.RecordSuccess()
		return
	}
	h.cb.RecordError(err)
}
