package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/correlation"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

// NotifyChannel carries committed state changes from the write layer.
const NotifyChannel = "liveqa:notify"

var (
	errNotSubscribed = errors.New("notify subscriber not subscribed")
	errChannelClosed = errors.New("notify channel closed")
)

// ResubscribePolicy keeps a dropped subscription coming back until shutdown.
var ResubscribePolicy = retry.Policy{
	MaxAttempts:    math.MaxInt,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// Notification is the JSON body published on NotifyChannel.
type Notification struct {
	EventID domain.EventID     `json:"event_id"`
	Type    domain.MessageType `json:"type"`
	Payload domain.Payload     `json:"payload"`
	Role    domain.Role        `json:"role,omitempty"`
}

func (n Notification) validate() error {
	if n.EventID == "" {
		return fmt.Errorf("%w: event_id", domain.ErrMissingField)
	}
	if !n.Type.IsRoomEvent() {
		return fmt.Errorf("%w: %q is not broadcastable", domain.ErrUnknownMessageType, n.Type)
	}
	if n.Role != "" {
		if _, err := domain.ParseRole(string(n.Role)); err != nil {
			return err
		}
	}
	return domain.ValidatePayload(n.Type, n.Payload)
}

// NotifySubscriber feeds notifications from Redis into a domain.Notifier.
type NotifySubscriber struct {
	rdb        *goredis.Client
	notifier   domain.Notifier
	subscribed atomic.Bool
}

func NewNotifySubscriber(rdb *goredis.Client, notifier domain.Notifier) *NotifySubscriber {
	return &NotifySubscriber{rdb: rdb, notifier: notifier}
}

// Serve runs the subscription, resubscribing with p's backoff whenever it
// fails. It returns nil once ctx is cancelled.
func (s *NotifySubscriber) Serve(ctx context.Context, p retry.Policy) error {
	onRetry := p.OnRetry
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "Notify subscription lost, resubscribing", "attempt", attempt, "backoff", backoff, "error", err)
		if onRetry != nil {
			onRetry(attempt, err, backoff)
		}
	}

	err := retry.DoVoid(ctx, p, func(err error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		return retry.Retry
	}, s.Run)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Run subscribes and dispatches notifications until ctx is cancelled or the
// subscription fails.
func (s *NotifySubscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, NotifyChannel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", NotifyChannel, err)
	}
	s.subscribed.Store(true)
	defer s.subscribed.Store(false)
	slog.InfoContext(ctx, "Subscribed to notifications", "channel", NotifyChannel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errChannelClosed
			}
			s.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

// Ready is a readiness probe reporting whether the subscription is live.
func (s *NotifySubscriber) Ready(_ context.Context) error {
	if !s.subscribed.Load() {
		return errNotSubscribed
	}
	return nil
}

func (s *NotifySubscriber) handle(ctx context.Context, raw string) {
	var n Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		slog.WarnContext(ctx, "Dropping malformed notification", "error", err)
		return
	}
	ctx = correlation.WithEvent(ctx, string(n.EventID))
	if err := n.validate(); err != nil {
		slog.WarnContext(ctx, "Dropping invalid notification", "type", n.Type, "error", err)
		return
	}

	if n.Role != "" {
		s.notifier.PublishToRole(n.EventID, n.Role, n.Type, n.Payload)
	} else {
		s.notifier.Publish(n.EventID, n.Type, n.Payload)
	}
	slog.DebugContext(ctx, "Notification dispatched", "type", n.Type)
}

// PublishNotification is the write-layer side of NotifyChannel.
func PublishNotification(ctx context.Context, rdb *goredis.Client, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := rdb.Publish(ctx, NotifyChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
