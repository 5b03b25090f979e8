package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// ActionStream receives authorised client actions for the write layer.
	ActionStream = "liveqa:actions"

	actionStreamMaxLen = 100_000
)

var _ domain.ActionHandler = (*ActionForwarder)(nil)

// ActionForwarder appends client actions to a Redis stream.
type ActionForwarder struct {
	rdb *goredis.Client
}

func NewActionForwarder(rdb *goredis.Client) *ActionForwarder {
	return &ActionForwarder{rdb: rdb}
}

func (f *ActionForwarder) HandleAction(ctx context.Context, action domain.Action) error {
	frame, err := json.Marshal(action.Frame)
	if err != nil {
		return fmt.Errorf("failed to encode action frame: %w", err)
	}

	err = f.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: ActionStream,
		MaxLen: actionStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":      string(action.EventID),
			"connection_id": action.ConnectionID,
			"role":          string(action.Role),
			"type":          string(action.Frame.Type),
			"frame":         string(frame),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to forward %s action: %w", action.Frame.Type, err)
	}
	return nil
}

// DecodeAction turns a stream entry back into an Action.
func DecodeAction(msg goredis.XMessage) (domain.Action, error) {
	field := func(key string) string {
		s, _ := msg.Values[key].(string)
		return s
	}

	var frame domain.ClientFrame
	if err := json.Unmarshal([]byte(field("frame")), &frame); err != nil {
		return domain.Action{}, fmt.Errorf("failed to decode action frame %s: %w", msg.ID, err)
	}
	return domain.Action{
		EventID:      domain.EventID(field("event_id")),
		ConnectionID: field("connection_id"),
		Role:         domain.Role(field("role")),
		Frame:        frame,
	}, nil
}
