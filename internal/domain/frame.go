package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FrameType is the tagged variant of a client-to-server control frame.
type FrameType string

const (
	FramePong           FrameType = "pong"
	FramePing           FrameType = "ping"
	FrameUpvoteQuestion FrameType = "upvote_question"
	FramePollVote       FrameType = "poll_vote"
	FrameAnswerQuestion FrameType = "answer_question"
	FrameDeleteQuestion FrameType = "delete_question"
	FrameOpenPoll       FrameType = "open_poll"
	FrameClosePoll      FrameType = "close_poll"
)

// IsHeartbeat reports whether the frame only keeps the connection alive.
// Heartbeat frames do not draw from the rate limit.
func (t FrameType) IsHeartbeat() bool {
	return t == FramePing || t == FramePong
}

// AllowedFor reports whether role may send an action of this type.
func (t FrameType) AllowedFor(role Role) bool {
	switch t {
	case FramePing, FramePong, FrameUpvoteQuestion, FramePollVote:
		return role == RoleAttendee || role == RoleHost
	case FrameAnswerQuestion, FrameDeleteQuestion, FrameOpenPoll, FrameClosePoll:
		return role == RoleHost
	default:
		return false
	}
}

// RefID is an opaque entity reference. Clients may send it as a JSON string
// or number; it is normalised to its string form.
type RefID string

func (r *RefID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RefID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("reference must be a string or number: %w", err)
	}
	*r = RefID(n.String())
	return nil
}

// Int returns the reference as an integer when it is numeric.
func (r RefID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(r), 10, 64)
	return n, err == nil
}

// ClientFrame is a decoded control frame.
type ClientFrame struct {
	Type       FrameType `json:"type"`
	QuestionID RefID     `json:"question_id,omitempty"`
	PollID     RefID     `json:"poll_id,omitempty"`
	OptionID   RefID     `json:"option_id,omitempty"`
	IsAnswered *bool     `json:"is_answered,omitempty"`
}

// PeekFrameType extracts the type tag without validating the rest.
func PeekFrameType(data []byte) (FrameType, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return head.Type, nil
}

// ParseClientFrame decodes and validates a control frame.
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	var missing string
	switch f.Type {
	case FramePing, FramePong:
	case FrameUpvoteQuestion, FrameDeleteQuestion:
		if f.QuestionID == "" {
			missing = "question_id"
		}
	case FrameAnswerQuestion:
		if f.QuestionID == "" {
			missing = "question_id"
		} else if f.IsAnswered == nil {
			missing = "is_answered"
		}
	case FramePollVote:
		if f.PollID == "" {
			missing = "poll_id"
		} else if f.OptionID == "" {
			missing = "option_id"
		}
	case FrameOpenPoll, FrameClosePoll:
		if f.PollID == "" {
			missing = "poll_id"
		}
	default:
		return ClientFrame{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, f.Type)
	}
	if missing != "" {
		return ClientFrame{}, fmt.Errorf("%w: %s requires %q", ErrInvalidFrame, f.Type, missing)
	}
	return f, nil
}

// Encode renders the frame for sending from a client.
func (f ClientFrame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Action is an authorised client request handed to the write layer.
type Action struct {
	EventID      EventID     `json:"event_id"`
	ConnectionID string      `json:"connection_id"`
	Role         Role        `json:"role"`
	Frame        ClientFrame `json:"frame"`
}
