package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// EventID identifies one live event and therefore one room.
type EventID string

// MessageType is the tagged variant of a server-to-client wire message.
type MessageType string

const (
	TypeQuestionCreated       MessageType = "question_created"
	TypeQuestionUpvoted       MessageType = "question_upvoted"
	TypeQuestionDeleted       MessageType = "question_deleted"
	TypeQuestionAnswered      MessageType = "question_answered"
	TypePollOpened            MessageType = "poll_opened"
	TypePollResultsUpdated    MessageType = "poll_results_updated"
	TypePollClosed            MessageType = "poll_closed"
	TypeEventUpdated          MessageType = "event_updated"
	TypeConnectionEstablished MessageType = "connection_established"
	TypePing                  MessageType = "ping"
	TypePong                  MessageType = "pong"
	TypeError                 MessageType = "error"
)

// Envelope keys written by the server. Payloads must not use them.
const (
	fieldType      = "type"
	fieldEventID   = "event_id"
	fieldTimestamp = "timestamp"
	fieldSeq       = "seq"
)

// Valid reports whether t is a known variant.
func (t MessageType) Valid() bool {
	switch t {
	case TypeQuestionCreated, TypeQuestionUpvoted, TypeQuestionDeleted, TypeQuestionAnswered,
		TypePollOpened, TypePollResultsUpdated, TypePollClosed, TypeEventUpdated,
		TypeConnectionEstablished, TypePing, TypePong, TypeError:
		return true
	default:
		return false
	}
}

// IsRoomEvent reports whether t describes a committed state change that is
// fanned out to a room and sequenced. Control and targeted variants are not.
func (t MessageType) IsRoomEvent() bool {
	switch t {
	case TypeQuestionCreated, TypeQuestionUpvoted, TypeQuestionDeleted, TypeQuestionAnswered,
		TypePollOpened, TypePollResultsUpdated, TypePollClosed, TypeEventUpdated:
		return true
	case TypeConnectionEstablished, TypePing, TypePong, TypeError:
		return false
	default:
		return false
	}
}

// RequiredFields lists the payload keys each variant must carry.
func (t MessageType) RequiredFields() []string {
	switch t {
	case TypeQuestionCreated:
		return []string{"question"}
	case TypeQuestionUpvoted:
		return []string{"question_id", "upvote_count"}
	case TypeQuestionDeleted:
		return []string{"question_id"}
	case TypeQuestionAnswered:
		return []string{"question_id", "is_answered"}
	case TypePollOpened:
		return []string{"poll"}
	case TypePollResultsUpdated:
		return []string{"poll_id", "options"}
	case TypePollClosed:
		return []string{"poll_id", "final_results"}
	case TypeEventUpdated:
		return []string{"updates"}
	case TypeConnectionEstablished:
		return []string{"client_id", "role"}
	case TypeError:
		return []string{"code", "message"}
	case TypePing, TypePong:
		return nil
	default:
		return nil
	}
}

// Payload holds the variant-specific fields of a message.
type Payload map[string]any

// ValidatePayload checks that payload satisfies the shape required by t.
func ValidatePayload(t MessageType, payload Payload) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, t)
	}
	for _, key := range []string{fieldType, fieldEventID, fieldTimestamp, fieldSeq} {
		if _, ok := payload[key]; ok {
			return fmt.Errorf("%w: %q", ErrReservedField, key)
		}
	}
	for _, key := range t.RequiredFields() {
		if _, ok := payload[key]; !ok {
			return fmt.Errorf("%w: %s requires %q", ErrMissingField, t, key)
		}
	}
	return nil
}

// Message is one wire event. A Message is a value: once built it is never
// mutated, and the same encoded frame is shared by every recipient.
type Message struct {
	Type      MessageType
	EventID   EventID
	Timestamp time.Time
	// Seq is the per-room sequence number of room events, zero otherwise.
	Seq     uint64
	Payload Payload
}

// NewMessage builds a message owning a private copy of payload.
func NewMessage(eventID EventID, t MessageType, payload Payload, ts time.Time) Message {
	return Message{
		Type:      t,
		EventID:   eventID,
		Timestamp: ts,
		Payload:   maps.Clone(payload),
	}
}

// Stamped returns a copy of m carrying the room-assigned timestamp and sequence.
func (m Message) Stamped(ts time.Time, seq uint64) Message {
	m.Timestamp = ts
	m.Seq = seq
	return m
}

// Field returns a payload value.
func (m Message) Field(key string) (any, bool) {
	v, ok := m.Payload[key]
	return v, ok
}

// Encode renders the flat JSON wire shape.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(m.Payload)+4)
	for k, v := range m.Payload {
		obj[k] = v
	}
	obj[fieldType] = m.Type
	if m.EventID != "" {
		obj[fieldEventID] = m.EventID
	}
	if !m.Timestamp.IsZero() {
		obj[fieldTimestamp] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if m.Seq > 0 {
		obj[fieldSeq] = m.Seq
	}
	return json.Marshal(obj)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var head struct {
		Type      MessageType `json:"type"`
		EventID   EventID     `json:"event_id"`
		Timestamp string      `json:"timestamp"`
		Seq       uint64      `json:"seq"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode message envelope: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode message payload: %w", err)
	}
	for _, key := range []string{fieldType, fieldEventID, fieldTimestamp, fieldSeq} {
		delete(payload, key)
	}

	var ts time.Time
	if head.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, head.Timestamp)
		if err != nil {
			return fmt.Errorf("decode message timestamp: %w", err)
		}
		ts = parsed
	}

	*m = Message{
		Type:      head.Type,
		EventID:   head.EventID,
		Timestamp: ts,
		Seq:       head.Seq,
		Payload:   payload,
	}
	return nil
}

// ErrorMessage builds a targeted error frame.
func ErrorMessage(eventID EventID, code ErrorCode, message string, ts time.Time) Message {
	return NewMessage(eventID, TypeError, Payload{"code": code, "message": message}, ts)
}
