package domain

import "errors"

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingField       = errors.New("missing required field")
	ErrReservedField      = errors.New("payload uses reserved envelope field")
	ErrInvalidFrame       = errors.New("invalid client frame")
	ErrInvalidToken       = errors.New("invalid connection token")
	ErrRoomClosed         = errors.New("room closed")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadyJoined      = errors.New("connection already joined a room")
)

// ErrorCode is carried by error frames so the presentation layer can map it
// to user-facing text.
type ErrorCode string

const (
	CodeInvalidMessage    ErrorCode = "INVALID_MESSAGE"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeActionFailed      ErrorCode = "ACTION_FAILED"
	CodeRoomFull          ErrorCode = "ROOM_FULL"
	CodeConnectionLimit   ErrorCode = "CONNECTION_LIMIT"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)
