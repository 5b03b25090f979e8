package commands

import (
	"errors"
	"fmt"

	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

var errNoTarget = errors.New("no question or poll id given")

// actionOptions are the send command's inputs.
type actionOptions struct {
	Type       string
	QuestionID string
	PollID     string
	OptionID   string
	Answered   bool
}

// buildFrame turns options into a frame the server would accept.
func buildFrame(opts actionOptions) (domain.ClientFrame, error) {
	frame := domain.ClientFrame{
		Type:       domain.FrameType(opts.Type),
		QuestionID: domain.RefID(opts.QuestionID),
		PollID:     domain.RefID(opts.PollID),
		OptionID:   domain.RefID(opts.OptionID),
	}
	if frame.Type == domain.FrameAnswerQuestion {
		answered := opts.Answered
		frame.IsAnswered = &answered
	}
	if frame.Type.IsHeartbeat() {
		return domain.ClientFrame{}, fmt.Errorf("%s is not an action", frame.Type)
	}

	data, err := frame.Encode()
	if err != nil {
		return domain.ClientFrame{}, err
	}
	if _, err := domain.ParseClientFrame(data); err != nil {
		return domain.ClientFrame{}, err
	}
	return frame, nil
}

// applyLocally records the expected effect of frame on board before the
// server confirms it. It reports whether anything was applied.
func applyLocally(board *client.Board, frame domain.ClientFrame) bool {
	switch frame.Type {
	case domain.FrameUpvoteQuestion:
		board.Upvote(frame.QuestionID)
		return true
	case domain.FrameAnswerQuestion:
		board.MarkAnswered(frame.QuestionID, *frame.IsAnswered)
		return true
	default:
		return false
	}
}

// confirms reports whether msg is the broadcast that results from frame.
func confirms(frame domain.ClientFrame, msg domain.Message) bool {
	switch frame.Type {
	case domain.FrameUpvoteQuestion:
		return msg.Type == domain.TypeQuestionUpvoted && refersTo(msg.Payload["question_id"], frame.QuestionID)
	case domain.FrameAnswerQuestion:
		return msg.Type == domain.TypeQuestionAnswered && refersTo(msg.Payload["question_id"], frame.QuestionID)
	case domain.FrameDeleteQuestion:
		return msg.Type == domain.TypeQuestionDeleted && refersTo(msg.Payload["question_id"], frame.QuestionID)
	case domain.FramePollVote:
		return msg.Type == domain.TypePollResultsUpdated && refersTo(msg.Payload["poll_id"], frame.PollID)
	case domain.FrameOpenPoll:
		poll, _ := msg.Payload["poll"].(map[string]any)
		return msg.Type == domain.TypePollOpened && refersTo(poll["id"], frame.PollID)
	case domain.FrameClosePoll:
		return msg.Type == domain.TypePollClosed && refersTo(msg.Payload["poll_id"], frame.PollID)
	default:
		return false
	}
}

// target is the entity the frame acts on.
func target(frame domain.ClientFrame) (domain.RefID, error) {
	switch {
	case frame.QuestionID != "":
		return frame.QuestionID, nil
	case frame.PollID != "":
		return frame.PollID, nil
	default:
		return "", errNoTarget
	}
}

func refersTo(v any, id domain.RefID) bool {
	switch ref := v.(type) {
	case string:
		return domain.RefID(ref) == id
	case float64:
		n, ok := id.Int()
		return ok && float64(n) == ref
	default:
		return false
	}
}
