package client

import (
	"maps"
	"slices"
	"strconv"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// Question is the client's view of one question.
type Question struct {
	ID       domain.RefID
	Text     string
	Upvotes  int
	Answered bool
}

// Poll keeps the latest payload seen for a poll.
type Poll struct {
	ID     domain.RefID
	Closed bool
	Data   domain.Payload
}

// Board merges a resync snapshot and live messages into the state an
// attendee or host screen renders. Local actions are applied optimistically
// and settled by the next live message about the same entity.
type Board struct {
	questions *Optimistic[domain.RefID, Question]
	polls     *Optimistic[domain.RefID, Poll]
}

func NewBoard() *Board {
	return &Board{
		questions: NewOptimistic[domain.RefID, Question](),
		polls:     NewOptimistic[domain.RefID, Poll](),
	}
}

// Reset replaces all state with snap and drops pending local edits.
func (b *Board) Reset(snap Snapshot) {
	questions := make(map[domain.RefID]Question, len(snap.Questions))
	for _, p := range snap.Questions {
		if q, ok := questionFrom(p); ok {
			questions[q.ID] = q
		}
	}
	polls := make(map[domain.RefID]Poll, len(snap.Polls))
	for _, p := range snap.Polls {
		if poll, ok := pollFrom(p); ok {
			polls[poll.ID] = poll
		}
	}
	b.questions.Reset(questions)
	b.polls.Reset(polls)
}

// Apply folds a live message into the board. It reports whether the message
// changed anything.
func (b *Board) Apply(msg domain.Message) bool {
	switch msg.Type {
	case domain.TypeQuestionCreated:
		raw, _ := msg.Payload["question"].(map[string]any)
		q, ok := questionFrom(raw)
		if ok {
			b.questions.Confirm(q.ID, q)
		}
		return ok
	case domain.TypeQuestionUpvoted:
		return b.updateQuestion(msg.Payload, func(q *Question) {
			q.Upvotes = intOf(msg.Payload["upvote_count"])
		})
	case domain.TypeQuestionAnswered:
		return b.updateQuestion(msg.Payload, func(q *Question) {
			q.Answered, _ = msg.Payload["is_answered"].(bool)
		})
	case domain.TypeQuestionDeleted:
		id, ok := refOf(msg.Payload["question_id"])
		if ok {
			b.questions.Remove(id)
		}
		return ok
	case domain.TypePollOpened:
		raw, _ := msg.Payload["poll"].(map[string]any)
		poll, ok := pollFrom(raw)
		if ok {
			b.polls.Confirm(poll.ID, poll)
		}
		return ok
	case domain.TypePollResultsUpdated, domain.TypePollClosed:
		id, ok := refOf(msg.Payload["poll_id"])
		if !ok {
			return false
		}
		poll, _ := b.polls.Get(id)
		poll.ID = id
		poll.Data = maps.Clone(msg.Payload)
		poll.Closed = poll.Closed || msg.Type == domain.TypePollClosed
		b.polls.Confirm(id, poll)
		return true
	default:
		return false
	}
}

func (b *Board) updateQuestion(payload domain.Payload, update func(*Question)) bool {
	id, ok := refOf(payload["question_id"])
	if !ok {
		return false
	}
	q, _ := b.questions.Get(id)
	q.ID = id
	update(&q)
	b.questions.Confirm(id, q)
	return true
}

// Upvote optimistically adds one vote to a question.
func (b *Board) Upvote(id domain.RefID) {
	q, _ := b.questions.Get(id)
	q.ID = id
	q.Upvotes++
	b.questions.Apply(id, q)
}

// MarkAnswered optimistically sets the answered flag.
func (b *Board) MarkAnswered(id domain.RefID, answered bool) {
	q, _ := b.questions.Get(id)
	q.ID = id
	q.Answered = answered
	b.questions.Apply(id, q)
}

// Rollback discards a pending local edit after the action failed.
func (b *Board) Rollback(id domain.RefID) {
	b.questions.Rollback(id)
}

func (b *Board) Question(id domain.RefID) (Question, bool) {
	return b.questions.Get(id)
}

func (b *Board) Pending(id domain.RefID) bool {
	return b.questions.IsPending(id)
}

// Questions returns questions ordered by votes, then id.
func (b *Board) Questions() []Question {
	list := slices.Collect(maps.Values(b.questions.View()))
	slices.SortFunc(list, func(a, c Question) int {
		if a.Upvotes != c.Upvotes {
			return c.Upvotes - a.Upvotes
		}
		if a.ID < c.ID {
			return -1
		}
		if a.ID > c.ID {
			return 1
		}
		return 0
	})
	return list
}

func (b *Board) Poll(id domain.RefID) (Poll, bool) {
	return b.polls.Get(id)
}

func questionFrom(raw map[string]any) (Question, bool) {
	id, ok := refOf(raw["id"])
	if !ok {
		return Question{}, false
	}
	text, _ := raw["text"].(string)
	answered, _ := raw["is_answered"].(bool)
	return Question{ID: id, Text: text, Upvotes: intOf(raw["upvote_count"]), Answered: answered}, true
}

func pollFrom(raw map[string]any) (Poll, bool) {
	id, ok := refOf(raw["id"])
	if !ok {
		return Poll{}, false
	}
	status, _ := raw["status"].(string)
	return Poll{ID: id, Closed: status == "closed", Data: maps.Clone(raw)}, true
}

// refOf normalises a JSON id, string or number, to a RefID.
func refOf(v any) (domain.RefID, bool) {
	switch id := v.(type) {
	case string:
		return domain.RefID(id), id != ""
	case float64:
		return domain.RefID(strconv.FormatFloat(id, 'f', -1, 64)), true
	case int:
		return domain.RefID(strconv.Itoa(id)), true
	case int64:
		return domain.RefID(strconv.FormatInt(id, 10)), true
	default:
		return "", false
	}
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
