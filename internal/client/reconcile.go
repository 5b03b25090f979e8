package client

import (
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// Reconciler orders live messages against a REST snapshot. While a resync
// is in flight, room events are buffered; when the snapshot arrives those no
// newer than the snapshot are discarded and the rest replayed in arrival
// order. Afterwards, room events not newer than the last applied one are
// dropped as duplicates.
type Reconciler struct {
	buffering   bool
	buffer      []domain.Message
	lastApplied time.Time
	discarded   int
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Begin starts buffering for a new resync. Anything buffered from an
// abandoned resync is dropped.
func (r *Reconciler) Begin() {
	r.buffering = true
	r.buffer = r.buffer[:0]
}

func (r *Reconciler) Buffering() bool {
	return r.buffering
}

// Offer accepts a live message and returns the messages to apply now.
func (r *Reconciler) Offer(msg domain.Message) []domain.Message {
	if !msg.Type.IsRoomEvent() {
		return []domain.Message{msg}
	}
	if r.buffering {
		r.buffer = append(r.buffer, msg)
		return nil
	}
	if !msg.Timestamp.After(r.lastApplied) {
		r.discarded++
		return nil
	}
	r.lastApplied = msg.Timestamp
	return []domain.Message{msg}
}

// Complete ends buffering with a snapshot taken at asOf and returns the
// buffered messages that are newer than it.
func (r *Reconciler) Complete(asOf time.Time) []domain.Message {
	r.buffering = false
	if asOf.After(r.lastApplied) {
		r.lastApplied = asOf
	}

	var replay []domain.Message
	for _, msg := range r.buffer {
		if !msg.Timestamp.After(r.lastApplied) {
			r.discarded++
			continue
		}
		r.lastApplied = msg.Timestamp
		replay = append(replay, msg)
	}
	r.buffer = r.buffer[:0]
	return replay
}

// Discarded counts room events dropped as stale or duplicate.
func (r *Reconciler) Discarded() int {
	return r.discarded
}
