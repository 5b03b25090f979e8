package client

import (
	"maps"
	"sync"
)

// Optimistic holds server-confirmed values plus pending local overrides.
// A pending value is cleared when the server confirms the same key or when
// state is replaced by a resync, never by a timeout.
type Optimistic[K comparable, V any] struct {
	mu        sync.Mutex
	confirmed map[K]V
	pending   map[K]V
}

func NewOptimistic[K comparable, V any]() *Optimistic[K, V] {
	return &Optimistic[K, V]{
		confirmed: make(map[K]V),
		pending:   make(map[K]V),
	}
}

// Apply records a local change that has not been confirmed yet.
func (o *Optimistic[K, V]) Apply(key K, value V) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[key] = value
}

// Confirm stores the authoritative value and drops any pending override.
func (o *Optimistic[K, V]) Confirm(key K, value V) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmed[key] = value
	delete(o.pending, key)
}

// Remove deletes a key that the server reports as gone.
func (o *Optimistic[K, V]) Remove(key K) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.confirmed, key)
	delete(o.pending, key)
}

// Rollback discards the pending override for key, e.g. after the action failed.
func (o *Optimistic[K, V]) Rollback(key K) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, key)
}

// Reset replaces confirmed state with a snapshot and clears everything pending.
func (o *Optimistic[K, V]) Reset(snapshot map[K]V) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmed = maps.Clone(snapshot)
	if o.confirmed == nil {
		o.confirmed = make(map[K]V)
	}
	clear(o.pending)
}

// Get returns the pending value if any, else the confirmed one.
func (o *Optimistic[K, V]) Get(key K) (V, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.pending[key]; ok {
		return v, true
	}
	v, ok := o.confirmed[key]
	return v, ok
}

func (o *Optimistic[K, V]) IsPending(key K) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[key]
	return ok
}

// View returns the merged state.
func (o *Optimistic[K, V]) View() map[K]V {
	o.mu.Lock()
	defer o.mu.Unlock()
	view := maps.Clone(o.confirmed)
	maps.Copy(view, o.pending)
	return view
}
