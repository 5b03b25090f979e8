package broadcast

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/metrics"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// Registry maps event IDs to live rooms. It is the only structure shared
// between rooms; everything else is owned by a room's goroutine.
type Registry struct {
	clock    clockwork.Clock
	settings Settings
	metrics  *metrics.LiveMetrics

	mu    sync.Mutex
	rooms map[domain.EventID]*Room
}

func NewRegistry(clock clockwork.Clock, settings Settings, m *metrics.LiveMetrics) *Registry {
	return &Registry{
		clock:    clock,
		settings: settings.withDefaults(),
		metrics:  m,
		rooms:    make(map[domain.EventID]*Room),
	}
}

// GetOrCreate returns the room for eventID, creating it when absent.
// Concurrent callers for the same event always receive the same room.
func (g *Registry) GetOrCreate(eventID domain.EventID) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[eventID]; ok {
		return r
	}
	r := newRoom(eventID, g)
	g.rooms[eventID] = r
	g.metrics.RoomOpened()
	slog.Debug("Room created", "event_id", eventID)
	return r
}

// Lookup returns the room for eventID without creating one.
func (g *Registry) Lookup(eventID domain.EventID) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[eventID]
	return r, ok
}

// Remove deletes the room for eventID if it currently has no members.
// It reports whether a room was removed.
func (g *Registry) Remove(eventID domain.EventID) bool {
	r, ok := g.Lookup(eventID)
	if !ok || !g.retireIfEmpty(r) {
		return false
	}
	r.shutdown("", nil)
	return true
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// retireIfEmpty unregisters r when it is still the registered room for its
// event and has no members. A retired room rejects further joins.
func (g *Registry) retireIfEmpty(r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rooms[r.eventID] != r || r.size.Load() > 0 {
		return false
	}
	g.retireLocked(r)
	return true
}

// retire unregisters the room for eventID regardless of its members.
func (g *Registry) retire(eventID domain.EventID) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[eventID]
	if ok {
		g.retireLocked(r)
	}
	return r, ok
}

func (g *Registry) retireAll() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	for _, r := range rooms {
		g.retireLocked(r)
	}
	return rooms
}

func (g *Registry) retireLocked(r *Room) {
	r.retired.Store(true)
	delete(g.rooms, r.eventID)
	g.metrics.RoomClosed()
	slog.Debug("Room removed", "event_id", r.eventID)
}
