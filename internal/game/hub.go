package game

import (
	"sync"

	"go.uber.org/zap"

	"outpost/internal/store"
)

// Hub is the room-code-keyed table of independent room instances. Rooms
// are created lazily on first connection and live for the lifetime of
// the process (their durable state outlives it).
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
	st    *store.Store
	log   *zap.SugaredLogger
}

func NewHub(st *store.Store, log *zap.SugaredLogger) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),
		st:    st,
		log:   log,
	}
}

// GetRoom returns the room for code, creating and bootstrapping it on
// first use. A bootstrap failure (migrations, hydration) is returned and
// the room is not cached, so the next attempt retries from scratch.
func (h *Hub) GetRoom(code string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[code]; ok {
		return r, nil
	}
	r, err := newRoom(code, h.st, h.log)
	if err != nil {
		return nil, err
	}
	h.rooms[code] = r
	h.log.Infow("room created", "room", code)
	return r, nil
}

// CleanupIdleRooms drops in-memory room instances with no sessions.
// Their durable state stays in the store and is rehydrated on the next
// connection. Returns the number of rooms removed.
func (h *Hub) CleanupIdleRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for code, r := range h.rooms {
		if r.SessionCount() == 0 {
			delete(h.rooms, code)
			removed++
		}
	}
	if removed > 0 {
		h.log.Infow("idle rooms removed", "count", removed)
	}
	return removed
}

// Store exposes the hub's backing store to the transport layer (resume
// token issue/redeem happens before a room is resolved).
func (h *Hub) Store() *store.Store { return h.st }
