package game

import (
	"context"
	"encoding/json"
	"sync"
)

// Conn is the subset of connection capabilities the hub needs. Implementations
// are expected to enforce their own send timeout; a Send error gets the
// connection dropped from the room.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Hub owns the authoritative room → connection-set mapping and fans deltas
// out to every connection subscribed to a room. The mapping lock is scoped to
// building the delivery list; delivery happens outside it.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]Conn)}
}

// Register adds a connection to the room under a stable connection ID.
func (h *Hub) Register(roomID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]Conn)
	}
	h.rooms[roomID][connID] = conn
}

// Unregister removes a connection from the room. The empty room entry is
// dropped with it.
func (h *Hub) Unregister(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[roomID], connID)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}

// RoomSize returns the number of connections currently in the room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Publish delivers the delta to every connection in the room, best effort
// and in no particular order. Connections that fail to accept the payload
// are closed and removed, never retried.
func (h *Hub) Publish(ctx context.Context, roomID string, delta Delta) {
	data, err := json.Marshal(delta)
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make(map[string]Conn, len(h.rooms[roomID]))
	for id, c := range h.rooms[roomID] {
		targets[id] = c
	}
	h.mu.RUnlock()

	var failed []string
	for id, c := range targets {
		if err := c.Send(ctx, data); err != nil {
			_ = c.Close()
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		h.Unregister(roomID, id)
	}
}
