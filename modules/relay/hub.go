package relay

import (
	"sync"

	"github.com/example/presence-relay/modules/registry"
)

// Hub tracks every open connection, identified or not. Presence
// notifications go to all of them, not only to registered sessions.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]registry.Transport // transportID -> transport
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]registry.Transport),
	}
}

// Add registers an open transport.
func (h *Hub) Add(t registry.Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[t.ID()] = t
}

// Remove forgets a transport. It is a no-op when absent.
func (h *Hub) Remove(t registry.Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, t.ID())
}

// Broadcast sends frame to every open transport except the one with exceptID.
// Transports that are no longer open are skipped. It returns the number of
// transports that accepted the frame.
func (h *Hub) Broadcast(frame []byte, exceptID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, t := range h.conns {
		if id == exceptID {
			continue
		}
		if err := t.Send(frame); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of open transports.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
