package gateway

import "sync"

// Hub tracks which local connections are subscribed to which
// conversation's event stream.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*WsConn  // conversationID -> connID -> conn
	byConn map[string]map[string]struct{} // connID -> conversationIDs
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*WsConn),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Join(conversationID string, c *WsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*WsConn)
		h.rooms[conversationID] = room
	}
	room[c.ID] = c

	set := h.byConn[c.ID]
	if set == nil {
		set = make(map[string]struct{})
		h.byConn[c.ID] = set
	}
	set[conversationID] = struct{}{}
}

func (h *Hub) Leave(conversationID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conversationID, connID)
}

func (h *Hub) leaveLocked(conversationID, connID string) {
	if room := h.rooms[conversationID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if set := h.byConn[connID]; set != nil {
		delete(set, conversationID)
		if len(set) == 0 {
			delete(h.byConn, connID)
		}
	}
}

// LeaveAll cancels every room subscription of a closing connection.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conversationID := range h.byConn[connID] {
		h.leaveLocked(conversationID, connID)
	}
}

// Multicast delivers a frame to every local subscriber of the
// conversation, optionally skipping the originating connection.
func (h *Hub) Multicast(conversationID string, data []byte, excludeConnID string) {
	h.mu.RLock()
	conns := make([]*WsConn, 0, 4)
	for id, c := range h.rooms[conversationID] {
		if id == excludeConnID {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Send(data)
	}
}
