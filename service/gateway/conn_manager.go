package gateway

import (
	"sync"
	"time"

	"PulseIM/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendQueueSize = 256
	writeDeadline = 10 * time.Second
	pongDeadline  = 60 * time.Second
	pingInterval  = 25 * time.Second
)

// WsConn is one live, authenticated connection. Writes go through a
// buffered per-connection queue drained by a single write pump, so any
// goroutine may Send without racing on the socket.
type WsConn struct {
	ID     string
	UserID string

	sock      *websocket.Conn
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWsConn(id, userID string, sock *websocket.Conn) *WsConn {
	return &WsConn{
		ID:     id,
		UserID: userID,
		sock:   sock,
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Send enqueues a frame; a connection too slow to drain its queue is
// closed rather than allowed to block the rest of the fan-out. The
// done check runs on its own first: a combined select would pick
// randomly between a closed done and a ready buffer, letting frames
// onto a queue nobody drains.
func (c *WsConn) Send(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case <-c.done:
	case c.sendCh <- data:
	default:
		logger.Warn("send queue full, closing connection",
			zap.String("conn", c.ID), zap.String("user", c.UserID))
		c.Close()
	}
}

func (c *WsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

func (c *WsConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ConnManager indexes the live connections of this process by
// connection id and by user. It is constructed once and injected where
// needed; nothing reaches it through package globals.
type ConnManager struct {
	mu     sync.RWMutex
	byID   map[string]*WsConn
	byUser map[string]map[string]*WsConn
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		byID:   make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
	}
}

func (m *ConnManager) Add(c *WsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
	set := m.byUser[c.UserID]
	if set == nil {
		set = make(map[string]*WsConn)
		m.byUser[c.UserID] = set
	}
	set[c.ID] = c
}

func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[connID]
	if !ok {
		return
	}
	delete(m.byID, connID)
	if set := m.byUser[c.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[connID]
	return c, ok
}

// BroadcastUser sends to every connection of one user on this process.
func (m *ConnManager) BroadcastUser(userID string, data []byte) {
	m.mu.RLock()
	conns := make([]*WsConn, 0, 2)
	for _, c := range m.byUser[userID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		c.Send(data)
	}
}

// BroadcastAll sends to every live connection on this process.
func (m *ConnManager) BroadcastAll(data []byte) {
	m.mu.RLock()
	conns := make([]*WsConn, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		c.Send(data)
	}
}

// CloseUser force-terminates every connection of one user
// (administrative logout); each read loop then runs its own teardown.
// Returns how many connections were closed.
func (m *ConnManager) CloseUser(userID string) int {
	m.mu.RLock()
	conns := make([]*WsConn, 0, 2)
	for _, c := range m.byUser[userID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}
