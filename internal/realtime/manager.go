// Package realtime provides the WebSocket chat channel.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks the open chat connection of each user and tab.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register records conn for the user/session, closing any connection it replaces.
func (m *ConnRegistry) Register(username, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[username]; !exists {
		m.active[username] = make(map[string]*websocket.Conn)
	}

	// Close blocks on the peer's close handshake, so it runs outside the lock.
	if existing, exists := m.active[username][sessionID]; exists && existing != conn {
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "session replaced") }()
	}

	m.active[username][sessionID] = conn
	slog.Info("Chat connection registered", "username", username, "session_id", sessionID)
}

// Unregister removes conn if it is still the current one for the user/session.
func (m *ConnRegistry) Unregister(username, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[username]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, username)
			}
			slog.Info("Chat connection unregistered", "username", username, "session_id", sessionID)
		}
	}
}
