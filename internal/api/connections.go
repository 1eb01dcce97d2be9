package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks live chat sockets per identity and tab.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a user and tab.
func (m *ConnManager) GetActive(userID, tabID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tabs, ok := m.active[userID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Register adds a connection for a user/tab, closing any connection it replaces.
func (m *ConnManager) Register(userID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	m.active[userID][tabID] = conn
	slog.Info("Chat socket registered", "identity", userID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the current one for its tab.
func (m *ConnManager) Unregister(userID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tabs, ok := m.active[userID]; ok {
		if current, exists := tabs[tabID]; exists && current == conn {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat socket unregistered", "identity", userID, "tab_id", tabID)
		}
	}
}

// Count returns the number of live connections for a user.
func (m *ConnManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Broadcast writes v as a text frame to every tab of a user and returns how
// many writes succeeded.
func (m *ConnManager) Broadcast(ctx context.Context, userID string, v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode broadcast: %w", err)
	}

	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.active[userID]))
	for _, conn := range m.active[userID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Chat socket write failed", "identity", userID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// CloseAll terminates every connection, used on shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, tabs := range m.active {
		for _, conn := range tabs {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}
