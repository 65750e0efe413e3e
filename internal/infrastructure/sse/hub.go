package sse

import (
	"sync"
	"sync/atomic"

	"github.com/execution-hub/ledger-sync/internal/domain/notification"
)

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.SSEClient
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*notification.SSEClient),
	}
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		old.Close()
	}
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClient(clientID string) *notification.SSEClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped is the number of messages discarded because a client was too slow.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) BroadcastToAll(message *notification.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.trySend(c, message)
	}
}

// BroadcastToUser delivers to every connection the user has open.
func (h *Hub) BroadcastToUser(userID string, message *notification.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID != nil && *c.UserID == userID {
			h.trySend(c, message)
		}
	}
}

func (h *Hub) SendToClient(clientID string, message *notification.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return notification.ErrClientNotFound
	}
	if !h.trySend(c, message) {
		return notification.ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func (h *Hub) trySend(c *notification.SSEClient, msg *notification.Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}
