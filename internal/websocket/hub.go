package websocket

import (
	"context"
	"sync"
)

// Hub tracks the UI connections of the local gateway and fans chat events
// out to all of them.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. Remaining clients are dropped when ctx
// ends, and later Register or Unregister calls return immediately.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) stop() {
	h.mu.Lock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
	h.mu.Unlock()
	close(h.done)

	// registrations queued before done closed never reach the loop
	for {
		select {
		case client := <-h.register:
			close(client.Send)
		case <-h.unregister:
		default:
			return
		}
	}
}

// Register adds client to the fan-out. Once the hub has stopped, the
// client's Send channel is closed instead so its write loop ends.
func (h *Hub) Register(client *Client) {
	select {
	case <-h.done:
		close(client.Send)
		return
	default:
	}
	select {
	case <-h.done:
		close(client.Send)
	case h.register <- client:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case <-h.done:
	case h.unregister <- client:
	}
}

// Broadcast sends payload to every connected client. Slow clients lose
// messages rather than stalling the others.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.SendMessage(payload)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}
