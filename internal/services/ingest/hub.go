package ingest

import (
	"log"
	"sync"

	"github.com/5ir-Lancelot/dragino-webapp/internal/model"
)

// Hub fans accepted records out to every live dashboard connection. Each
// subscriber gets its own buffered channel; Broadcast never blocks on a slow
// consumer, it drops that subscriber instead. Joining delivers no backlog;
// dashboards seed from the registry snapshot, not from the hub.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// Subscribe registers a new live subscriber and returns its handle. After the
// hub is closed, the returned handle's channel is already closed and never
// receives anything.
func (h *Hub) Subscribe() *Client {
	c := &Client{hub: h, send: make(chan model.TelemetryRecord, clientSendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.closeSend()
		return c
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("ingest: subscriber joined (total=%d)", n)
	return c
}

// Unsubscribe removes c and closes its channel. Safe to call more than once
// and concurrently with an in-flight broadcast.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.closeSend()
		log.Printf("ingest: subscriber left (total=%d)", n)
	}
}

// Broadcast delivers rec to every current subscriber. Delivery per subscriber
// is a non-blocking channel send: a full buffer means that connection has
// stalled past its allowance and is dropped, without delaying the rest.
func (h *Hub) Broadcast(rec model.TelemetryRecord) {
	h.mu.RLock()
	var stalled []*Client
	for c := range h.clients {
		select {
		case c.send <- rec:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		log.Printf("ingest: dropping stalled subscriber")
		h.Unsubscribe(c)
	}
}

// ClientCount returns the number of live subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops accepting subscribers and disconnects everyone. Used at
// shutdown, after the upstream consumer has stopped.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}
