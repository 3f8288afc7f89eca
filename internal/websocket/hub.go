// Package websocket fans diagnostic events out to connected
// /api/ws subscribers.
package websocket

import (
	"log"
	"sync"
)

// Hub tracks the connected subscribers and fans broadcast frames out
// to each of them. Subscribers that cannot keep up are dropped rather
// than allowed to stall the loop.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// Guards clients; ClientCount reads it off-loop.
	mu sync.RWMutex
}

// NewHub creates an empty hub. Run must be started for it to do
// anything.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's event loop; call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Subscriber connected (%d active)", total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Subscriber disconnected (%d active)", total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full; the subscriber is too slow.
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client and closes its send channel. Callers hold mu.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast queues a frame for every subscriber. Frames are dropped
// when the queue is full; diagnostics are best-effort.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("Broadcast queue full, dropping frame")
	}
}

// Register adds a subscriber.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one connected subscriber.
type Client struct {
	hub  *Hub
	send chan []byte
}

// NewClient creates a subscriber attached to hub.
func NewClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, 256),
	}
}

// Send returns the channel the write pump drains.
func (c *Client) Send() chan []byte {
	return c.send
}
