package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const clientBuffer = 64

// Hub fans dashboard events out to Server-Sent Events clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

// Client represents a single SSE connection. Frames are queued by the hub
// and written by the connection's own handler goroutine.
type Client struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	events  chan []byte
	done    chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.done)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for all connected clients. A client whose buffer
// is full misses the event rather than stalling the caller.
func (h *Hub) Broadcast(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.events <- data:
		default:
		}
	}
}

// NewClient creates a new SSE client from an HTTP response writer.
func NewClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Client{
		writer:  w,
		flusher: flusher,
		events:  make(chan []byte, clientBuffer),
		done:    make(chan struct{}),
	}, nil
}

// Send writes one SSE data frame.
func (c *Client) Send(data []byte) {
	fmt.Fprintf(c.writer, "data: %s\n\n", data)
	c.flusher.Flush()
}

// Serve writes queued events and keepalive pings until stop closes or the
// client is unregistered.
func (c *Client) Serve(stop <-chan struct{}, keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case data := <-c.events:
			c.Send(data)
		case <-ticker.C:
			fmt.Fprintf(c.writer, ": ping\n\n")
			c.flusher.Flush()
		}
	}
}
