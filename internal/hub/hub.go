// Package hub fans trace records out to monitor clients.
package hub

import (
	"sync"

	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/trace"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

type Client struct {
	Out       chan trace.Record
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client with an outbound buffer of n records.
func NewClient(n int) *Client {
	return &Client{Out: make(chan trace.Record, n), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

var _ trace.Sink = (*Hub)(nil)

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetTapClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("monitors_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetTapClients(cur)
	if existed && cur == 0 {
		logging.L().Info("monitors_last_disconnected")
	}
}

// Broadcast sends a record to all connected clients honoring the
// backpressure policy. It never blocks; with no clients it does nothing.
func (h *Hub) Broadcast(r trace.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.Out <- r:
		default:
			if h.Policy == PolicyKick {
				metrics.IncTapKick()
				c.Close() // writer exits; the tap server removes it on disconnect
			} else {
				metrics.IncTapDrop()
			}
		}
	}
}

// Active reports whether any client is connected, letting producers skip
// building records nobody will read.
func (h *Hub) Active() bool { return h.Count() > 0 }

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
