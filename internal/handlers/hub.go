// internal/handlers/hub.go
package handlers

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jason-s-yu/skirmish/internal/router"
	"github.com/sirupsen/logrus"
)

// OutBuffer is the number of outbound events queued per connection before it
// is treated as a slow consumer.
const OutBuffer = 64

// Client is one live websocket connection.
type Client struct {
	ID     string
	UserID string

	out    chan router.Event
	cancel context.CancelFunc
	slow   atomic.Bool
}

func newClient(id, userID string, cancel context.CancelFunc) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		out:    make(chan router.Event, OutBuffer),
		cancel: cancel,
	}
}

// Out is drained by the connection's write pump.
func (c *Client) Out() <-chan router.Event {
	return c.out
}

// Slow reports whether the client was cut off for not keeping up.
func (c *Client) Slow() bool {
	return c.slow.Load()
}

// Hub tracks live clients and the room groups they belong to. It implements
// router.Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]struct{}
	log     logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// unregister drops the client from every group and closes its queue.
func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	for roomID, members := range h.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(h.groups, roomID)
		}
	}
	close(c.out)
}

func (h *Hub) Join(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	members, ok := h.groups[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.groups[roomID] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Leave(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, roomID)
	}
}

func (h *Hub) ToRoom(roomID string, ev router.Event, except ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.groups[roomID] {
		if slices.Contains(except, id) {
			continue
		}
		h.deliver(h.clients[id], ev)
	}
}

func (h *Hub) ToConn(connID string, ev router.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.clients[connID], ev)
}

func (h *Hub) ToAll(ev router.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, ev)
	}
}

// Members lists the connection ids in a room group.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups[roomID]))
	for id := range h.groups[roomID] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver queues ev without blocking. A client whose queue is full is cut off
// and has to reconnect. Callers hold h.mu for reading so the queue stays open.
func (h *Hub) deliver(c *Client, ev router.Event) {
	if c == nil {
		return
	}
	select {
	case c.out <- ev:
	default:
		if c.slow.CompareAndSwap(false, true) {
			h.log.WithFields(logrus.Fields{"conn": c.ID, "event": ev.Type}).
				Warn("outbound queue full, dropping connection")
			c.cancel()
		}
	}
}
