package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

const deliverBufSize = 256

// Hub tracks connected clients per user and fans events out to them. A user
// may hold several connections (one per open tab).
type Hub struct {
	clients map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	stopped    chan struct{}

	logger *slog.Logger
}

type delivery struct {
	userID uuid.UUID
	data   []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, deliverBufSize),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client registry until ctx is cancelled, then drops every
// connection.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]struct{})
			return nil

		case c := <-h.register:
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.logger.Debug("ws client connected", "user_id", c.userID, "connections", len(set))

		case c := <-h.unregister:
			h.remove(c)

		case d := <-h.deliver:
			for c := range h.clients[d.userID] {
				select {
				case c.send <- d.data:
				default:
					h.logger.Warn("ws client too slow, dropping", "user_id", c.userID)
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.Debug("ws client disconnected", "user_id", c.userID)
}

// Register adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// SendToUser queues an event for every connection of userID. Events are
// dropped when the hub is backed up; clients catch up by polling.
func (h *Hub) SendToUser(userID uuid.UUID, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("ws event marshal failed", "type", event.Type, "error", err)
		return
	}
	select {
	case h.deliver <- delivery{userID: userID, data: data}:
	default:
		h.logger.Warn("ws hub backlog full, event dropped", "user_id", userID, "type", event.Type)
	}
}
