// Package relay is a small push server: connections join the room of their
// identity and receive every event published to that identity.
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"delivery-sync/internal/models"
	"delivery-sync/internal/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Client struct {
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	Limiter  *rate.Limiter
	UserID   string
	identity string
	once     sync.Once
}

type joinRequest struct {
	client   *Client
	identity string
}

// Delivery is one event addressed to an identity, or to every joined
// identity when Target is models.BroadcastRecipient.
type Delivery struct {
	Target string
	Event  types.Envelope
}

type Hub struct {
	log        *zap.Logger
	pending    map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	Join       chan joinRequest
	Publish    chan *Delivery
	Quit       chan struct{}
	stopped    chan struct{}

	mu     sync.RWMutex
	joined map[string]int
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log.Named("relay"),
		pending:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Join:       make(chan joinRequest),
		Publish:    make(chan *Delivery, 256),
		Quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		joined:     make(map[string]int),
	}
}

// Joined returns how many connections are joined for identity.
func (h *Hub) Joined(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joined[identity]
}

// Stopped is closed when Run has returned.
func (h *Hub) Stopped() <-chan struct{} {
	return h.stopped
}

func (h *Hub) setJoined(identity string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		delete(h.joined, identity)
		return
	}
	h.joined[identity] = n
}

func (h *Hub) cleanupClient(c *Client) {
	c.once.Do(func() {
		delete(h.pending, c)
		if room, ok := h.rooms[c.identity]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.identity)
			}
			h.setJoined(c.identity, len(room))
		}
		c.Conn.Close()
		close(c.Send)
		h.log.Debug("connection closed", zap.String("user", c.UserID), zap.String("identity", c.identity))
	})
}

func (h *Hub) send(c *Client, payload []byte) {
	select {
	case c.Send <- payload:
	default:
		h.log.Warn("evicting slow consumer", zap.String("identity", c.identity))
		h.cleanupClient(c)
	}
}

func (h *Hub) frame(env types.Envelope) []byte {
	payload, err := json.Marshal(&env)
	if err != nil {
		h.log.Error("marshal frame failed", zap.Error(err))
		return nil
	}
	return payload
}

func (h *Hub) Run() {
	defer close(h.stopped)
	h.log.Info("relay hub started")
	for {
		select {
		case <-h.Quit:
			h.log.Info("relay hub stopping", zap.Int("rooms", len(h.rooms)), zap.Int("pending", len(h.pending)))
			for c := range h.pending {
				h.cleanupClient(c)
			}
			for _, room := range h.rooms {
				for c := range room {
					h.cleanupClient(c)
				}
			}
			return

		case c := <-h.Register:
			h.pending[c] = struct{}{}

		case c := <-h.Unregister:
			h.cleanupClient(c)

		case req := <-h.Join:
			c := req.client
			if _, ok := h.pending[c]; !ok {
				continue
			}
			if req.identity != c.UserID {
				h.log.Warn("join for foreign identity refused", zap.String("user", c.UserID), zap.String("identity", req.identity))
				h.send(c, h.frame(types.Envelope{Type: types.TypeSystem, Content: "join refused"}))
				continue
			}
			delete(h.pending, c)
			c.identity = req.identity
			room, ok := h.rooms[req.identity]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[req.identity] = room
			}
			room[c] = struct{}{}
			h.setJoined(req.identity, len(room))
			h.send(c, h.frame(types.Envelope{Type: types.TypeJoined, Identity: req.identity}))
			h.log.Info("identity joined", zap.String("identity", req.identity), zap.Int("connections", len(room)))

		case d := <-h.Publish:
			payload := h.frame(d.Event)
			if payload == nil {
				continue
			}
			if d.Target == models.BroadcastRecipient {
				for _, room := range h.rooms {
					for c := range room {
						h.send(c, payload)
					}
				}
				continue
			}
			for c := range h.rooms[d.Target] {
				h.send(c, payload)
			}
		}
	}
}

// Deliver queues d without blocking the caller for longer than a second.
func (h *Hub) Deliver(d *Delivery) bool {
	select {
	case h.Publish <- d:
		return true
	case <-h.stopped:
		return false
	case <-time.After(time.Second):
		h.log.Warn("publish queue full, dropping event", zap.String("target", d.Target), zap.String("type", string(d.Event.Type)))
		return false
	}
}
