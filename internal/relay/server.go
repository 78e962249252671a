package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"delivery-sync/internal/middleware"
	"delivery-sync/internal/models"
	"delivery-sync/internal/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades requests and attaches them to the hub. It expects
// middleware.Authenticate in front of it.
func ServeWS(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			Hub:     h,
			Conn:    conn,
			Send:    make(chan []byte, 256),
			UserID:  claims.UserID,
			Limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
		}

		select {
		case h.Register <- client:
		case <-h.stopped:
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

type PublishRequest struct {
	Target string         `json:"target"`
	Event  types.Envelope `json:"event"`
}

func (p *PublishRequest) validate() error {
	if p.Target == "" {
		return errors.New("target is required")
	}
	switch p.Event.Type {
	case types.TypeJoin, types.TypeJoined:
		return errors.New("control frames cannot be published")
	}
	if err := p.Event.Validate(); err != nil {
		return err
	}
	if p.Event.Type == types.TypeNewNotification && p.Event.Notification.RecipientID == models.BroadcastRecipient && p.Target != models.BroadcastRecipient {
		return errors.New("broadcast notification must target all")
	}
	return nil
}

// PublishHandler lets the persistence service push events to identities.
func PublishHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		var req PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := req.validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		h.log.Debug("publish", zap.String("by", claims.UserID), zap.String("target", req.Target), zap.String("type", string(req.Event.Type)))
		if !h.Deliver(&Delivery{Target: req.Target, Event: req.Event}) {
			http.Error(w, "Relay busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
