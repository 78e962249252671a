package relay

import (
	"encoding/json"
	"time"

	"delivery-sync/internal/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	maxInbound = 512
)

func (c *Client) unregister() {
	select {
	case c.Hub.Unregister <- c:
	case <-c.Hub.stopped:
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.unregister()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.Send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(msg)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump accepts join frames only; events flow from the publish endpoint.
func (c *Client) ReadPump() {
	defer func() {
		c.unregister()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxInbound)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.log.Debug("unexpected close", zap.String("user", c.UserID), zap.Error(err))
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.Limiter.Allow() {
			c.Hub.log.Debug("inbound frame rate limited", zap.String("user", c.UserID))
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		if env.Type != types.TypeJoin || env.Validate() != nil {
			continue
		}

		select {
		case c.Hub.Join <- joinRequest{client: c, identity: env.Identity}:
		case <-c.Hub.stopped:
			return
		}
	}
}
