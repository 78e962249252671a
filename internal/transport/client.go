// Package transport keeps one push connection per active identity and turns
// inbound frames into typed callbacks.
//
// Each event kind has exactly one handler; registering again replaces the
// previous one. Connection failures never reach handlers: they are logged and
// followed by a reconnect with exponential backoff. Consumers that need to
// survive outages pair this client with polling.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"delivery-sync/internal/hashing"
	"delivery-sync/internal/models"
	"delivery-sync/internal/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 1 << 20
)

var errNoEndpoint = errors.New("no push endpoint configured")

type Client struct {
	ring       *hashing.Ring
	token      string
	dialer     *websocket.Dialer
	log        *zap.Logger
	newBackoff func() backoff.BackOff

	// ops serializes Connect and Disconnect.
	ops sync.Mutex

	mu             sync.Mutex
	identity       string
	gen            uint64
	cancel         context.CancelFunc
	done           chan struct{}
	live           bool
	onMessage      func(models.Message)
	onNotification func(models.Notification)
	onRoom         func(room models.ChatRoom, actor string)
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithBackoff sets the reconnect policy; the factory is called once per
// connection lifetime.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = factory }
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func New(ring *hashing.Ring, token string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		ring:       ring,
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:        log.Named("transport"),
		newBackoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) OnMessage(h func(models.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

func (c *Client) OnNotification(h func(models.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotification = h
}

// OnRoomUpdate receives room_updated frames with the identity that caused
// the change.
func (c *Client) OnRoomUpdate(h func(room models.ChatRoom, actor string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoom = h
}

// Connect opens the push channel for identity. Connecting again for the same
// identity is a no-op; a different identity replaces the old connection.
func (c *Client) Connect(identity string) {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	if c.cancel != nil && c.identity == identity {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.identity = identity
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info("connecting push channel", zap.String("identity", identity))
	go c.run(ctx, gen, identity, done)
}

// Disconnect tears the channel down. When it returns no handler is running
// and none will run until the next Connect.
func (c *Client) Disconnect() {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.teardown()
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancel, done, identity := c.cancel, c.done, c.identity
	c.cancel, c.done, c.identity, c.live = nil, nil, "", false
	c.gen++
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("push channel closed", zap.String("identity", identity))
}

// Connected reports whether the channel is joined right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *Client) run(ctx context.Context, gen uint64, identity string, done chan struct{}) {
	defer close(done)

	b := c.newBackoff()
	for {
		joined, err := c.session(ctx, gen, identity)
		if ctx.Err() != nil {
			return
		}
		if joined {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = 30 * time.Second
		}
		c.log.Warn("push channel lost, reconnecting",
			zap.String("identity", identity), zap.Duration("in", wait), zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) setLive(gen uint64, live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.live = live
	}
}

// session runs one connection until it drops. joined reports whether the
// handshake completed.
func (c *Client) session(ctx context.Context, gen uint64, identity string) (joined bool, err error) {
	endpoint := c.ring.Get(identity)
	if endpoint == "" {
		return false, errNoEndpoint
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return false, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(&types.Envelope{Type: types.TypeJoin, Identity: identity}); err != nil {
		return false, err
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.setLive(gen, true)
	defer c.setLive(gen, false)
	c.log.Info("push channel joined", zap.String("identity", identity), zap.String("endpoint", endpoint))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// The relay may coalesce queued frames with newlines.
		for _, frame := range bytes.Split(raw, []byte{'\n'}) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			var env types.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				c.log.Debug("dropping undecodable frame", zap.Error(err))
				continue
			}
			if err := env.Validate(); err != nil {
				c.log.Debug("dropping invalid frame", zap.Error(err))
				continue
			}
			c.dispatch(gen, &env)
		}
	}
}

func (c *Client) dispatch(gen uint64, env *types.Envelope) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	onMessage, onNotification, onRoom := c.onMessage, c.onNotification, c.onRoom
	c.mu.Unlock()

	switch env.Type {
	case types.TypeNewMessage:
		if onMessage != nil {
			onMessage(*env.Message)
		}
	case types.TypeNewNotification:
		if onNotification != nil {
			onNotification(*env.Notification)
		}
	case types.TypeRoomUpdated:
		if onRoom != nil {
			onRoom(*env.Room, env.Actor)
		}
	case types.TypeJoined, types.TypeSystem, types.TypeJoin:
		c.log.Debug("control frame", zap.String("type", string(env.Type)), zap.String("content", env.Content))
	}
}
