// Package delivery runs the event loop that owns the room directory, the
// message stream and the notification inbox.
//
// Push callbacks, poll results and action completions are posted to the loop
// as closures; network calls never run on it. Subscribers are called on the
// loop goroutine and must not call hub actions synchronously.
package delivery

import (
	"context"
	"sync"
	"time"

	"delivery-sync/internal/api"
	"delivery-sync/internal/inbox"
	"delivery-sync/internal/mediator"
	"delivery-sync/internal/models"
	"delivery-sync/internal/rooms"
	"delivery-sync/internal/scheduler"
	"delivery-sync/internal/session"
	"delivery-sync/internal/stream"

	"go.uber.org/zap"
)

// API is the persistence service as seen by the hub.
type API interface {
	ListRooms(ctx context.Context) ([]models.ChatRoom, error)
	CreateRoom(ctx context.Context, req api.CreateRoomRequest) (*models.ChatRoom, error)
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error)
	SendMessage(ctx context.Context, roomID, content string) (*models.Message, error)
	MarkRoomRead(ctx context.Context, roomID string) error
	ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DismissNotification(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string) error
	DeleteNotification(ctx context.Context, id string) error
}

// Push is the push channel client.
type Push interface {
	Connect(identity string)
	Disconnect()
	OnMessage(func(models.Message))
	OnNotification(func(models.Notification))
	OnRoomUpdate(func(room models.ChatRoom, actor string))
}

// Poller runs the fallback fetch loops.
type Poller interface {
	Start()
	Stop()
	Schedule(kind scheduler.Kind, scope string, fn scheduler.PollFunc) error
	Cancel(kind scheduler.Kind)
}

type Options struct {
	HistoryPageSize   int
	MaxToasts         int
	PlaceholderWindow time.Duration
	// ToastTick is how often auto-closing toasts are checked.
	ToastTick time.Duration
	// ConfirmTimeout bounds background confirmations of notification actions.
	ConfirmTimeout time.Duration
}

func (o *Options) defaults() {
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = 50
	}
	if o.MaxToasts <= 0 {
		o.MaxToasts = inbox.DefaultMaxToasts
	}
	if o.PlaceholderWindow <= 0 {
		o.PlaceholderWindow = stream.DefaultPlaceholderWindow
	}
	if o.ToastTick <= 0 {
		o.ToastTick = time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 15 * time.Second
	}
}

// Snapshot is what the presentation layer renders.
type Snapshot struct {
	Rooms               []models.ChatRoom
	CurrentRoomID       string
	Messages            []models.Message
	Notifications       []models.Notification
	Toasts              []models.Notification
	UnreadCount         int
	UnreadNotifications int
	Loading             bool
	Error               string
	Features            mediator.Features
}

type Hub struct {
	opts  Options
	log   *zap.Logger
	sess  *session.State
	api   API
	push  Push
	sched Poller

	// Owned by the loop goroutine.
	rooms    *rooms.Directory
	stream   *stream.Stream
	inbox    *inbox.Inbox
	features mediator.Features
	loading  int
	lastErr  string

	events chan func()
	quit   chan struct{}
	done   chan struct{}

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	subMu    sync.Mutex
	nextSub  int
	snapSubs map[int]func(Snapshot)
	msgSubs  map[int]func(models.Message)
	roomSubs map[int]func(models.ChatRoom)

	startOnce     sync.Once
	stopOnce      sync.Once
	unsubFeatures func()
	unsubEnded    func()
}

func New(sess *session.State, client API, push Push, poller Poller, opts Options, log *zap.Logger) *Hub {
	opts.defaults()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Hub{
		opts:     opts,
		log:      log.Named("hub"),
		sess:     sess,
		api:      client,
		push:     push,
		sched:    poller,
		rooms:    rooms.New(sess.Identity),
		stream:   stream.New(sess.Identity, opts.PlaceholderWindow),
		inbox:    inbox.New(sess.Identity, sess, opts.MaxToasts),
		events:   make(chan func(), 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
		snapSubs: make(map[int]func(Snapshot)),
		msgSubs:  make(map[int]func(models.Message)),
		roomSubs: make(map[int]func(models.ChatRoom)),
	}
}

// Start wires the push handlers, starts the loop and the poll loops the
// current feature flags allow, and opens the push channel.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.push.OnMessage(func(m models.Message) {
			h.post(func() { h.receiveMessages([]models.Message{m}, false) })
		})
		h.push.OnNotification(func(n models.Notification) {
			h.post(func() { h.receiveNotifications([]models.Notification{n}) })
		})
		h.push.OnRoomUpdate(func(room models.ChatRoom, actor string) {
			h.post(func() { h.receiveRoomUpdate(room, actor) })
		})
		h.unsubFeatures = h.sess.Events.FeaturesChanged.Subscribe(func(ev mediator.FeaturesChanged) {
			h.post(func() { h.applyFeatures(ev.Current) })
		})
		h.unsubEnded = h.sess.Events.SessionEnded.Subscribe(func(ev mediator.SessionEnded) {
			if ev.Identity == h.sess.Identity {
				h.Stop()
			}
		})

		go h.run()
		h.sched.Start()
		initial := h.sess.Features()
		h.post(func() { h.applyFeatures(initial) })
		h.push.Connect(h.sess.Identity)
		h.log.Info("delivery hub started", zap.String("identity", h.sess.Identity))
	})
}

// Stop tears everything down. When it returns no poll, push callback or
// subscriber will run again. Closing the session stops the hub as well.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		started := true
		h.startOnce.Do(func() { started = false })
		if !started {
			close(h.quit)
			return
		}

		h.unsubFeatures()
		h.unsubEnded()
		h.sched.Stop()
		h.push.Disconnect()

		close(h.quit)
		<-h.done
		h.bgCancel()
		h.bg.Wait()
		h.log.Info("delivery hub stopped", zap.String("identity", h.sess.Identity))
	})
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.opts.ToastTick)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case fn := <-h.events:
			fn()
		case now := <-ticker.C:
			if expired := h.inbox.Expire(now); len(expired) > 0 {
				h.log.Debug("toasts auto-closed", zap.Strings("ids", expired))
				h.emit()
			}
		}
	}
}

// post queues fn for the loop. It returns false once the hub is stopping.
func (h *Hub) post(fn func()) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.events <- fn:
		return true
	case <-h.quit:
		return false
	}
}

// exec runs fn on the loop and waits for it.
func (h *Hub) exec(fn func()) error {
	finished := make(chan struct{})
	if !h.post(func() { fn(); close(finished) }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-h.quit:
		return ErrStopped
	}
}

// Subscribe registers fn for snapshots. fn receives the current snapshot
// right away and then one per change.
func (h *Hub) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.snapSubs[id] = fn
	h.subMu.Unlock()

	h.post(func() {
		h.subMu.Lock()
		cur, ok := h.snapSubs[id]
		h.subMu.Unlock()
		if ok {
			cur(h.snapshot())
		}
	})
	return func() {
		h.subMu.Lock()
		delete(h.snapSubs, id)
		h.subMu.Unlock()
	}
}

// SubscribeToMessages calls fn for every message seen for the first time,
// from push or poll, in any room.
func (h *Hub) SubscribeToMessages(fn func(models.Message)) (unsubscribe func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.msgSubs[id] = fn
	return func() {
		h.subMu.Lock()
		delete(h.msgSubs, id)
		h.subMu.Unlock()
	}
}

// SubscribeToRoomUpdates calls fn with the merged room whenever a room
// changes through push or a new message.
func (h *Hub) SubscribeToRoomUpdates(fn func(models.ChatRoom)) (unsubscribe func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.roomSubs[id] = fn
	return func() {
		h.subMu.Lock()
		delete(h.roomSubs, id)
		h.subMu.Unlock()
	}
}

// snapshot builds what subscribers see. Toasts in it count as shown, so
// they are recorded as surfaced here.
func (h *Hub) snapshot() Snapshot {
	if ids := h.inbox.Surface(); len(ids) > 0 {
		h.log.Debug("notifications surfaced", zap.Strings("ids", ids))
	}
	return Snapshot{
		Rooms:               h.rooms.Rooms(),
		CurrentRoomID:       h.rooms.Current(),
		Messages:            h.stream.Messages(),
		Notifications:       h.inbox.Notifications(),
		Toasts:              h.inbox.Toasts(),
		UnreadCount:         h.rooms.TotalUnread(),
		UnreadNotifications: h.inbox.Unread(),
		Loading:             h.loading > 0,
		Error:               h.lastErr,
		Features:            h.features,
	}
}

func (h *Hub) emit() {
	h.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(h.snapSubs))
	for _, fn := range h.snapSubs {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap := h.snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

func (h *Hub) announceMessage(m models.Message) {
	h.subMu.Lock()
	subs := make([]func(models.Message), 0, len(h.msgSubs))
	for _, fn := range h.msgSubs {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()
	for _, fn := range subs {
		fn(m)
	}
}

func (h *Hub) announceRoom(r models.ChatRoom) {
	h.subMu.Lock()
	subs := make([]func(models.ChatRoom), 0, len(h.roomSubs))
	for _, fn := range h.roomSubs {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()
	for _, fn := range subs {
		fn(r)
	}
}

// State returns a snapshot taken on the loop.
func (h *Hub) State() (Snapshot, error) {
	var snap Snapshot
	err := h.exec(func() { snap = h.snapshot() })
	return snap, err
}
