package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"delivery-sync/internal/api"
	"delivery-sync/internal/mediator"
	"delivery-sync/internal/models"
	"delivery-sync/internal/scheduler"
	"delivery-sync/internal/session"
	"delivery-sync/internal/surfaced"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errOffline = errors.New("dial tcp: network is unreachable")

type fakeAPI struct {
	mu            sync.Mutex
	rooms         []models.ChatRoom
	messages      map[string][]models.Message
	notifications []models.Notification
	sendErr       error
	deleteErr     error
	readErr       error
	listErr       error
	beforeList    func(roomID string)
	nextID        int
	calls         []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: make(map[string][]models.Message)}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeAPI) setMessages(roomID string, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[roomID] = msgs
}

func (f *fakeAPI) ListRooms(ctx context.Context) ([]models.ChatRoom, error) {
	f.record("ListRooms")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatRoom(nil), f.rooms...), nil
}

func (f *fakeAPI) CreateRoom(ctx context.Context, req api.CreateRoomRequest) (*models.ChatRoom, error) {
	f.record("CreateRoom")
	return &models.ChatRoom{ID: "new", Name: req.Name, Participants: req.Participants, Status: models.RoomActive}, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	f.record("ListMessages " + roomID)
	f.mu.Lock()
	hook := f.beforeList
	f.beforeList = nil
	f.mu.Unlock()
	if hook != nil {
		hook(roomID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Message(nil), f.messages[roomID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, roomID, content string) (*models.Message, error) {
	f.record("SendMessage " + roomID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	self := "alice"
	return &models.Message{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		RoomID:    roomID,
		SenderID:  &self,
		Content:   content,
		CreatedAt: time.Now(),
		Status:    models.StatusSent,
	}, nil
}

func (f *fakeAPI) MarkRoomRead(ctx context.Context, roomID string) error {
	f.record("MarkRoomRead " + roomID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr
}

func (f *fakeAPI) ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error) {
	f.record("ListNotifications " + recipientID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.notifications...), nil
}

func (f *fakeAPI) MarkNotificationRead(ctx context.Context, id string) error {
	f.record("MarkNotificationRead " + id)
	return nil
}

func (f *fakeAPI) DismissNotification(ctx context.Context, id string) error {
	f.record("DismissNotification " + id)
	return nil
}

func (f *fakeAPI) MarkAllNotificationsRead(ctx context.Context, recipientID string) error {
	f.record("MarkAllNotificationsRead " + recipientID)
	return nil
}

func (f *fakeAPI) DeleteNotification(ctx context.Context, id string) error {
	f.record("DeleteNotification " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

type fakePush struct {
	mu           sync.Mutex
	onMsg        func(models.Message)
	onNotif      func(models.Notification)
	onRoom       func(models.ChatRoom, string)
	connected    string
	disconnected bool
}

func (p *fakePush) Connect(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = identity
}

func (p *fakePush) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

func (p *fakePush) OnMessage(fn func(models.Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMsg = fn
}

func (p *fakePush) OnNotification(fn func(models.Notification)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNotif = fn
}

func (p *fakePush) OnRoomUpdate(fn func(models.ChatRoom, string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRoom = fn
}

func (p *fakePush) message(m models.Message) {
	p.mu.Lock()
	fn := p.onMsg
	p.mu.Unlock()
	fn(m)
}

func (p *fakePush) notification(n models.Notification) {
	p.mu.Lock()
	fn := p.onNotif
	p.mu.Unlock()
	fn(n)
}

func (p *fakePush) room(r models.ChatRoom, actor string) {
	p.mu.Lock()
	fn := p.onRoom
	p.mu.Unlock()
	fn(r, actor)
}

type fakePoller struct {
	mu      sync.Mutex
	scopes  map[scheduler.Kind]string
	fns     map[scheduler.Kind]scheduler.PollFunc
	stopped bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		scopes: make(map[scheduler.Kind]string),
		fns:    make(map[scheduler.Kind]scheduler.PollFunc),
	}
}

func (p *fakePoller) Start() {}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.scopes = make(map[scheduler.Kind]string)
}

func (p *fakePoller) Schedule(kind scheduler.Kind, scope string, fn scheduler.PollFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes[kind] = scope
	p.fns[kind] = fn
	return nil
}

func (p *fakePoller) Cancel(kind scheduler.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.scopes, kind)
}

func (p *fakePoller) active(kind scheduler.Kind) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[kind]
	return s, ok
}

func (p *fakePoller) fn(kind scheduler.Kind) scheduler.PollFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fns[kind]
}

type fixture struct {
	hub    *Hub
	api    *fakeAPI
	push   *fakePush
	poller *fakePoller
	sess   *session.State
	store  surfaced.Store
}

func newFixture(t *testing.T, opts Options, surfacedIDs ...string) *fixture {
	t.Helper()
	store, err := surfaced.NewFileStore(t.TempDir())
	require.NoError(t, err)
	if len(surfacedIDs) > 0 {
		require.NoError(t, store.Append(context.Background(), "alice", surfacedIDs...))
	}
	sess, err := session.Start(context.Background(), "alice", "tok", store,
		mediator.Features{Chat: true, Notifications: true}, mediator.New(), zap.NewNop())
	require.NoError(t, err)

	f := &fixture{api: newFakeAPI(), push: &fakePush{}, poller: newFakePoller(), sess: sess, store: store}
	f.api.rooms = []models.ChatRoom{
		{ID: "R1", Name: "billing", Participants: []string{"alice", "bob"}, Status: models.RoomActive},
		{ID: "R2", Name: "support", Participants: []string{"alice", "carol"}, Status: models.RoomActive},
	}
	f.hub = New(sess, f.api, f.push, f.poller, opts, zap.NewNop())
	f.hub.Start()
	t.Cleanup(func() {
		f.hub.Stop()
		sess.Close()
	})
	// Start applies the feature flags on the loop; wait for it.
	f.state(t)
	return f
}

func (f *fixture) state(t *testing.T) Snapshot {
	t.Helper()
	snap, err := f.hub.State()
	require.NoError(t, err)
	return snap
}

func from(sender, id, room string, at time.Time) models.Message {
	return models.Message{ID: id, RoomID: room, SenderID: &sender, Content: "msg " + id, CreatedAt: at, Status: models.StatusSent}
}

func TestStartWiresPushAndPolling(t *testing.T) {
	f := newFixture(t, Options{})
	snap := f.state(t)
	assert.True(t, snap.Features.Chat)

	f.push.mu.Lock()
	assert.Equal(t, "alice", f.push.connected)
	f.push.mu.Unlock()

	scope, ok := f.poller.active(scheduler.KindRooms)
	assert.True(t, ok)
	assert.Equal(t, "alice", scope)
	_, ok = f.poller.active(scheduler.KindNotifications)
	assert.True(t, ok)
	_, ok = f.poller.active(scheduler.KindMessages)
	assert.False(t, ok)
}

func TestPollThenPushKeepsOneMessage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.hub.LoadRooms(ctx))
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R1"))

	m1 := from("bob", "M1", "R1", time.Now())
	f.api.setMessages("R1", m1)
	require.NoError(t, f.poller.fn(scheduler.KindMessages)(ctx, "R1"))
	f.push.message(m1)

	snap := f.state(t)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "M1", snap.Messages[0].ID)
	assert.Equal(t, models.StatusSent, snap.Messages[0].Status)
}

func TestOfflineSendKeepsFailedPlaceholder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R1"))
	f.api.mu.Lock()
	f.api.sendErr = errOffline
	f.api.mu.Unlock()

	var pending atomic.Bool
	unsub := f.hub.Subscribe(func(s Snapshot) {
		for _, m := range s.Messages {
			if m.Status == models.StatusPending {
				pending.Store(true)
			}
		}
	})
	defer unsub()

	err := f.hub.SendMessage(ctx, "hello")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "sendMessage", ae.Action)
	assert.ErrorIs(t, err, errOffline)
	assert.True(t, pending.Load(), "placeholder must be visible while pending")

	snap := f.state(t)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.StatusFailed, snap.Messages[0].Status)
	assert.Equal(t, "hello", snap.Messages[0].Content)
	assert.NotEmpty(t, snap.Error)
}

func TestSendReplacesPlaceholderWithServerRecord(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R1"))

	var announced atomic.Int32
	defer f.hub.SubscribeToMessages(func(models.Message) { announced.Add(1) })()

	require.NoError(t, f.hub.SendMessage(ctx, "hello"))
	snap := f.state(t)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "srv-1", snap.Messages[0].ID)
	assert.False(t, snap.Messages[0].IsPlaceholder())

	// The server echo over push changes nothing.
	f.push.message(snap.Messages[0])
	snap = f.state(t)
	assert.Len(t, snap.Messages, 1)
	assert.Equal(t, int32(1), announced.Load())
}

func TestSendNeedsFocusedRoom(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.hub.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoRoom)
	assert.ErrorIs(t, f.hub.SendMessage(context.Background(), "  "), ErrEmpty)
	assert.False(t, f.api.called("SendMessage "))
}

func TestStaleMessagePollIsDiscarded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R1"))
	oldPoll := f.poller.fn(scheduler.KindMessages)

	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R2"))
	f.api.setMessages("R1", from("bob", "late", "R1", time.Now()))
	require.NoError(t, oldPoll(ctx, "R1"))

	snap := f.state(t)
	assert.Equal(t, "R2", snap.CurrentRoomID)
	assert.Empty(t, snap.Messages)
	scope, ok := f.poller.active(scheduler.KindMessages)
	assert.True(t, ok)
	assert.Equal(t, "R2", scope)
}

func TestUnreadCountsAndResetsOnFocus(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.hub.LoadRooms(ctx))
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R2"))

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		f.push.message(from("bob", id, "R1", base.Add(time.Duration(i)*time.Second)))
	}
	f.push.message(from("bob", "b", "R1", base.Add(time.Second)))
	f.push.message(from("alice", "mine", "R1", base.Add(5*time.Second)))
	assert.Equal(t, 3, f.state(t).UnreadCount)

	f.api.setMessages("R1",
		from("bob", "a", "R1", base),
		from("bob", "b", "R1", base.Add(time.Second)),
		from("bob", "c", "R1", base.Add(2*time.Second)))
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R1"))

	snap := f.state(t)
	assert.Zero(t, snap.UnreadCount)
	require.Len(t, snap.Messages, 3)
	for _, m := range snap.Messages {
		assert.Equal(t, models.StatusRead, m.Status)
	}
	assert.True(t, f.api.called("MarkRoomRead R1"))
}

func TestSurfacedNotificationNeverToasts(t *testing.T) {
	f := newFixture(t, Options{}, "n1")
	n1 := models.Notification{ID: "n1", Type: models.NotificationInfo, RecipientID: "alice", CreatedAt: time.Now()}

	f.push.notification(n1)
	f.api.mu.Lock()
	f.api.notifications = []models.Notification{n1}
	f.api.mu.Unlock()
	require.NoError(t, f.poller.fn(scheduler.KindNotifications)(context.Background(), "alice"))

	snap := f.state(t)
	assert.Empty(t, snap.Toasts)
	require.Len(t, snap.Notifications, 1)
	assert.True(t, snap.Notifications[0].IsDismissed())
}

func TestCappedNotificationToastsAfterRestart(t *testing.T) {
	store, err := surfaced.NewFileStore(t.TempDir())
	require.NoError(t, err)
	n1 := models.Notification{ID: "n1", Type: models.NotificationInfo, RecipientID: "alice", CreatedAt: time.Now()}
	n2 := models.Notification{ID: "n2", Type: models.NotificationInfo, RecipientID: "alice", CreatedAt: time.Now()}

	run := func() (*Hub, *fakePush, *session.State) {
		sess, err := session.Start(context.Background(), "alice", "tok", store,
			mediator.Features{Chat: true, Notifications: true}, mediator.New(), zap.NewNop())
		require.NoError(t, err)
		push := &fakePush{}
		h := New(sess, newFakeAPI(), push, newFakePoller(), Options{MaxToasts: 1}, zap.NewNop())
		h.Start()
		return h, push, sess
	}

	h, push, sess := run()
	push.notification(n1)
	push.notification(n2)
	snap, err := h.State()
	require.NoError(t, err)
	require.Len(t, snap.Toasts, 1)
	assert.Equal(t, "n1", snap.Toasts[0].ID)
	assert.False(t, sess.Surfaced("n2"))
	h.Stop()
	sess.Close()

	h, push, sess = run()
	defer func() {
		h.Stop()
		sess.Close()
	}()
	push.notification(n1)
	push.notification(n2)
	snap, err = h.State()
	require.NoError(t, err)
	require.Len(t, snap.Toasts, 1)
	assert.Equal(t, "n2", snap.Toasts[0].ID)
	assert.True(t, sess.Surfaced("n2"))
}

func TestNewNotificationToastsOnceAndIsRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	n := models.Notification{ID: "n2", Type: models.NotificationWarning, RecipientID: models.BroadcastRecipient, CreatedAt: time.Now()}
	f.push.notification(n)
	f.push.notification(n)
	f.push.notification(models.Notification{ID: "other", RecipientID: "bob"})

	snap := f.state(t)
	require.Len(t, snap.Toasts, 1)
	assert.Equal(t, 1, snap.UnreadNotifications)
	assert.True(t, f.sess.Surfaced("n2"))

	f.hub.MarkAsRead("n2")
	snap = f.state(t)
	assert.Empty(t, snap.Toasts)
	assert.Zero(t, snap.UnreadNotifications)
	assert.Eventually(t, func() bool { return f.api.called("MarkNotificationRead n2") }, time.Second, 5*time.Millisecond)
}

func TestDismissAndMarkAll(t *testing.T) {
	f := newFixture(t, Options{})
	for _, id := range []string{"x", "y"} {
		f.push.notification(models.Notification{ID: id, Type: models.NotificationInfo, RecipientID: "alice", CreatedAt: time.Now()})
	}
	f.hub.Dismiss("x")
	snap := f.state(t)
	require.Len(t, snap.Toasts, 1)
	assert.Equal(t, 2, snap.UnreadNotifications)

	f.hub.MarkAllAsRead()
	snap = f.state(t)
	assert.Zero(t, snap.UnreadNotifications)
	assert.Len(t, snap.Notifications, 2)
	assert.Eventually(t, func() bool { return f.api.called("MarkAllNotificationsRead alice") }, time.Second, 5*time.Millisecond)
}

func TestDeleteNotificationRollsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.push.notification(models.Notification{ID: "d1", Type: models.NotificationInfo, RecipientID: "alice", CreatedAt: time.Now()})
	f.api.mu.Lock()
	f.api.deleteErr = api.ErrNotFound
	f.api.mu.Unlock()

	err := f.hub.DeleteNotification(context.Background(), "d1")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "not found", ae.Reason)
	assert.Len(t, f.state(t).Notifications, 1)

	f.api.mu.Lock()
	f.api.deleteErr = nil
	f.api.mu.Unlock()
	require.NoError(t, f.hub.DeleteNotification(context.Background(), "d1"))
	assert.Empty(t, f.state(t).Notifications)
	assert.ErrorIs(t, f.hub.DeleteNotification(context.Background(), "d1"), ErrUnknown)
}

func TestRoomUpdateFromSelfEscalatesStatus(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.hub.LoadRooms(context.Background()))

	var updates atomic.Int32
	defer f.hub.SubscribeToRoomUpdates(func(models.ChatRoom) { updates.Add(1) })()

	f.push.room(models.ChatRoom{ID: "R1", Name: "billing", Status: models.RoomClosed}, "alice")
	f.push.room(models.ChatRoom{ID: "R1", Name: "billing", Status: models.RoomArchived}, "alice")

	snap := f.state(t)
	for _, r := range snap.Rooms {
		if r.ID == "R1" {
			assert.Equal(t, models.RoomClosed, r.Status)
		}
	}
	assert.Equal(t, int32(2), updates.Load())
}

func TestCreateRoomJoinsDirectory(t *testing.T) {
	f := newFixture(t, Options{})
	room, err := f.hub.CreateRoom(context.Background(), api.CreateRoomRequest{Name: "new room", Participants: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "new", room.ID)
	assert.Len(t, f.state(t).Rooms, 1)
}

func TestDisablingChatStopsPollingAndIgnoresPush(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.hub.LoadRooms(ctx))
	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R2"))

	f.sess.SetFeatures(mediator.Features{Chat: false, Notifications: true})
	f.push.message(from("bob", "ignored", "R1", time.Now()))

	snap := f.state(t)
	assert.False(t, snap.Features.Chat)
	assert.Zero(t, snap.UnreadCount)
	_, ok := f.poller.active(scheduler.KindRooms)
	assert.False(t, ok)
	_, ok = f.poller.active(scheduler.KindMessages)
	assert.False(t, ok)
	_, ok = f.poller.active(scheduler.KindNotifications)
	assert.True(t, ok)
	assert.ErrorIs(t, f.hub.SendMessage(ctx, "hi"), ErrChatOff)

	f.sess.SetFeatures(mediator.Features{Chat: true, Notifications: true})
	f.state(t)
	scope, ok := f.poller.active(scheduler.KindMessages)
	assert.True(t, ok)
	assert.Equal(t, "R2", scope)
}

func TestToastAutoCloses(t *testing.T) {
	f := newFixture(t, Options{ToastTick: 5 * time.Millisecond})
	f.push.notification(models.Notification{
		ID: "t1", Type: models.NotificationSuccess, RecipientID: "alice",
		CreatedAt: time.Now(), AutoClose: true, DurationMS: 20,
	})
	f.push.notification(models.Notification{
		ID: "t2", Type: models.NotificationError, RecipientID: "alice",
		CreatedAt: time.Now(), AutoClose: true, DurationMS: 20,
	})

	assert.Eventually(t, func() bool {
		toasts := f.state(t).Toasts
		return len(toasts) == 1 && toasts[0].ID == "t2"
	}, time.Second, 10*time.Millisecond)
}

func TestNothingFiresAfterStop(t *testing.T) {
	f := newFixture(t, Options{})
	var calls atomic.Int32
	f.hub.Subscribe(func(Snapshot) { calls.Add(1) })
	f.state(t)

	f.hub.Stop()
	before := calls.Load()
	f.push.message(from("bob", "late", "R1", time.Now()))
	f.push.notification(models.Notification{ID: "late", RecipientID: "alice"})

	assert.Equal(t, before, calls.Load())
	_, err := f.hub.State()
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, f.hub.LoadRooms(context.Background()), ErrStopped)

	f.push.mu.Lock()
	assert.True(t, f.push.disconnected)
	f.push.mu.Unlock()
	f.poller.mu.Lock()
	assert.True(t, f.poller.stopped)
	f.poller.mu.Unlock()
}

func TestFailedHistoryLeavesRoomUnread(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.mu.Lock()
	f.api.listErr = errOffline
	f.api.mu.Unlock()

	err := f.hub.SetCurrentRoom(context.Background(), "R1")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "loadHistory", ae.Action)
	assert.False(t, f.api.called("MarkRoomRead R1"))

	scope, ok := f.poller.active(scheduler.KindMessages)
	assert.True(t, ok)
	assert.Equal(t, "R1", scope)
}

func TestFocusMovedDuringLoadSkipsRead(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.api.mu.Lock()
	f.api.beforeList = func(string) {
		require.NoError(t, f.hub.SetCurrentRoom(ctx, "R2"))
	}
	f.api.mu.Unlock()

	require.NoError(t, f.hub.SetCurrentRoom(ctx, "R1"))
	assert.Equal(t, "R2", f.state(t).CurrentRoomID)
	assert.False(t, f.api.called("MarkRoomRead R1"))
	assert.True(t, f.api.called("MarkRoomRead R2"))
}

func TestClosingSessionStopsHub(t *testing.T) {
	f := newFixture(t, Options{})
	f.sess.Close()

	_, err := f.hub.State()
	assert.ErrorIs(t, err, ErrStopped)
	f.push.mu.Lock()
	assert.True(t, f.push.disconnected)
	f.push.mu.Unlock()
	f.poller.mu.Lock()
	assert.True(t, f.poller.stopped)
	f.poller.mu.Unlock()
}
