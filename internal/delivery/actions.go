package delivery

import (
	"context"
	"strings"

	"delivery-sync/internal/api"
	"delivery-sync/internal/models"
	"delivery-sync/internal/reconcile"
	"delivery-sync/internal/scheduler"

	"go.uber.org/zap"
)

// Actions block the caller until the local state reflects the outcome. They
// need a started hub and must not be called from subscriber callbacks.

func (h *Hub) LoadRooms(ctx context.Context) error {
	if err := h.loadRooms(ctx, true); err != nil {
		return actionFailed("loadRooms", err)
	}
	return nil
}

// SetCurrentRoom focuses roomID, loads its latest page, marks it read and
// moves message polling to it. The room is only marked read if its page
// loaded and it is still focused. An empty id clears focus.
func (h *Hub) SetCurrentRoom(ctx context.Context, roomID string) error {
	const action = "setCurrentRoom"
	var changed bool
	var pre error
	if err := h.exec(func() {
		if roomID != "" && !h.features.Chat {
			pre = ErrChatOff
			return
		}
		if h.rooms.Current() == roomID {
			return
		}
		changed = true
		h.sched.Cancel(scheduler.KindMessages)
		h.rooms.Focus(roomID)
		h.stream.Reset(roomID)
		h.emit()
	}); err != nil {
		return actionFailed(action, err)
	}
	if pre != nil {
		return actionFailed(action, pre)
	}
	if !changed || roomID == "" {
		return nil
	}
	h.log.Info("room focused", zap.String("room", roomID))

	loadErr := h.LoadHistory(ctx, roomID, h.opts.HistoryPageSize, 0)

	var current bool
	if err := h.exec(func() { current = h.rooms.Current() == roomID }); err != nil {
		return actionFailed(action, err)
	}
	var readErr error
	if loadErr == nil && current {
		readErr = h.MarkRoomRead(ctx, roomID)
	}

	if err := h.exec(func() {
		if h.rooms.Current() == roomID && h.features.Chat {
			h.schedule(scheduler.KindMessages, roomID, h.pollMessages)
		}
	}); err != nil {
		return actionFailed(action, err)
	}
	if loadErr != nil {
		return loadErr
	}
	return readErr
}

// LoadHistory fetches one page of roomID. The page is dropped if focus moved
// while it was in flight.
func (h *Hub) LoadHistory(ctx context.Context, roomID string, limit, offset int) error {
	const action = "loadHistory"
	if err := h.exec(func() {
		h.loading++
		h.emit()
	}); err != nil {
		return actionFailed(action, err)
	}

	page, err := h.api.ListMessages(ctx, roomID, limit, offset)

	var ae *ActionError
	if err != nil {
		ae = actionFailed(action, err)
	}
	if xerr := h.exec(func() {
		h.loading--
		h.setError(ae)
		if err == nil {
			if h.stream.RoomID() == roomID {
				h.receiveMessages(page, true)
			} else {
				h.log.Debug("stale history page dropped", zap.String("room", roomID))
			}
		}
		h.emit()
	}); xerr != nil {
		return actionFailed(action, xerr)
	}
	if ae != nil {
		return ae
	}
	return nil
}

// SendMessage posts content to the focused room. A pending placeholder shows
// right away; it is replaced by the server's record on success and marked
// failed, but kept, on error.
func (h *Hub) SendMessage(ctx context.Context, content string) error {
	const action = "sendMessage"
	if strings.TrimSpace(content) == "" {
		return actionFailed(action, ErrEmpty)
	}

	var (
		pre         error
		roomID      string
		placeholder models.Message
	)
	if err := h.exec(func() {
		if !h.features.Chat {
			pre = ErrChatOff
			return
		}
		roomID = h.stream.RoomID()
		if roomID == "" {
			pre = ErrNoRoom
			return
		}
		placeholder = h.stream.AddPlaceholder(roomID, content)
		h.emit()
	}); err != nil {
		return actionFailed(action, err)
	}
	if pre != nil {
		return actionFailed(action, pre)
	}

	created, err := h.api.SendMessage(ctx, roomID, content)

	var ae *ActionError
	if err != nil {
		ae = actionFailed(action, err)
	}
	if xerr := h.exec(func() {
		if err != nil {
			h.stream.Fail(placeholder.LocalID)
			h.setError(ae)
			h.emit()
			return
		}
		out := h.stream.Confirm(placeholder.LocalID, *created)
		room, fresh := h.rooms.ObserveMessage(*created)
		if fresh {
			h.announceRoom(room)
		}
		if fresh || out == reconcile.Inserted || out == reconcile.Replaced {
			h.announceMessage(*created)
		}
		h.setError(nil)
		h.emit()
	}); xerr != nil {
		return actionFailed(action, xerr)
	}
	if ae != nil {
		h.log.Warn("send failed", zap.String("room", roomID), zap.Error(err))
		return ae
	}
	return nil
}

// MarkRoomRead marks every message from others in roomID read and zeroes its
// unread count, then confirms with the server. Read marks are not rolled
// back; the next room load reconciles them.
func (h *Hub) MarkRoomRead(ctx context.Context, roomID string) error {
	const action = "markRoomRead"
	if err := h.exec(func() {
		n := h.stream.MarkAllRead(roomID, h.sess.Identity)
		if h.rooms.ResetUnread(roomID) || n > 0 {
			if room, ok := h.rooms.Get(roomID); ok {
				h.announceRoom(room)
			}
			h.emit()
		}
	}); err != nil {
		return actionFailed(action, err)
	}
	if err := h.api.MarkRoomRead(ctx, roomID); err != nil {
		ae := actionFailed(action, err)
		h.exec(func() {
			h.setError(ae)
			h.emit()
		})
		return ae
	}
	return nil
}

// CreateRoom asks the server for a new room and adds it to the directory.
func (h *Hub) CreateRoom(ctx context.Context, req api.CreateRoomRequest) (models.ChatRoom, error) {
	const action = "createRoom"
	room, err := h.api.CreateRoom(ctx, req)
	if err != nil {
		return models.ChatRoom{}, actionFailed(action, err)
	}
	var merged models.ChatRoom
	if err := h.exec(func() {
		merged = h.rooms.ApplyRoomUpdate(*room, false)
		h.announceRoom(merged)
		h.emit()
	}); err != nil {
		return models.ChatRoom{}, actionFailed(action, err)
	}
	return merged, nil
}

// confirm runs call in the background. Failures are logged only; the local
// state already reflects the user's intent.
func (h *Hub) confirm(what, id string, call func(ctx context.Context) error) {
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(h.bgCtx, h.opts.ConfirmTimeout)
		defer cancel()
		if err := call(ctx); err != nil {
			h.log.Warn("notification confirmation failed", zap.String("action", what), zap.String("id", id), zap.Error(err))
		}
	}()
}

// MarkAsRead marks one notification read, which also dismisses it.
func (h *Hub) MarkAsRead(id string) {
	h.exec(func() {
		if !h.inbox.MarkRead(id) {
			return
		}
		h.emit()
		h.confirm("markRead", id, func(ctx context.Context) error {
			return h.api.MarkNotificationRead(ctx, id)
		})
	})
}

// Dismiss hides a notification from the toast list; it stays in the inbox.
func (h *Hub) Dismiss(id string) {
	h.exec(func() {
		if !h.inbox.Dismiss(id) {
			return
		}
		h.emit()
		h.confirm("dismiss", id, func(ctx context.Context) error {
			return h.api.DismissNotification(ctx, id)
		})
	})
}

func (h *Hub) MarkAllAsRead() {
	identity := h.sess.Identity
	h.exec(func() {
		changed := h.inbox.MarkAllRead()
		if len(changed) == 0 {
			return
		}
		h.emit()
		h.confirm("markAllRead", identity, func(ctx context.Context) error {
			return h.api.MarkAllNotificationsRead(ctx, identity)
		})
	})
}

// DeleteNotification removes id locally and on the server, restoring it if
// the server refuses.
func (h *Hub) DeleteNotification(ctx context.Context, id string) error {
	const action = "deleteNotification"
	var (
		removed models.Notification
		ok      bool
		pre     error
	)
	if err := h.exec(func() {
		if !h.features.Notifications {
			pre = ErrNotifOff
			return
		}
		removed, ok = h.inbox.Remove(id)
		if ok {
			h.emit()
		}
	}); err != nil {
		return actionFailed(action, err)
	}
	if pre != nil {
		return actionFailed(action, pre)
	}
	if !ok {
		return actionFailed(action, ErrUnknown)
	}

	if err := h.api.DeleteNotification(ctx, id); err != nil {
		ae := actionFailed(action, err)
		h.exec(func() {
			h.inbox.Restore(removed)
			h.setError(ae)
			h.emit()
		})
		return ae
	}
	return nil
}
