package delivery

import (
	"context"

	"delivery-sync/internal/mediator"
	"delivery-sync/internal/models"
	"delivery-sync/internal/reconcile"
	"delivery-sync/internal/scheduler"

	"go.uber.org/zap"
)

// receiveMessages feeds messages from any channel through the stream and the
// directory. seed marks history pages, which update state without
// announcing each message as new.
func (h *Hub) receiveMessages(msgs []models.Message, seed bool) {
	if !h.features.Chat {
		return
	}
	changed := false
	for _, m := range msgs {
		out := h.stream.ReceiveCandidate(m)
		room, fresh := h.rooms.ObserveMessage(m)
		if out.Changed() || fresh {
			changed = true
		}
		if fresh {
			h.announceRoom(room)
		}
		if !seed && (fresh || out == reconcile.Inserted || out == reconcile.Replaced) {
			h.announceMessage(m)
		}
		h.log.Debug("message candidate", zap.String("id", m.ID), zap.String("room", m.RoomID), zap.Stringer("outcome", out))
	}
	if changed {
		h.emit()
	}
}

func (h *Hub) receiveNotifications(list []models.Notification) {
	if !h.features.Notifications {
		return
	}
	changed := false
	for _, n := range list {
		if h.inbox.ReceiveCandidate(n).Changed() {
			changed = true
		}
	}
	if changed {
		h.emit()
	}
}

func (h *Hub) receiveRoomUpdate(room models.ChatRoom, actor string) {
	if !h.features.Chat {
		return
	}
	merged := h.rooms.ApplyRoomUpdate(room, actor == h.sess.Identity)
	h.announceRoom(merged)
	h.emit()
}

// applyFeatures starts and stops poll loops to match f.
func (h *Hub) applyFeatures(f mediator.Features) {
	h.features = f
	identity := h.sess.Identity

	if f.Chat {
		h.schedule(scheduler.KindRooms, identity, h.pollRooms)
		if cur := h.rooms.Current(); cur != "" {
			h.schedule(scheduler.KindMessages, cur, h.pollMessages)
		}
	} else {
		h.sched.Cancel(scheduler.KindRooms)
		h.sched.Cancel(scheduler.KindMessages)
	}

	if f.Notifications {
		h.schedule(scheduler.KindNotifications, identity, h.pollNotifications)
	} else {
		h.sched.Cancel(scheduler.KindNotifications)
	}
	h.emit()
}

func (h *Hub) schedule(kind scheduler.Kind, scope string, fn scheduler.PollFunc) {
	if err := h.sched.Schedule(kind, scope, fn); err != nil {
		h.log.Warn("poll loop not scheduled", zap.Stringer("kind", kind), zap.String("scope", scope), zap.Error(err))
	}
}

func (h *Hub) pollRooms(ctx context.Context, identity string) error {
	return h.loadRooms(ctx, false)
}

// loadRooms fetches the room list. Responses are sequence stamped so an older
// response never replaces a newer one.
func (h *Hub) loadRooms(ctx context.Context, visible bool) error {
	var seq uint64
	if err := h.exec(func() {
		seq = h.rooms.BeginLoad()
		if visible {
			h.loading++
			h.emit()
		}
	}); err != nil {
		return err
	}

	list, err := h.api.ListRooms(ctx)

	if xerr := h.exec(func() {
		if visible {
			h.loading--
		}
		if err == nil && h.features.Chat {
			if !h.rooms.ApplyLoad(seq, list) {
				h.log.Debug("stale room list dropped", zap.Uint64("seq", seq))
			}
		}
		if visible {
			if err != nil {
				h.setError(actionFailed("loadRooms", err))
			} else {
				h.setError(nil)
			}
		}
		h.emit()
	}); xerr != nil {
		return xerr
	}
	return err
}

func (h *Hub) pollMessages(ctx context.Context, roomID string) error {
	page, err := h.api.ListMessages(ctx, roomID, h.opts.HistoryPageSize, 0)
	if err != nil {
		return err
	}
	return h.exec(func() {
		if h.stream.RoomID() != roomID {
			h.log.Debug("stale message poll dropped", zap.String("room", roomID))
			return
		}
		h.receiveMessages(page, false)
	})
}

func (h *Hub) pollNotifications(ctx context.Context, identity string) error {
	list, err := h.api.ListNotifications(ctx, identity)
	if err != nil {
		return err
	}
	return h.exec(func() {
		if identity != h.sess.Identity {
			return
		}
		h.receiveNotifications(list)
	})
}

// setError records the last action failure for the snapshot; nil clears it.
func (h *Hub) setError(ae *ActionError) {
	if ae == nil {
		h.lastErr = ""
		return
	}
	h.lastErr = ae.Action + ": " + ae.Reason
}
