package reconcile

import (
	"time"

	"delivery-sync/internal/models"
)

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	}
	return a
}

// MergeNotification overlays a fetched notification on the cached one. Read and
// dismissed marks only ever move forward, so a stale poll cannot resurrect a
// notification the user already acknowledged.
func MergeNotification(current, incoming models.Notification) (models.Notification, bool) {
	merged := incoming
	merged.Actions = append([]models.NotificationAction(nil), incoming.Actions...)
	merged.ReadAt = earliest(current.ReadAt, incoming.ReadAt)
	merged.DismissedAt = earliest(current.DismissedAt, incoming.DismissedAt)
	return merged, !notificationEqual(current, merged)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func notificationEqual(a, b models.Notification) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Title != b.Title || a.Message != b.Message ||
		a.RecipientID != b.RecipientID || !a.CreatedAt.Equal(b.CreatedAt) ||
		a.Priority != b.Priority || a.AutoClose != b.AutoClose || a.DurationMS != b.DurationMS ||
		a.Icon != b.Icon || len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Actions {
		if a.Actions[i] != b.Actions[i] {
			return false
		}
	}
	return timeEqual(a.ReadAt, b.ReadAt) && timeEqual(a.DismissedAt, b.DismissedAt)
}

// NotificationLess orders newest first, then by identifier.
func NotificationLess(a, b *models.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// MergeRoom overlays a fetched room on the cached one. The unread count is
// owned by the client and survives. Status only escalates when the update is
// a push about the current identity's own change; otherwise the server value
// wins outright.
func MergeRoom(current *models.ChatRoom, incoming models.ChatRoom, selfPush bool) models.ChatRoom {
	merged := incoming.Clone()
	if current == nil {
		if merged.UnreadCount < 0 {
			merged.UnreadCount = 0
		}
		return merged
	}
	merged.UnreadCount = current.UnreadCount
	if selfPush && current.Status.Rank() > incoming.Status.Rank() {
		merged.Status = current.Status
	}
	return merged
}

// RoomLess orders by most recent activity, then by identifier.
func RoomLess(a, b *models.ChatRoom) bool {
	at, bt := a.LastMessageAt, b.LastMessageAt
	if at.IsZero() {
		at = a.UpdatedAt
	}
	if bt.IsZero() {
		bt = b.UpdatedAt
	}
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID < b.ID
}
