package models

import (
	"fmt"
	"time"
)

// BroadcastRecipient addresses a notification to every identity.
const BroadcastRecipient = "all"

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
	NotificationCustom  NotificationType = "custom"
)

func ParseNotificationType(s string) (NotificationType, error) {
	switch t := NotificationType(s); t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError, NotificationCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

func (t *NotificationType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = ""
		return nil
	}
	parsed, err := ParseNotificationType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Sticky reports whether toasts of this type ignore auto-close.
func (t NotificationType) Sticky() bool {
	switch t {
	case NotificationError, NotificationWarning:
		return true
	case NotificationInfo, NotificationSuccess, NotificationCustom:
		return false
	}
	return false
}

type NotificationAction struct {
	Label  string `json:"label"`
	Effect string `json:"effect"`
}

type Notification struct {
	ID          string               `json:"id"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	RecipientID string               `json:"recipientId"`
	CreatedAt   time.Time            `json:"createdAt"`
	ReadAt      *time.Time           `json:"readAt,omitempty"`
	DismissedAt *time.Time           `json:"dismissedAt,omitempty"`
	Priority    int                  `json:"priority"`
	AutoClose   bool                 `json:"autoClose"`
	DurationMS  int                  `json:"duration"`
	Icon        string               `json:"icon,omitempty"`
	Actions     []NotificationAction `json:"actions,omitempty"`
}

func (n *Notification) AddressedTo(identity string) bool {
	return n.RecipientID == identity || n.RecipientID == BroadcastRecipient
}

// AutoCloseAfter returns how long a toast stays up, or zero when it stays
// until dismissed.
func (n *Notification) AutoCloseAfter() time.Duration {
	if !n.AutoClose || n.Type.Sticky() || n.DurationMS <= 0 {
		return 0
	}
	return time.Duration(n.DurationMS) * time.Millisecond
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

func (n *Notification) IsDismissed() bool {
	return n.DismissedAt != nil
}
