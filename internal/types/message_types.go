package types

import (
	"fmt"

	"delivery-sync/internal/models"
)

// EventType tags every frame on the push channel.
type EventType string

const (
	TypeJoin            EventType = "join"
	TypeJoined          EventType = "joined"
	TypeNewMessage      EventType = "new_message"
	TypeNewNotification EventType = "new_notification"
	TypeRoomUpdated     EventType = "room_updated"
	TypeSystem          EventType = "system"
)

func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case TypeJoin, TypeJoined, TypeNewMessage, TypeNewNotification, TypeRoomUpdated, TypeSystem:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Envelope is one push frame. Exactly one payload field is set, matching Type.
type Envelope struct {
	Type     EventType `json:"type"`
	Identity string    `json:"identity,omitempty"`

	// Actor is the identity whose action produced a room_updated event.
	Actor string `json:"actor,omitempty"`

	Message      *models.Message      `json:"message,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
	Room         *models.ChatRoom     `json:"room,omitempty"`
	Content      string               `json:"content,omitempty"`
}

// Validate checks that the payload matches the type.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeJoin, TypeJoined:
		if e.Identity == "" {
			return fmt.Errorf("%s frame without identity", e.Type)
		}
	case TypeNewMessage:
		if e.Message == nil || e.Message.ID == "" || e.Message.RoomID == "" {
			return fmt.Errorf("%s frame without message", e.Type)
		}
	case TypeNewNotification:
		if e.Notification == nil || e.Notification.ID == "" {
			return fmt.Errorf("%s frame without notification", e.Type)
		}
	case TypeRoomUpdated:
		if e.Room == nil || e.Room.ID == "" {
			return fmt.Errorf("%s frame without room", e.Type)
		}
	case TypeSystem:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
