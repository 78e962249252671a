package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAdmin, RoleOperator, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("unknown sender role %q", s)
}

func (r *Role) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = ""
		return nil
	}
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsStaff reports whether the role answers on behalf of the platform.
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleOperator:
		return true
	case RoleUser, RoleSystem:
		return false
	}
	return false
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

func ParseMessageStatus(s string) (MessageStatus, error) {
	switch st := MessageStatus(s); st {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

func (s *MessageStatus) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ""
		return nil
	}
	parsed, err := ParseMessageStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Rank orders statuses along pending -> sent -> delivered -> read.
// Failed ranks above everything so that it absorbs any later status.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	}
	return -1
}

type Message struct {
	ID         string        `json:"id"`
	RoomID     string        `json:"roomId"`
	SenderID   *string       `json:"senderId"`
	SenderName string        `json:"senderName"`
	SenderRole Role          `json:"senderRole"`
	Content    string        `json:"content"`
	CreatedAt  time.Time     `json:"createdAt"`
	Status     MessageStatus `json:"status"`
	Deleted    bool          `json:"isDeleted"`

	// LocalID is set only on optimistic placeholders created by this client.
	LocalID string `json:"-"`
}

// IsSystem reports whether the message was generated by the platform.
func (m *Message) IsSystem() bool {
	return m.SenderID == nil
}

func (m *Message) SentBy(identity string) bool {
	return m.SenderID != nil && *m.SenderID == identity
}

func (m *Message) IsPlaceholder() bool {
	return m.LocalID != ""
}
