package models

import (
	"fmt"
	"time"
)

type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomArchived RoomStatus = "archived"
	RoomClosed   RoomStatus = "closed"
)

func ParseRoomStatus(s string) (RoomStatus, error) {
	switch st := RoomStatus(s); st {
	case RoomActive, RoomArchived, RoomClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown room status %q", s)
}

func (s *RoomStatus) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ""
		return nil
	}
	parsed, err := ParseRoomStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Rank orders active < archived < closed.
func (s RoomStatus) Rank() int {
	switch s {
	case RoomActive:
		return 0
	case RoomArchived:
		return 1
	case RoomClosed:
		return 2
	}
	return -1
}

type ChatRoom struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Participants  []string   `json:"participants"`
	LastMessage   string     `json:"lastMessage"`
	LastMessageID string     `json:"lastMessageId"`
	LastMessageAt time.Time  `json:"lastMessageAt"`
	UnreadCount   int        `json:"unreadCount"`
	Status        RoomStatus `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (r *ChatRoom) HasParticipant(identity string) bool {
	for _, p := range r.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with r.
func (r ChatRoom) Clone() ChatRoom {
	r.Participants = append([]string(nil), r.Participants...)
	return r
}
