// Package stream holds the message history of the focused room.
//
// A Stream is not safe for concurrent use; it is owned by the delivery hub's
// event loop. Messages of other rooms are never retained.
package stream

import (
	"time"

	"delivery-sync/internal/models"
	"delivery-sync/internal/reconcile"

	"github.com/google/uuid"
)

const DefaultPlaceholderWindow = 30 * time.Second

type Stream struct {
	self   string
	roomID string
	msgs   []models.Message
	window time.Duration
	now    func() time.Time
}

func New(self string, window time.Duration) *Stream {
	if window <= 0 {
		window = DefaultPlaceholderWindow
	}
	return &Stream{self: self, window: window, now: time.Now}
}

// Reset drops the current history and focuses roomID. An empty id leaves the
// stream without a room.
func (s *Stream) Reset(roomID string) {
	s.roomID = roomID
	s.msgs = nil
}

func (s *Stream) RoomID() string {
	return s.roomID
}

// ReceiveCandidate is the single entry point for push and poll deliveries.
func (s *Stream) ReceiveCandidate(m models.Message) reconcile.Outcome {
	if s.roomID == "" || m.RoomID != s.roomID {
		return reconcile.Ignored
	}
	var out reconcile.Outcome
	s.msgs, out = reconcile.MergeMessage(s.msgs, m, s.self, s.window)
	return out
}

// ApplyPage feeds one history page through ReceiveCandidate and returns the
// number of entries that changed the sequence.
func (s *Stream) ApplyPage(roomID string, page []models.Message) int {
	if roomID != s.roomID {
		return 0
	}
	n := 0
	for _, m := range page {
		if s.ReceiveCandidate(m).Changed() {
			n++
		}
	}
	return n
}

// AddPlaceholder inserts an optimistic pending message for content.
func (s *Stream) AddPlaceholder(roomID, content string) models.Message {
	localID := "local-" + uuid.NewString()
	self := s.self
	p := models.Message{
		ID:         localID,
		LocalID:    localID,
		RoomID:     roomID,
		SenderID:   &self,
		SenderRole: models.RoleUser,
		Content:    content,
		CreatedAt:  s.now(),
		Status:     models.StatusPending,
	}
	if roomID == s.roomID {
		s.msgs, _ = reconcile.MergeMessage(s.msgs, p, s.self, s.window)
	}
	return p
}

// Confirm replaces the placeholder localID with the server's record.
func (s *Stream) Confirm(localID string, created models.Message) reconcile.Outcome {
	if created.RoomID != s.roomID {
		return reconcile.Ignored
	}
	var out reconcile.Outcome
	s.msgs, out = reconcile.ConfirmPlaceholder(s.msgs, localID, created)
	return out
}

// Fail marks the placeholder localID failed; it stays visible.
func (s *Stream) Fail(localID string) reconcile.Outcome {
	var out reconcile.Outcome
	s.msgs, out = reconcile.FailPlaceholder(s.msgs, localID)
	return out
}

// MarkAllRead sets read on every message of roomID not sent by identity.
func (s *Stream) MarkAllRead(roomID, identity string) int {
	if roomID != s.roomID {
		return 0
	}
	var n int
	s.msgs, n = reconcile.MarkRead(s.msgs, roomID, identity)
	return n
}

func (s *Stream) Get(id string) (models.Message, bool) {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return s.msgs[i], true
		}
	}
	return models.Message{}, false
}

// Messages returns a copy of the visible sequence, oldest first.
func (s *Stream) Messages() []models.Message {
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Stream) Len() int {
	return len(s.msgs)
}
