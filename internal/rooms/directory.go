// Package rooms holds the chat rooms visible to the current identity.
//
// A Directory is not safe for concurrent use; it is owned by the delivery
// hub's event loop.
package rooms

import (
	"sort"

	"delivery-sync/internal/models"
	"delivery-sync/internal/reconcile"
)

// seenPerRoom bounds how many message ids are remembered per room for unread
// deduplication.
const seenPerRoom = 512

type seenSet struct {
	ids   map[string]struct{}
	order []string
}

func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > seenPerRoom {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

type Directory struct {
	self    string
	rooms   map[string]*models.ChatRoom
	current string
	seen    map[string]*seenSet

	issued  uint64
	applied uint64
}

func New(self string) *Directory {
	return &Directory{
		self:  self,
		rooms: make(map[string]*models.ChatRoom),
		seen:  make(map[string]*seenSet),
	}
}

// BeginLoad stamps a new room-list request.
func (d *Directory) BeginLoad() uint64 {
	d.issued++
	return d.issued
}

// ApplyLoad replaces the room set with the result of request seq. It returns
// false when a more recent request has already been applied.
func (d *Directory) ApplyLoad(seq uint64, list []models.ChatRoom) bool {
	if seq <= d.applied {
		return false
	}
	d.applied = seq

	next := make(map[string]*models.ChatRoom, len(list))
	for _, in := range list {
		merged := reconcile.MergeRoom(d.rooms[in.ID], in, false)
		next[in.ID] = &merged
	}
	for id := range d.seen {
		if _, ok := next[id]; !ok {
			delete(d.seen, id)
		}
	}
	d.rooms = next
	return true
}

// ApplyRoomUpdate upserts one room. selfPush marks a push event describing a
// change made by the current identity.
func (d *Directory) ApplyRoomUpdate(in models.ChatRoom, selfPush bool) models.ChatRoom {
	merged := reconcile.MergeRoom(d.rooms[in.ID], in, selfPush)
	d.rooms[in.ID] = &merged
	return merged.Clone()
}

// ObserveMessage folds a message seen on any channel into the room preview
// and unread count. It returns the room and whether the message was new to
// a known room.
func (d *Directory) ObserveMessage(m models.Message) (models.ChatRoom, bool) {
	r, ok := d.rooms[m.RoomID]
	if !ok {
		return models.ChatRoom{}, false
	}

	set, ok := d.seen[m.RoomID]
	if !ok {
		set = &seenSet{ids: make(map[string]struct{})}
		d.seen[m.RoomID] = set
	}
	if m.IsPlaceholder() || !set.add(m.ID) {
		return r.Clone(), false
	}

	if !m.CreatedAt.Before(r.LastMessageAt) {
		r.LastMessage = m.Content
		r.LastMessageID = m.ID
		r.LastMessageAt = m.CreatedAt
	}
	if !m.SentBy(d.self) && m.RoomID != d.current {
		r.UnreadCount++
	}
	return r.Clone(), true
}

// Focus changes the focused room; an empty id clears focus.
func (d *Directory) Focus(roomID string) {
	d.current = roomID
}

func (d *Directory) Current() string {
	return d.current
}

// ResetUnread zeroes the unread count once the room's messages are read.
func (d *Directory) ResetUnread(roomID string) bool {
	r, ok := d.rooms[roomID]
	if !ok || r.UnreadCount == 0 {
		return false
	}
	r.UnreadCount = 0
	return true
}

func (d *Directory) Get(roomID string) (models.ChatRoom, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return models.ChatRoom{}, false
	}
	return r.Clone(), true
}

// Rooms returns a sorted copy of the directory.
func (d *Directory) Rooms() []models.ChatRoom {
	out := make([]models.ChatRoom, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return reconcile.RoomLess(&out[i], &out[j]) })
	return out
}

func (d *Directory) TotalUnread() int {
	total := 0
	for _, r := range d.rooms {
		total += r.UnreadCount
	}
	return total
}
