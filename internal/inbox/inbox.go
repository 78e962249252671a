// Package inbox holds the user-facing notifications of the current identity.
//
// An Inbox is not safe for concurrent use; it is owned by the delivery hub's
// event loop.
package inbox

import (
	"sort"
	"time"

	"delivery-sync/internal/models"
	"delivery-sync/internal/reconcile"
)

const DefaultMaxToasts = 5

// Surfaced is the durable record of notification ids already shown to the
// identity.
type Surfaced interface {
	Surfaced(id string) bool
	MarkSurfaced(id string) bool
}

type entry struct {
	n         models.Notification
	arrival   uint64
	arrivedAt time.Time
}

type Inbox struct {
	self      string
	surfaced  Surfaced
	maxToasts int
	items     map[string]*entry
	arrivals  uint64
	now       func() time.Time
}

func New(self string, surfaced Surfaced, maxToasts int) *Inbox {
	if maxToasts <= 0 {
		maxToasts = DefaultMaxToasts
	}
	return &Inbox{
		self:      self,
		surfaced:  surfaced,
		maxToasts: maxToasts,
		items:     make(map[string]*entry),
		now:       time.Now,
	}
}

// ReceiveCandidate upserts n by id. On first sight an id that was already
// surfaced in an earlier session is dismissed immediately. Recording new ids
// as surfaced is left to Surface, once they reach the toast list.
func (b *Inbox) ReceiveCandidate(n models.Notification) reconcile.Outcome {
	if !n.AddressedTo(b.self) {
		return reconcile.Ignored
	}
	if e, ok := b.items[n.ID]; ok {
		merged, changed := reconcile.MergeNotification(e.n, n)
		if !changed {
			return reconcile.Unchanged
		}
		e.n = merged
		return reconcile.Merged
	}

	now := b.now()
	n.Actions = append([]models.NotificationAction(nil), n.Actions...)
	if b.surfaced.Surfaced(n.ID) && n.DismissedAt == nil {
		n.DismissedAt = &now
	}
	b.arrivals++
	b.items[n.ID] = &entry{n: n, arrival: b.arrivals, arrivedAt: now}
	return reconcile.Inserted
}

// MarkRead sets read on id. Reading also dismisses.
func (b *Inbox) MarkRead(id string) bool {
	e, ok := b.items[id]
	if !ok {
		return false
	}
	now := b.now()
	changed := false
	if e.n.ReadAt == nil {
		e.n.ReadAt = &now
		changed = true
	}
	if e.n.DismissedAt == nil {
		e.n.DismissedAt = &now
		changed = true
	}
	return changed
}

func (b *Inbox) Dismiss(id string) bool {
	e, ok := b.items[id]
	if !ok || e.n.DismissedAt != nil {
		return false
	}
	now := b.now()
	e.n.DismissedAt = &now
	return true
}

// MarkAllRead reads every notification and returns the ids that changed.
func (b *Inbox) MarkAllRead() []string {
	var changed []string
	for id := range b.items {
		if b.MarkRead(id) {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// Remove deletes id and returns the removed notification for rollback.
func (b *Inbox) Remove(id string) (models.Notification, bool) {
	e, ok := b.items[id]
	if !ok {
		return models.Notification{}, false
	}
	delete(b.items, id)
	return e.n, true
}

// Restore puts back a notification removed by Remove.
func (b *Inbox) Restore(n models.Notification) {
	if _, ok := b.items[n.ID]; ok {
		return
	}
	b.arrivals++
	b.items[n.ID] = &entry{n: n, arrival: b.arrivals, arrivedAt: b.now()}
}

// Expire dismisses auto-closing toasts whose duration has elapsed.
func (b *Inbox) Expire(now time.Time) []string {
	var expired []string
	for id, e := range b.items {
		if e.n.IsRead() || e.n.IsDismissed() {
			continue
		}
		after := e.n.AutoCloseAfter()
		if after > 0 && !now.Before(e.arrivedAt.Add(after)) {
			t := now
			e.n.DismissedAt = &t
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

func (b *Inbox) Get(id string) (models.Notification, bool) {
	e, ok := b.items[id]
	if !ok {
		return models.Notification{}, false
	}
	return e.n, true
}

// Notifications returns the historical inbox, newest first.
func (b *Inbox) Notifications() []models.Notification {
	out := make([]models.Notification, 0, len(b.items))
	for _, e := range b.items {
		out = append(out, e.n)
	}
	sort.Slice(out, func(i, j int) bool { return reconcile.NotificationLess(&out[i], &out[j]) })
	return out
}

// Toasts returns unread, undismissed notifications in arrival order, capped
// at the configured maximum.
func (b *Inbox) Toasts() []models.Notification {
	var live []*entry
	for _, e := range b.items {
		if e.n.IsRead() || e.n.IsDismissed() {
			continue
		}
		live = append(live, e)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].arrival < live[j].arrival })
	if len(live) > b.maxToasts {
		live = live[:b.maxToasts]
	}
	out := make([]models.Notification, len(live))
	for i, e := range live {
		out[i] = e.n
	}
	return out
}

// Surface records every notification currently in the toast list as
// surfaced and returns the ids recorded for the first time. Notifications held
// back by the cap are not recorded until they are shown.
func (b *Inbox) Surface() []string {
	var recorded []string
	for _, n := range b.Toasts() {
		if b.surfaced.MarkSurfaced(n.ID) {
			recorded = append(recorded, n.ID)
		}
	}
	return recorded
}

func (b *Inbox) Unread() int {
	n := 0
	for _, e := range b.items {
		if !e.n.IsRead() {
			n++
		}
	}
	return n
}
