// Package reconcile merges candidate updates from the push channel and from
// polling into one deduplicated, deterministically ordered view.
//
// Every function here is pure: inputs are never mutated and results are
// independent of which channel delivered a candidate or in what order.
package reconcile

import (
	"sort"
	"time"

	"delivery-sync/internal/models"
)

type Outcome int

const (
	Ignored Outcome = iota
	Inserted
	Merged
	Replaced
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	case Replaced:
		return "replaced"
	case Unchanged:
		return "unchanged"
	}
	return "unknown"
}

// Changed reports whether the outcome altered the visible sequence.
func (o Outcome) Changed() bool {
	return o == Inserted || o == Merged || o == Replaced
}

// MergeStatus returns the higher-precedence status. Failed absorbs everything.
func MergeStatus(current, incoming models.MessageStatus) models.MessageStatus {
	if incoming.Rank() > current.Rank() {
		return incoming
	}
	return current
}

// MessageLess orders by creation time, then by identifier.
func MessageLess(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func indexOfMessage(seq []models.Message, id string) int {
	for i := range seq {
		if seq[i].ID == id {
			return i
		}
	}
	return -1
}

func insertSorted(seq []models.Message, m models.Message) []models.Message {
	i := sort.Search(len(seq), func(i int) bool { return MessageLess(&m, &seq[i]) })
	seq = append(seq, models.Message{})
	copy(seq[i+1:], seq[i:])
	seq[i] = m
	return seq
}

func cloneMessages(seq []models.Message) []models.Message {
	out := make([]models.Message, len(seq), len(seq)+1)
	copy(out, seq)
	return out
}

// mergeMutable folds the mutable fields of incoming into current.
func mergeMutable(current, incoming models.Message) (models.Message, bool) {
	merged := current
	merged.Status = MergeStatus(current.Status, incoming.Status)
	merged.Deleted = current.Deleted || incoming.Deleted
	return merged, merged.Status != current.Status || merged.Deleted != current.Deleted
}

// findPlaceholder locates a pending placeholder that the server echo m stands for.
func findPlaceholder(seq []models.Message, m models.Message, window time.Duration) int {
	best := -1
	var bestGap time.Duration
	for i := range seq {
		p := &seq[i]
		if !p.IsPlaceholder() || p.Status != models.StatusPending {
			continue
		}
		if p.RoomID != m.RoomID || p.Content != m.Content {
			continue
		}
		gap := p.CreatedAt.Sub(m.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if best < 0 || gap < bestGap {
			best, bestGap = i, gap
		}
	}
	return best
}

// MergeMessage applies one candidate to a sorted sequence and returns the new
// sequence. self is the current identity, window bounds how far apart a
// placeholder and its server echo may be stamped.
func MergeMessage(seq []models.Message, m models.Message, self string, window time.Duration) ([]models.Message, Outcome) {
	if i := indexOfMessage(seq, m.ID); i >= 0 {
		merged, changed := mergeMutable(seq[i], m)
		if !changed {
			return seq, Unchanged
		}
		out := cloneMessages(seq)
		out[i] = merged
		return out, Merged
	}

	out := cloneMessages(seq)
	if !m.IsPlaceholder() && m.SentBy(self) {
		if p := findPlaceholder(out, m, window); p >= 0 {
			out = append(out[:p], out[p+1:]...)
			return insertSorted(out, m), Replaced
		}
	}
	return insertSorted(out, m), Inserted
}

// ConfirmPlaceholder swaps the placeholder localID for the server record. If
// the record already arrived by another channel the placeholder is dropped and
// the record's mutable fields are merged instead.
func ConfirmPlaceholder(seq []models.Message, localID string, confirmed models.Message) ([]models.Message, Outcome) {
	out := cloneMessages(seq)
	p := indexOfMessage(out, localID)
	if p >= 0 {
		out = append(out[:p], out[p+1:]...)
	}
	if i := indexOfMessage(out, confirmed.ID); i >= 0 {
		out[i], _ = mergeMutable(out[i], confirmed)
		if p < 0 {
			return out, Merged
		}
		return out, Replaced
	}
	if p < 0 {
		return insertSorted(out, confirmed), Inserted
	}
	return insertSorted(out, confirmed), Replaced
}

// FailPlaceholder marks the placeholder localID failed, leaving it in place.
func FailPlaceholder(seq []models.Message, localID string) ([]models.Message, Outcome) {
	i := indexOfMessage(seq, localID)
	if i < 0 || seq[i].Status == models.StatusFailed {
		return seq, Unchanged
	}
	out := cloneMessages(seq)
	out[i].Status = models.StatusFailed
	return out, Merged
}

// MarkRead raises every message not sent by identity to read.
func MarkRead(seq []models.Message, roomID, identity string) ([]models.Message, int) {
	var out []models.Message
	n := 0
	for i := range seq {
		m := &seq[i]
		if m.RoomID != roomID || m.SentBy(identity) || m.IsPlaceholder() {
			continue
		}
		next := MergeStatus(m.Status, models.StatusRead)
		if next == m.Status {
			continue
		}
		if out == nil {
			out = cloneMessages(seq)
		}
		out[i].Status = next
		n++
	}
	if out == nil {
		return seq, 0
	}
	return out, n
}
