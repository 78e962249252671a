// Package mediator carries cross-component events as typed topics owned by a
// single Mediator.
package mediator

import (
	"sort"
	"sync"
)

// Topic fans one event type out to its subscribers. Handlers run on the
// publisher's goroutine in subscription order.
type Topic[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a func that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

func (t *Topic[T]) Publish(ev T) {
	t.mu.RLock()
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.subs[id])
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Features toggles the chat and notification surfaces.
type Features struct {
	Chat          bool `json:"chat"`
	Notifications bool `json:"notifications"`
}

type FeaturesChanged struct {
	Previous Features
	Current  Features
}

type SessionEnded struct {
	Identity string
}

type Mediator struct {
	FeaturesChanged *Topic[FeaturesChanged]
	SessionEnded    *Topic[SessionEnded]
}

func New() *Mediator {
	return &Mediator{
		FeaturesChanged: NewTopic[FeaturesChanged](),
		SessionEnded:    NewTopic[SessionEnded](),
	}
}
