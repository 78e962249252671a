// Package session holds the process-wide state of one signed-in identity:
// its credential, the durable surfaced-id record and the feature flags.
//
// Lifecycle: Start loads the surfaced record from its store; every new
// surfaced id is written through in the background; Close flushes pending
// writes and announces the end of the session. A State is never reachable
// through package globals; it is passed to the components that need it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"delivery-sync/internal/mediator"
	"delivery-sync/internal/surfaced"

	"go.uber.org/zap"
)

const writeBuffer = 256

type State struct {
	Identity string
	Token    string
	Events   *mediator.Mediator

	log      *zap.Logger
	store    surfaced.Store
	set      *surfaced.Set
	writes   chan string
	done     chan struct{}
	mu       sync.RWMutex
	features mediator.Features
	closed   bool
}

func Start(ctx context.Context, identity, token string, store surfaced.Store, features mediator.Features, events *mediator.Mediator, log *zap.Logger) (*State, error) {
	if identity == "" {
		return nil, fmt.Errorf("start session: empty identity")
	}
	ids, err := store.Load(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", identity, err)
	}

	s := &State{
		Identity: identity,
		Token:    token,
		Events:   events,
		log:      log.Named("session"),
		store:    store,
		set:      surfaced.NewSet(ids...),
		writes:   make(chan string, writeBuffer),
		done:     make(chan struct{}),
		features: features,
	}
	go s.writePump()

	s.log.Info("session started", zap.String("identity", identity), zap.Int("surfaced", len(ids)))
	return s, nil
}

// writePump persists surfaced ids in batches, in the order they were added.
func (s *State) writePump() {
	defer close(s.done)
	for id := range s.writes {
		batch := []string{id}
		for n := len(s.writes); n > 0; n-- {
			batch = append(batch, <-s.writes)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Append(ctx, s.Identity, batch...); err != nil {
			s.log.Warn("persist surfaced ids failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (s *State) Surfaced(id string) bool {
	return s.set.Has(id)
}

// MarkSurfaced records id and schedules the durable write. It returns false
// if id was already recorded or the session is closed.
func (s *State) MarkSurfaced(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.set.Add(id) {
		return false
	}
	s.writes <- id
	return true
}

// ResetSurfaced clears the record both in memory and in the store.
func (s *State) ResetSurfaced(ctx context.Context) error {
	if err := s.store.Reset(ctx, s.Identity); err != nil {
		return err
	}
	s.set.Clear()
	s.log.Info("surfaced record reset", zap.String("identity", s.Identity))
	return nil
}

func (s *State) Features() mediator.Features {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features
}

// SetFeatures replaces the flags and publishes the change.
func (s *State) SetFeatures(f mediator.Features) {
	s.mu.Lock()
	prev := s.features
	s.features = f
	closed := s.closed
	s.mu.Unlock()

	if closed || prev == f {
		return
	}
	s.log.Info("features changed", zap.Bool("chat", f.Chat), zap.Bool("notifications", f.Notifications))
	s.Events.FeaturesChanged.Publish(mediator.FeaturesChanged{Previous: prev, Current: f})
}

// Close flushes pending writes and publishes SessionEnded. It is safe to call
// more than once.
func (s *State) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	<-s.done
	s.log.Info("session closed", zap.String("identity", s.Identity))
	s.Events.SessionEnded.Publish(mediator.SessionEnded{Identity: s.Identity})
}
