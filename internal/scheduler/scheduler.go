// Package scheduler runs the periodic fetch loops that back up the push
// channel: one loop per kind, each bound to a scope (a room id or an
// identity). Scheduling a kind for a new scope replaces the old loop.
//
// Intervals go through cron's @every schedule, so they are truncated to whole
// seconds with a one second minimum.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Kind int

const (
	KindRooms Kind = iota
	KindMessages
	KindNotifications
)

func (k Kind) String() string {
	switch k {
	case KindRooms:
		return "rooms"
	case KindMessages:
		return "messages"
	case KindNotifications:
		return "notifications"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// PollFunc fetches one round for scope. ctx is cancelled when the loop is
// replaced or stopped.
type PollFunc func(ctx context.Context, scope string) error

type loop struct {
	kind    Kind
	scope   string
	fn      PollFunc
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

type Scheduler struct {
	cron      *cron.Cron
	log       *zap.Logger
	intervals map[Kind]time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	loops   map[Kind]*loop
	started bool
	stopped bool
	ticks   sync.WaitGroup
}

type Option func(*Scheduler)

// WithTickTimeout bounds a single poll round. Defaults to 30s.
func WithTickTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

func New(intervals map[Kind]time.Duration, log *zap.Logger, opts ...Option) *Scheduler {
	named := log.Named("scheduler")
	cl := cronLogger{named.Sugar()}
	s := &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:       named,
		intervals: intervals,
		timeout:   30 * time.Second,
		loops:     make(map[Kind]*loop),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins firing scheduled entries. Loops may be scheduled before or
// after Start.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Schedule makes fn the loop for kind at scope and runs a first round right
// away. Scheduling the scope that is already active is a no-op.
func (s *Scheduler) Schedule(kind Kind, scope string, fn PollFunc) error {
	every, ok := s.intervals[kind]
	if !ok || every <= 0 {
		return fmt.Errorf("schedule %s: no interval configured", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("schedule %s: scheduler stopped", kind)
	}
	if cur, ok := s.loops[kind]; ok {
		if cur.scope == scope {
			return nil
		}
		s.cancelLocked(cur)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{kind: kind, scope: scope, fn: fn, ctx: ctx, cancel: cancel}
	id, err := s.cron.AddFunc("@every "+every.String(), func() { s.tick(l) })
	if err != nil {
		cancel()
		return fmt.Errorf("schedule %s every %s: %w", kind, every, err)
	}
	l.entry = id
	s.loops[kind] = l

	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		s.tick(l)
	}()

	s.log.Info("poll loop scheduled", zap.Stringer("kind", kind), zap.String("scope", scope), zap.Duration("every", every))
	return nil
}

// Cancel stops the loop for kind, if any.
func (s *Scheduler) Cancel(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.loops[kind]; ok {
		s.cancelLocked(cur)
	}
}

func (s *Scheduler) cancelLocked(l *loop) {
	l.cancel()
	s.cron.Remove(l.entry)
	delete(s.loops, l.kind)
	s.log.Info("poll loop cancelled", zap.Stringer("kind", l.kind), zap.String("scope", l.scope))
}

// Active returns the scope of the loop for kind.
func (s *Scheduler) Active(kind Kind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loops[kind]
	if !ok {
		return "", false
	}
	return l.scope, true
}

// Stop cancels every loop and waits for in-flight rounds to return. No
// PollFunc runs after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, l := range s.loops {
		s.cancelLocked(l)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.ticks.Wait()
	s.log.Info("scheduler stopped")
}

// tick runs one round unless the previous round of the same loop is still
// going. Errors are logged and the loop carries on.
func (s *Scheduler) tick(l *loop) {
	if l.ctx.Err() != nil {
		return
	}
	if !l.running.CompareAndSwap(false, true) {
		s.log.Debug("previous round still running, skipping", zap.Stringer("kind", l.kind))
		return
	}
	defer l.running.Store(false)

	ctx, cancel := context.WithTimeout(l.ctx, s.timeout)
	defer cancel()

	if err := l.fn(ctx, l.scope); err != nil {
		if l.ctx.Err() != nil {
			return
		}
		s.log.Warn("poll round failed", zap.Stringer("kind", l.kind), zap.String("scope", l.scope), zap.Error(err))
	}
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
