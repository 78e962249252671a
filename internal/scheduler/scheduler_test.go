package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(map[Kind]time.Duration{
		KindRooms:         time.Second,
		KindMessages:      time.Second,
		KindNotifications: time.Second,
	}, zap.NewNop())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

type recorder struct {
	mu     sync.Mutex
	scopes []string
}

func (r *recorder) poll(ctx context.Context, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scopes...)
}

func TestScheduleRunsImmediately(t *testing.T) {
	s := newScheduler(t)
	var rec recorder

	require.NoError(t, s.Schedule(KindRooms, "alice", rec.poll))
	assert.Eventually(t, func() bool { return len(rec.seen()) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "alice", rec.seen()[0])

	scope, ok := s.Active(KindRooms)
	assert.True(t, ok)
	assert.Equal(t, "alice", scope)
}

func TestSameScopeIsNoop(t *testing.T) {
	s := newScheduler(t)
	var calls atomic.Int32
	fn := func(context.Context, string) error { calls.Add(1); return nil }

	require.NoError(t, s.Schedule(KindMessages, "r1", fn))
	require.NoError(t, s.Schedule(KindMessages, "r1", fn))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewScopeCancelsOldLoop(t *testing.T) {
	s := newScheduler(t)

	started := make(chan struct{})
	oldCtx := make(chan context.Context, 1)
	require.NoError(t, s.Schedule(KindMessages, "r1", func(ctx context.Context, scope string) error {
		oldCtx <- ctx
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	var rec recorder
	require.NoError(t, s.Schedule(KindMessages, "r2", rec.poll))

	ctx := <-oldCtx
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("old loop context not cancelled")
	}

	scope, _ := s.Active(KindMessages)
	assert.Equal(t, "r2", scope)
	assert.Eventually(t, func() bool { return len(rec.seen()) >= 1 }, time.Second, 5*time.Millisecond)
}

func TestKindsAreIndependent(t *testing.T) {
	s := newScheduler(t)
	noop := func(context.Context, string) error { return nil }

	require.NoError(t, s.Schedule(KindRooms, "alice", noop))
	require.NoError(t, s.Schedule(KindNotifications, "alice", noop))
	require.NoError(t, s.Schedule(KindMessages, "r1", noop))

	s.Cancel(KindMessages)
	_, ok := s.Active(KindMessages)
	assert.False(t, ok)
	_, ok = s.Active(KindRooms)
	assert.True(t, ok)
	_, ok = s.Active(KindNotifications)
	assert.True(t, ok)
}

func TestFailedRoundKeepsLooping(t *testing.T) {
	s := newScheduler(t)
	var calls atomic.Int32
	require.NoError(t, s.Schedule(KindNotifications, "alice", func(context.Context, string) error {
		calls.Add(1)
		return errors.New("network down")
	}))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestNothingRunsAfterStop(t *testing.T) {
	s := New(map[Kind]time.Duration{KindRooms: time.Second}, zap.NewNop())
	s.Start()

	var calls atomic.Int32
	require.NoError(t, s.Schedule(KindRooms, "alice", func(context.Context, string) error {
		calls.Add(1)
		return nil
	}))
	s.Stop()
	after := calls.Load()

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.Error(t, s.Schedule(KindRooms, "alice", func(context.Context, string) error { return nil }))
	s.Stop()
}

func TestMissingInterval(t *testing.T) {
	s := New(map[Kind]time.Duration{}, zap.NewNop())
	defer s.Stop()
	assert.Error(t, s.Schedule(KindRooms, "alice", func(context.Context, string) error { return nil }))
}
