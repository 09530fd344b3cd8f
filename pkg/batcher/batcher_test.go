package batcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-diwane/pkg/batcher"
	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

type applied struct {
	kind    types.ChangeKind
	payload any
}

// recordingView captures every Apply call it receives.
type recordingView struct {
	mu    sync.Mutex
	calls []applied
}

func (v *recordingView) Apply(_ context.Context, kind types.ChangeKind, payload any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, applied{kind: kind, payload: payload})
	return nil
}

func (v *recordingView) getCalls() []applied {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]applied(nil), v.calls...)
}

func newBatcher(t *testing.T, delay time.Duration, views map[string]batcher.ViewUpdateHandler) *batcher.Batcher {
	t.Helper()
	reg := batcher.NewRegistry()
	for id, h := range views {
		require.NoError(t, reg.Register(id, h))
	}
	b, err := batcher.New(&batcher.Config{Delay: delay}, reg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Stop(context.Background()) })
	return b
}

func TestBatcher_Coalescing(t *testing.T) {
	ctx := context.Background()

	t.Run("later payload for the same view and kind wins", func(t *testing.T) {
		view := &recordingView{}
		b := newBatcher(t, time.Hour, map[string]batcher.ViewUpdateHandler{"xassidas-list": view})

		b.Enqueue("xassidas-list", types.Updated, "A")
		b.Enqueue("xassidas-list", types.Updated, "B")
		assert.Equal(t, 1, b.Pending())

		b.Flush(ctx)

		assert.Equal(t, []applied{{kind: types.Updated, payload: "B"}}, view.getCalls())
		assert.Zero(t, b.Pending())
	})

	t.Run("different kinds are applied once each in enqueue order", func(t *testing.T) {
		view := &recordingView{}
		b := newBatcher(t, time.Hour, map[string]batcher.ViewUpdateHandler{"v": view})

		b.Enqueue("v", types.Added, 1)
		b.Enqueue("v", types.Removed, 2)
		b.Enqueue("v", types.Added, 3)
		b.Flush(ctx)

		assert.Equal(t, []applied{
			{kind: types.Added, payload: 3},
			{kind: types.Removed, payload: 2},
		}, view.getCalls())
	})
}

func TestBatcher_TimerFlush(t *testing.T) {
	view := &recordingView{}
	b := newBatcher(t, 20*time.Millisecond, map[string]batcher.ViewUpdateHandler{"v": view})

	b.Enqueue("v", types.Replaced, "first")
	b.Enqueue("v", types.Replaced, "second")

	require.Eventually(t, func() bool {
		return len(view.getCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "second", view.getCalls()[0].payload)
}

func TestBatcher_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown views are dropped", func(t *testing.T) {
		view := &recordingView{}
		b := newBatcher(t, time.Hour, map[string]batcher.ViewUpdateHandler{"known": view})

		b.Enqueue("ghost", types.Added, "x")
		b.Enqueue("known", types.Added, "y")
		b.Flush(ctx)

		assert.Len(t, view.getCalls(), 1)
		assert.Zero(t, b.Pending())
	})

	t.Run("failing and panicking handlers do not stop other views", func(t *testing.T) {
		view := &recordingView{}
		b := newBatcher(t, time.Hour, map[string]batcher.ViewUpdateHandler{
			"erroring": batcher.HandlerFunc(func(context.Context, types.ChangeKind, any) error {
				return errors.New("render failed")
			}),
			"panicking": batcher.HandlerFunc(func(context.Context, types.ChangeKind, any) error {
				panic("boom")
			}),
			"healthy": view,
		})

		b.Enqueue("erroring", types.Added, 1)
		b.Enqueue("panicking", types.Added, 2)
		b.Enqueue("healthy", types.Added, 3)
		b.Flush(ctx)

		assert.Equal(t, []applied{{kind: types.Added, payload: 3}}, view.getCalls())
	})
}

func TestBatcher_EnqueueDuringFlush(t *testing.T) {
	view := &recordingView{}
	var b *batcher.Batcher
	once := sync.Once{}
	reentrant := batcher.HandlerFunc(func(ctx context.Context, kind types.ChangeKind, payload any) error {
		once.Do(func() { b.Enqueue("v", kind, "next-cycle") })
		return view.Apply(ctx, kind, payload)
	})
	b = newBatcher(t, 20*time.Millisecond, map[string]batcher.ViewUpdateHandler{"v": reentrant})

	b.Enqueue("v", types.Updated, "this-cycle")
	b.Flush(context.Background())

	require.Len(t, view.getCalls(), 1)
	assert.Equal(t, 1, b.Pending())

	require.Eventually(t, func() bool {
		return len(view.getCalls()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "next-cycle", view.getCalls()[1].payload)
}

func TestBatcher_ConcurrentFlushIsSkipped(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	view := &recordingView{}
	blocking := batcher.HandlerFunc(func(ctx context.Context, kind types.ChangeKind, payload any) error {
		if payload == "slow" {
			close(started)
			<-release
		}
		return view.Apply(ctx, kind, payload)
	})
	b := newBatcher(t, 10*time.Millisecond, map[string]batcher.ViewUpdateHandler{"v": blocking})

	b.Enqueue("v", types.Added, "slow")
	done := make(chan struct{})
	go func() {
		b.Flush(ctx)
		close(done)
	}()
	<-started

	b.Enqueue("v", types.Updated, "queued")
	b.Flush(ctx) // returns immediately while the first flush is blocked
	assert.Equal(t, 1, b.Pending())

	close(release)
	<-done

	require.Eventually(t, func() bool {
		return len(view.getCalls()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "queued", view.getCalls()[1].payload)
}

func TestBatcher_Stop(t *testing.T) {
	view := &recordingView{}
	b := newBatcher(t, time.Hour, map[string]batcher.ViewUpdateHandler{"v": view})

	b.Enqueue("v", types.Added, "pending")
	b.Stop(context.Background())
	assert.Len(t, view.getCalls(), 1)

	b.Enqueue("v", types.Added, "late")
	assert.Zero(t, b.Pending())
}

func TestBatcher_Bind(t *testing.T) {
	ctx := context.Background()
	view := &recordingView{}
	b := newBatcher(t, time.Hour, map[string]batcher.ViewUpdateHandler{"lectures-table": view})
	bus := events.NewBus(zerolog.Nop())

	added := types.NewTopic(types.Lectures, types.Added)
	b.Bind(bus, added, "lectures-table")
	b.Bind(bus, types.CustomTopic("theme-changed"), "lectures-table")

	bus.Publish(ctx, added, "one")
	bus.Publish(ctx, added, "two")
	bus.Publish(ctx, types.CustomTopic("theme-changed"), "dark")
	b.Flush(ctx)

	assert.Equal(t, []applied{
		{kind: types.Added, payload: "two"},
		{kind: types.Refresh, payload: "dark"},
	}, view.getCalls())
}

func TestRegistry(t *testing.T) {
	reg := batcher.NewRegistry()
	view := &recordingView{}

	assert.Error(t, reg.Register("", view))
	assert.Error(t, reg.Register("v", nil))
	require.NoError(t, reg.Register("users", view))
	require.NoError(t, reg.Register("diwanes", view))

	h, ok := reg.Get("users")
	require.True(t, ok)
	assert.Same(t, view, h)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"diwanes", "users"}, reg.List())
}
