// Package batcher coalesces view updates. Many changes to the same view and
// change kind within a short window collapse into a single handler call
// carrying the latest payload.
package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

// DefaultDelay is how long updates are held before being flushed.
const DefaultDelay = 100 * time.Millisecond

// Config holds configuration for the Batcher.
type Config struct {
	// Delay is the time between the first pending update and the flush.
	Delay time.Duration
}

type pendingKey struct {
	viewID string
	kind   types.ChangeKind
}

type pendingUpdate struct {
	payload    any
	enqueuedAt time.Time
}

// Batcher holds at most one pending update per (view, kind) pair and applies
// them through the registry when its timer fires.
type Batcher struct {
	cfg      Config
	registry *Registry
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// flushMu is held for the whole of a flush.
	flushMu sync.Mutex

	mu      sync.Mutex
	pending map[pendingKey]pendingUpdate
	order   []pendingKey
	timer   *time.Timer
	gen     uint64
	rearm   bool
	stopped bool
}

// New creates a batcher that dispatches to the handlers in registry.
func New(cfg *Config, registry *Registry, logger zerolog.Logger) (*Batcher, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	c := Config{Delay: DefaultDelay}
	if cfg != nil && cfg.Delay > 0 {
		c.Delay = cfg.Delay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		cfg:      c,
		registry: registry,
		logger:   logger.With().Str("component", "UpdateBatcher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[pendingKey]pendingUpdate),
	}, nil
}

// Enqueue records payload as the latest update of kind for viewID, replacing
// any earlier one, and arms the flush timer if it is not already running.
func (b *Batcher) Enqueue(viewID string, kind types.ChangeKind, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		b.logger.Warn().Str("view_id", viewID).Str("kind", string(kind)).Msg("Batcher stopped, dropping update.")
		return
	}

	k := pendingKey{viewID: viewID, kind: kind}
	if _, exists := b.pending[k]; !exists {
		b.order = append(b.order, k)
	}
	b.pending[k] = pendingUpdate{payload: payload, enqueuedAt: time.Now()}
	if b.timer == nil {
		b.arm()
	}
}

// Pending returns the number of (view, kind) updates waiting for a flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush applies every pending update now. Only one flush runs at a time; a
// flush requested while another is running is skipped and the timer is armed
// again once the running flush completes.
func (b *Batcher) Flush(ctx context.Context) {
	if !b.flushMu.TryLock() {
		b.mu.Lock()
		b.rearm = true
		b.mu.Unlock()
		b.logger.Debug().Msg("Flush already running, deferring.")
		return
	}
	defer b.flushMu.Unlock()

	b.flushPending(ctx)

	b.mu.Lock()
	if b.rearm {
		b.rearm = false
		if len(b.pending) > 0 && b.timer == nil && !b.stopped {
			b.arm()
		}
	}
	b.mu.Unlock()
}

// Stop applies anything still pending and refuses further updates.
func (b *Batcher) Stop(ctx context.Context) {
	b.mu.Lock()
	b.stopped = true
	b.disarm()
	b.mu.Unlock()

	b.flushMu.Lock()
	b.flushPending(ctx)
	b.flushMu.Unlock()
	b.cancel()
}

// Bind subscribes viewID to topic so that each emission is enqueued with the
// topic's change kind. Custom topics enqueue as Refresh.
func (b *Batcher) Bind(bus *events.Bus, topic types.Topic, viewID string) {
	kind := topic.Kind
	if topic.IsCustom() {
		kind = types.Refresh
	}
	bus.Subscribe(topic, func(_ context.Context, payload any) error {
		b.Enqueue(viewID, kind, payload)
		return nil
	})
}

// flushPending drains the queue and applies it. Must be called with flushMu held.
func (b *Batcher) flushPending(ctx context.Context) {
	b.mu.Lock()
	b.disarm()
	batch, order := b.pending, b.order
	b.pending = make(map[pendingKey]pendingUpdate)
	b.order = nil
	b.mu.Unlock()

	if len(order) == 0 {
		return
	}

	var views []string
	byView := make(map[string][]pendingKey)
	for _, k := range order {
		if _, seen := byView[k.viewID]; !seen {
			views = append(views, k.viewID)
		}
		byView[k.viewID] = append(byView[k.viewID], k)
	}
	b.logger.Debug().Int("view_count", len(views)).Int("update_count", len(order)).Msg("Flushing view updates.")

	for _, viewID := range views {
		h, ok := b.registry.Get(viewID)
		if !ok {
			b.logger.Warn().Str("view_id", viewID).Int("update_count", len(byView[viewID])).Msg("No handler registered for view, dropping updates.")
			continue
		}
		for _, k := range byView[viewID] {
			b.apply(ctx, h, k, batch[k])
		}
	}
}

func (b *Batcher) apply(ctx context.Context, h ViewUpdateHandler, k pendingKey, u pendingUpdate) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("view_id", k.viewID).Str("kind", string(k.kind)).Msg("View handler panicked.")
		}
	}()
	if err := h.Apply(ctx, k.kind, u.payload); err != nil {
		b.logger.Error().Err(err).Str("view_id", k.viewID).Str("kind", string(k.kind)).
			Dur("held_for", time.Since(u.enqueuedAt)).Msg("View handler failed.")
	}
}

// arm starts the flush timer. Must be called with b.mu held.
func (b *Batcher) arm() {
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.cfg.Delay, func() {
		b.mu.Lock()
		if b.gen == gen {
			b.timer = nil
		}
		b.mu.Unlock()
		b.Flush(b.ctx)
	})
}

// disarm stops the flush timer. Must be called with b.mu held.
func (b *Batcher) disarm() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}
