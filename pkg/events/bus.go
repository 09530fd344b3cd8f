// Package events implements a topic-based publish/subscribe bus whose handlers
// are isolated from each other's failures.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// Handler receives the payload of a published event. A returned error is logged
// by the bus and never reaches the publisher.
type Handler func(ctx context.Context, payload any) error

// Bus is a synchronous, in-process event bus. Handlers for a topic run in the
// order they were subscribed, on the publisher's goroutine.
type Bus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[types.Topic][]Handler
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger:   logger.With().Str("component", "EventBus").Logger(),
		handlers: make(map[types.Topic][]Handler),
	}
}

// Subscribe appends handler to the topic's list. Subscribing the same handler
// twice makes it run twice per emission.
func (b *Bus) Subscribe(topic types.Topic, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish invokes every handler of topic with payload. Each handler's error or
// panic is logged and the remaining handlers still run.
func (b *Bus) Publish(ctx context.Context, topic types.Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for i, h := range handlers {
		if err := b.invoke(ctx, h, payload); err != nil {
			b.logger.Error().Err(err).
				Str("topic", topic.String()).
				Int("handler_index", i).
				Msg("Event handler failed.")
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

// UnsubscribeAll removes every handler of topic.
func (b *Bus) UnsubscribeAll(topic types.Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
}

// HandlerCount returns the number of handlers subscribed to topic.
func (b *Bus) HandlerCount(topic types.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
