package batcher

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// ViewUpdateHandler applies a coalesced change to a rendered view.
type ViewUpdateHandler interface {
	Apply(ctx context.Context, kind types.ChangeKind, payload any) error
}

// HandlerFunc adapts a function to ViewUpdateHandler.
type HandlerFunc func(ctx context.Context, kind types.ChangeKind, payload any) error

// Apply calls f.
func (f HandlerFunc) Apply(ctx context.Context, kind types.ChangeKind, payload any) error {
	return f(ctx, kind, payload)
}

// Registry maps view ids to their update handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ViewUpdateHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]ViewUpdateHandler),
	}
}

// Register adds or replaces the handler for viewID.
func (r *Registry) Register(viewID string, h ViewUpdateHandler) error {
	if viewID == "" {
		return errors.New("view id cannot be empty")
	}
	if h == nil {
		return errors.New("handler cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[viewID] = h
	return nil
}

// Get retrieves the handler registered for viewID.
func (r *Registry) Get(viewID string) (ViewUpdateHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[viewID]
	return h, ok
}

// List returns the registered view ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
