package session

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// InMemoryStore is a thread-safe Store for local development and tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	user *types.User
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(_ context.Context, user types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	return nil
}

func (s *InMemoryStore) Load(_ context.Context) (types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return types.User{}, ErrNoSession
	}
	return *s.user, nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	return nil
}

// Close is a no-op for the in-memory implementation.
func (s *InMemoryStore) Close() error {
	return nil
}
