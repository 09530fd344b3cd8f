// Package state holds the canonical in-memory copy of every collection. All
// mutations go through Store, which keeps the response cache in step and
// announces each change on the event bus.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/cache"
	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/fetcher"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

// CacheKey is the cache key under which a collection's full listing is stored.
// It matches the fingerprint of a plain GET of the collection.
func CacheKey(c types.Collection) string {
	return fetcher.Fingerprint(fetcher.Get(c.Path(), nil))
}

// Store is the single source of truth for rendered collections.
type Store struct {
	cache  cache.Cache[string, json.RawMessage]
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	collections map[types.Collection][]types.Record
	issued      map[types.Collection]uint64
	applied     map[types.Collection]uint64
}

// New creates an empty store.
func New(c cache.Cache[string, json.RawMessage], bus *events.Bus, logger zerolog.Logger) (*Store, error) {
	if c == nil || bus == nil {
		return nil, errors.New("cache and bus cannot be nil")
	}
	return &Store{
		cache:       c,
		bus:         bus,
		logger:      logger.With().Str("component", "StateStore").Logger(),
		now:         time.Now,
		collections: make(map[types.Collection][]types.Record),
		issued:      make(map[types.Collection]uint64),
		applied:     make(map[types.Collection]uint64),
	}, nil
}

// GetState returns the current records of c, or an empty list. The returned
// slice is never modified by later mutations; they install a new slice instead.
func (s *Store) GetState(c types.Collection) []types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if recs, ok := s.collections[c]; ok {
		return recs
	}
	return []types.Record{}
}

// Find returns the record of c whose id equals id.
func (s *Store) Find(c types.Collection, id types.ID) (types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.collections[c], id); i >= 0 {
		return s.collections[c][i], true
	}
	return nil, false
}

// ReplaceAll overwrites collection c with records.
func (s *Store) ReplaceAll(ctx context.Context, c types.Collection, records []types.Record) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(c))
	}
	s.mu.Lock()
	next := append([]types.Record(nil), records...)
	s.install(ctx, c, next)
	s.mu.Unlock()

	s.bus.Publish(ctx, types.NewTopic(c, types.Replaced), types.ListEvent{
		Collection: c,
		AllData:    next,
		At:         s.now(),
	})
	return nil
}

// Begin hands out the sequence number of a listing fetch for c. Pass it to
// ReplaceAllSeq when the response arrives.
func (s *Store) Begin(c types.Collection) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[c]++
	return s.issued[c]
}

// ReplaceAllSeq is ReplaceAll guarded against out-of-order responses: it drops
// records fetched under a sequence that is not newer than the last applied
// change. Local mutations count as applied changes, so a listing fetched before
// a create cannot erase the created record. It reports whether the records were
// applied.
func (s *Store) ReplaceAllSeq(ctx context.Context, c types.Collection, seq uint64, records []types.Record) (bool, error) {
	if !c.Valid() {
		return false, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(c))
	}
	s.mu.Lock()
	if seq <= s.applied[c] {
		last := s.applied[c]
		s.mu.Unlock()
		s.logger.Debug().Str("collection", string(c)).Uint64("seq", seq).Uint64("applied", last).Msg("Dropping stale listing.")
		return false, nil
	}
	s.applied[c] = seq
	next := append([]types.Record(nil), records...)
	s.install(ctx, c, next)
	s.mu.Unlock()

	s.bus.Publish(ctx, types.NewTopic(c, types.Replaced), types.ListEvent{
		Collection: c,
		AllData:    next,
		At:         s.now(),
	})
	return true, nil
}

// Append adds record at the end of c.
func (s *Store) Append(ctx context.Context, c types.Collection, record types.Record) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(c))
	}
	if record == nil {
		return errors.New("record cannot be nil")
	}
	s.mu.Lock()
	cur := s.collections[c]
	next := make([]types.Record, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, record)
	s.install(ctx, c, next)
	s.markLocal(c)
	s.mu.Unlock()

	s.bus.Publish(ctx, types.NewTopic(c, types.Added), types.ItemEvent{
		Collection: c,
		Item:       record,
		Index:      len(next) - 1,
		AllData:    next,
		At:         s.now(),
	})
	return nil
}

// UpdateByID replaces the record of c whose id is id. An unknown id is a soft
// no-op: nothing changes, nothing is published, and false is returned.
func (s *Store) UpdateByID(ctx context.Context, c types.Collection, id types.ID, record types.Record) (bool, error) {
	if !c.Valid() {
		return false, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(c))
	}
	if record == nil {
		return false, errors.New("record cannot be nil")
	}
	if record.RecordID() == "" {
		record = record.WithID(id)
	}

	s.mu.Lock()
	cur := s.collections[c]
	i := indexOf(cur, id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug().Str("collection", string(c)).Str("id", id.String()).Msg("Ignoring update of unknown id.")
		return false, nil
	}
	next := append([]types.Record(nil), cur...)
	next[i] = record
	s.install(ctx, c, next)
	s.markLocal(c)
	s.mu.Unlock()

	s.bus.Publish(ctx, types.NewTopic(c, types.Updated), types.ItemEvent{
		Collection: c,
		Item:       record,
		Index:      i,
		AllData:    next,
		At:         s.now(),
	})
	return true, nil
}

// RemoveByID removes the record of c whose id is id and returns it. An unknown
// id is a soft no-op.
func (s *Store) RemoveByID(ctx context.Context, c types.Collection, id types.ID) (types.Record, bool, error) {
	if !c.Valid() {
		return nil, false, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(c))
	}
	s.mu.Lock()
	cur := s.collections[c]
	i := indexOf(cur, id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug().Str("collection", string(c)).Str("id", id.String()).Msg("Ignoring removal of unknown id.")
		return nil, false, nil
	}
	removed := cur[i]
	next := make([]types.Record, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	s.install(ctx, c, next)
	s.markLocal(c)
	s.mu.Unlock()

	s.bus.Publish(ctx, types.NewTopic(c, types.Removed), types.ItemEvent{
		Collection: c,
		Item:       removed,
		Index:      i,
		AllData:    next,
		At:         s.now(),
	})
	return removed, true, nil
}

// Clear forgets every collection and sequence. Nothing is published.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[types.Collection][]types.Record)
	s.issued = make(map[types.Collection]uint64)
	s.applied = make(map[types.Collection]uint64)
}

// install swaps in the new slice and mirrors it into the cache.
// Must be called with s.mu held.
func (s *Store) install(ctx context.Context, c types.Collection, next []types.Record) {
	s.collections[c] = next
	raw, err := types.EncodeList(next)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", string(c)).Msg("Failed to encode collection for cache.")
		return
	}
	if err := s.cache.Set(ctx, CacheKey(c), raw); err != nil {
		s.logger.Error().Err(err).Str("collection", string(c)).Msg("Failed to write collection to cache.")
	}
}

// markLocal records a local mutation so that listings fetched before it are
// treated as stale. Must be called with s.mu held.
func (s *Store) markLocal(c types.Collection) {
	s.applied[c] = s.issued[c]
}

func indexOf(recs []types.Record, id types.ID) int {
	for i, r := range recs {
		if r.RecordID() == id {
			return i
		}
	}
	return -1
}
