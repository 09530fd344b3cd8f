package state_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-diwane/pkg/cache"
	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/state"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

func newStore(t *testing.T) (*state.Store, *cache.TTLCache[string, json.RawMessage], *events.Bus) {
	t.Helper()
	c := cache.NewTTLCache[string, json.RawMessage](cache.DefaultTTL)
	bus := events.NewBus(zerolog.Nop())
	s, err := state.New(c, bus, zerolog.Nop())
	require.NoError(t, err)
	return s, c, bus
}

func cachedList(t *testing.T, c cache.Cache[string, json.RawMessage], coll types.Collection) []types.Record {
	t.Helper()
	raw, err := c.Get(context.Background(), state.CacheKey(coll))
	require.NoError(t, err)
	recs, err := types.DecodeList(coll, raw)
	require.NoError(t, err)
	return recs
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "GET /users", state.CacheKey(types.Users))
}

func TestStore_GetState(t *testing.T) {
	s, _, _ := newStore(t)
	recs := s.GetState(types.Xassidas)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestStore_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	s, c, bus := newStore(t)

	var got types.ListEvent
	bus.Subscribe(types.NewTopic(types.Diwanes, types.Replaced), func(_ context.Context, p any) error {
		got = p.(types.ListEvent)
		return nil
	})

	recs := []types.Record{
		types.Diwane{ID: "1", Nom: "Darou", Ville: "Touba"},
		types.Diwane{ID: "2", Nom: "Keur", Ville: "Dakar"},
	}
	require.NoError(t, s.ReplaceAll(ctx, types.Diwanes, recs))

	assert.Equal(t, recs, s.GetState(types.Diwanes))
	assert.Equal(t, types.Diwanes, got.Collection)
	assert.Equal(t, recs, got.AllData)
	assert.Equal(t, recs, cachedList(t, c, types.Diwanes))

	err := s.ReplaceAll(ctx, types.Collection("nope"), nil)
	assert.ErrorIs(t, err, types.ErrUnknownCollection)
}

func TestStore_Append(t *testing.T) {
	ctx := context.Background()
	s, c, bus := newStore(t)

	var got types.ItemEvent
	bus.Subscribe(types.NewTopic(types.Lectures, types.Added), func(_ context.Context, p any) error {
		got = p.(types.ItemEvent)
		return nil
	})

	l := types.Lecture{ID: "l1", UserID: "u1", XassidaID: "x1", EvenementID: "e1", Nombre: 3}
	require.NoError(t, s.Append(ctx, types.Lectures, l))

	assert.Equal(t, l, got.Item)
	assert.Equal(t, 0, got.Index)
	require.Len(t, got.AllData, 1)
	assert.Equal(t, []types.Record{l}, cachedList(t, c, types.Lectures))
}

func TestStore_SnapshotsAreStable(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	require.NoError(t, s.ReplaceAll(ctx, types.Diwanes, []types.Record{
		types.Diwane{ID: "1"}, types.Diwane{ID: "2"},
	}))

	before := s.GetState(types.Diwanes)
	_, ok, err := s.RemoveByID(ctx, types.Diwanes, "1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Len(t, before, 2)
	assert.Equal(t, types.ID("1"), before[0].RecordID())
	assert.Len(t, s.GetState(types.Diwanes), 1)
}

func TestStore_UpdateByID(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the matching record", func(t *testing.T) {
		s, c, bus := newStore(t)
		require.NoError(t, s.ReplaceAll(ctx, types.Xassidas, []types.Record{
			types.Xassida{ID: "1", Titre: "A", Statut: types.StatusPending},
			types.Xassida{ID: "2", Titre: "B", Statut: types.StatusPending},
		}))
		var got types.ItemEvent
		bus.Subscribe(types.NewTopic(types.Xassidas, types.Updated), func(_ context.Context, p any) error {
			got = p.(types.ItemEvent)
			return nil
		})

		ok, err := s.UpdateByID(ctx, types.Xassidas, "2", types.Xassida{Titre: "B", Statut: types.StatusValid})
		require.NoError(t, err)
		require.True(t, ok)

		updated, found := s.Find(types.Xassidas, "2")
		require.True(t, found)
		assert.Equal(t, types.StatusValid, updated.(types.Xassida).Statut)
		assert.Equal(t, types.ID("2"), updated.RecordID())
		assert.Equal(t, 1, got.Index)
		assert.Equal(t, s.GetState(types.Xassidas), cachedList(t, c, types.Xassidas))
	})

	t.Run("unknown id is a soft no-op", func(t *testing.T) {
		s, c, bus := newStore(t)
		initial := []types.Record{types.Xassida{ID: "1", Titre: "A"}}
		require.NoError(t, s.ReplaceAll(ctx, types.Xassidas, initial))
		published := 0
		bus.Subscribe(types.NewTopic(types.Xassidas, types.Updated), func(context.Context, any) error {
			published++
			return nil
		})

		ok, err := s.UpdateByID(ctx, types.Xassidas, "404", types.Xassida{ID: "404", Titre: "Z"})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, published)
		assert.Equal(t, initial, s.GetState(types.Xassidas))
		assert.Equal(t, initial, cachedList(t, c, types.Xassidas))
	})
}

func TestStore_RemoveByID(t *testing.T) {
	ctx := context.Background()

	t.Run("removal keeps state and cache consistent", func(t *testing.T) {
		s, c, bus := newStore(t)
		require.NoError(t, s.ReplaceAll(ctx, types.Evenements, []types.Record{
			types.Evenement{ID: "1", Nom: "Magal"},
			types.Evenement{ID: "2", Nom: "Kazu"},
			types.Evenement{ID: "3", Nom: "Gamou"},
		}))
		var got types.ItemEvent
		bus.Subscribe(types.NewTopic(types.Evenements, types.Removed), func(_ context.Context, p any) error {
			got = p.(types.ItemEvent)
			return nil
		})

		removed, ok, err := s.RemoveByID(ctx, types.Evenements, "2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Kazu", removed.(types.Evenement).Nom)

		_, found := s.Find(types.Evenements, "2")
		assert.False(t, found)
		assert.Equal(t, 1, got.Index)
		assert.Len(t, got.AllData, 2)

		for _, r := range cachedList(t, c, types.Evenements) {
			assert.NotEqual(t, types.ID("2"), r.RecordID())
		}
	})

	t.Run("unknown id is a soft no-op", func(t *testing.T) {
		s, _, bus := newStore(t)
		require.NoError(t, s.ReplaceAll(ctx, types.Evenements, []types.Record{types.Evenement{ID: "1"}}))
		published := 0
		bus.Subscribe(types.NewTopic(types.Evenements, types.Removed), func(context.Context, any) error {
			published++
			return nil
		})

		_, ok, err := s.RemoveByID(ctx, types.Evenements, "9")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, published)
		assert.Len(t, s.GetState(types.Evenements), 1)
	})
}

func TestStore_ReplaceAllSeq(t *testing.T) {
	ctx := context.Background()

	t.Run("an older listing arriving late is dropped", func(t *testing.T) {
		s, _, _ := newStore(t)
		first := s.Begin(types.Users)
		second := s.Begin(types.Users)

		applied, err := s.ReplaceAllSeq(ctx, types.Users, second, []types.Record{types.User{ID: "new"}})
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.ReplaceAllSeq(ctx, types.Users, first, []types.Record{types.User{ID: "old"}})
		require.NoError(t, err)
		assert.False(t, applied)

		recs := s.GetState(types.Users)
		require.Len(t, recs, 1)
		assert.Equal(t, types.ID("new"), recs[0].RecordID())
	})

	t.Run("a listing begun before a local create does not erase it", func(t *testing.T) {
		s, _, _ := newStore(t)
		seq := s.Begin(types.Lectures)
		require.NoError(t, s.Append(ctx, types.Lectures, types.Lecture{ID: "mine"}))

		applied, err := s.ReplaceAllSeq(ctx, types.Lectures, seq, []types.Record{})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Len(t, s.GetState(types.Lectures), 1)

		next := s.Begin(types.Lectures)
		applied, err = s.ReplaceAllSeq(ctx, types.Lectures, next, []types.Record{})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Empty(t, s.GetState(types.Lectures))
	})
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	require.NoError(t, s.Append(ctx, types.Diwanes, types.Diwane{ID: "1"}))

	s.Clear()

	assert.Empty(t, s.GetState(types.Diwanes))
}
