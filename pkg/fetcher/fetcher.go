// Package fetcher wraps the resource store transport with a response cache and
// coalesces identical in-flight reads into a single network call.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/illmade-knight/go-diwane/pkg/cache"
)

// Fetcher issues requests through a Transport. Reads are served from the cache
// when fresh and otherwise de-duplicated per fingerprint: at most one network
// call per fingerprint is in flight, and every concurrent caller receives its
// result. Mutations always reach the network and are never cached.
type Fetcher struct {
	transport Transport
	cache     cache.Cache[string, json.RawMessage]
	logger    zerolog.Logger
	group     singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a Fetcher.
func New(transport Transport, c cache.Cache[string, json.RawMessage], logger zerolog.Logger) (*Fetcher, error) {
	if transport == nil || c == nil {
		return nil, errors.New("transport and cache cannot be nil")
	}
	return &Fetcher{
		transport: transport,
		cache:     c,
		logger:    logger.With().Str("component", "Fetcher").Logger(),
		pending:   make(map[string]struct{}),
	}, nil
}

// Request performs req. A caller whose ctx ends stops waiting, but the network
// call it started runs to completion and still populates the cache.
func (f *Fetcher) Request(ctx context.Context, req Request) (json.RawMessage, error) {
	if !req.IsRead() {
		body, err := f.transport.Do(ctx, req)
		if err != nil {
			f.logger.Error().Err(err).Str("method", req.NormalizedMethod()).Str("path", req.Path).Msg("Mutation failed.")
			return nil, fmt.Errorf("request failed: %w", err)
		}
		return body, nil
	}

	key := Fingerprint(req)
	cached, err := f.cache.Get(ctx, key)
	if err == nil {
		f.logger.Debug().Str("key", key).Msg("Cache hit.")
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		f.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to network.")
	}

	ch := f.group.DoChan(key, func() (any, error) {
		f.track(key, true)
		defer f.track(key, false)

		callCtx := context.WithoutCancel(ctx)
		body, err := f.transport.Do(callCtx, req)
		if err != nil {
			f.logger.Error().Err(err).Str("key", key).Msg("Read failed.")
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if req.SkipWriteBack {
			return body, nil
		}
		if err := f.cache.Set(callCtx, key, body); err != nil {
			f.logger.Error().Err(err).Str("key", key).Msg("Failed to write response to cache.")
		}
		return body, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.logger.Debug().Str("key", key).Msg("Joined in-flight request.")
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BatchRequest runs every request concurrently and returns the results in the
// order given. The first failure fails the whole batch.
func (f *Fetcher) BatchRequest(ctx context.Context, reqs ...Request) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			body, err := f.Request(gctx, req)
			if err != nil {
				return err
			}
			results[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Invalidate drops the cached response of req.
func (f *Fetcher) Invalidate(ctx context.Context, req Request) error {
	return f.cache.Invalidate(ctx, Fingerprint(req))
}

// InFlight returns the number of reads currently waiting on the network.
func (f *Fetcher) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Fetcher) track(key string, start bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if start {
		f.pending[key] = struct{}{}
		return
	}
	delete(f.pending, key)
}
