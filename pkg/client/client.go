// Package client is the entry point for views. It owns the cache, event bus,
// fetcher, state store and update batcher for one application session and
// exposes the resource operations that keep them consistent.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/batcher"
	"github.com/illmade-knight/go-diwane/pkg/cache"
	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/fetcher"
	"github.com/illmade-knight/go-diwane/pkg/pagination"
	"github.com/illmade-knight/go-diwane/pkg/session"
	"github.com/illmade-knight/go-diwane/pkg/state"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

// Config holds the tunables of a Client. Zero values fall back to defaults.
type Config struct {
	CacheTTL   time.Duration
	BatchDelay time.Duration
	PageSize   int
}

type options struct {
	logger   zerolog.Logger
	cache    cache.Cache[string, json.RawMessage]
	sessions session.Store
	now      func() time.Time
	newID    func() types.ID
}

// Option customises a Client.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCache replaces the in-memory response cache, e.g. with a RedisCache.
func WithCache(c cache.Cache[string, json.RawMessage]) Option {
	return func(o *options) { o.cache = c }
}

// WithSessionStore sets where the signed-in user is persisted.
func WithSessionStore(s session.Store) Option {
	return func(o *options) { o.sessions = s }
}

// WithClock overrides time.Now for timestamps written by the client.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides the id assigned to records created without one.
func WithIDGenerator(newID func() types.ID) Option {
	return func(o *options) { o.newID = newID }
}

// Client wires the synchronization components together.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() types.ID

	cache    cache.Cache[string, json.RawMessage]
	bus      *events.Bus
	fetcher  *fetcher.Fetcher
	state    *state.Store
	registry *batcher.Registry
	batcher  *batcher.Batcher
	sessions session.Store

	// filtered holds the cached filtered reads of each collection so that
	// writes can drop them.
	filteredMu sync.Mutex
	filtered   map[types.Collection]map[string]fetcher.Request
}

// New builds a Client on top of transport.
func New(cfg *Config, transport fetcher.Transport, opts ...Option) (*Client, error) {
	c := Config{CacheTTL: cache.DefaultTTL, BatchDelay: batcher.DefaultDelay, PageSize: pagination.DefaultPageSize}
	if cfg != nil {
		if cfg.CacheTTL > 0 {
			c.CacheTTL = cfg.CacheTTL
		}
		if cfg.BatchDelay > 0 {
			c.BatchDelay = cfg.BatchDelay
		}
		if cfg.PageSize > 0 {
			c.PageSize = cfg.PageSize
		}
	}

	o := options{
		logger: zerolog.Nop(),
		now:    time.Now,
		newID:  func() types.ID { return types.ID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = cache.NewTTLCache[string, json.RawMessage](c.CacheTTL)
	}
	if o.sessions == nil {
		o.sessions = session.NewInMemoryStore()
	}

	bus := events.NewBus(o.logger)
	f, err := fetcher.New(transport, o.cache, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}
	st, err := state.New(o.cache, bus, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}
	registry := batcher.NewRegistry()
	b, err := batcher.New(&batcher.Config{Delay: c.BatchDelay}, registry, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create batcher: %w", err)
	}

	return &Client{
		cfg:      c,
		logger:   o.logger.With().Str("component", "Client").Logger(),
		now:      o.now,
		newID:    o.newID,
		cache:    o.cache,
		bus:      bus,
		fetcher:  f,
		state:    st,
		registry: registry,
		batcher:  b,
		sessions: o.sessions,
		filtered: make(map[types.Collection]map[string]fetcher.Request),
	}, nil
}

// FetchResource reads collection c. A read without query parameters is a full
// listing and replaces the canonical state of c; filtered reads leave state
// untouched.
func (c *Client) FetchResource(ctx context.Context, coll types.Collection, query url.Values) ([]types.Record, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
	}
	full := len(query) == 0
	var (
		seq uint64
		req fetcher.Request
	)
	if full {
		seq = c.state.Begin(coll)
		req = listing(coll)
	} else {
		req = fetcher.Get(coll.Path(), query)
		c.trackFiltered(coll, req)
	}

	raw, err := c.fetcher.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	records, err := types.DecodeList(coll, raw)
	if err != nil {
		return nil, err
	}
	if full {
		if _, err := c.state.ReplaceAllSeq(ctx, coll, seq, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Refresh drops the cached listing of coll and fetches it again, replacing
// its state.
func (c *Client) Refresh(ctx context.Context, coll types.Collection) error {
	if !coll.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
	}
	c.invalidate(ctx, fetcher.Get(coll.Path(), nil))
	_, err := c.FetchResource(ctx, coll, nil)
	return err
}

// FetchOne reads a single record.
func (c *Client) FetchOne(ctx context.Context, coll types.Collection, id types.ID) (types.Record, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
	}
	raw, err := c.fetcher.Request(ctx, fetcher.Get(coll.ItemPath(id), nil))
	if err != nil {
		return nil, err
	}
	return types.Decode(coll, raw)
}

// Load fetches the full listings of collections concurrently and installs them
// in state. With no arguments every collection is loaded.
func (c *Client) Load(ctx context.Context, colls ...types.Collection) error {
	if len(colls) == 0 {
		colls = types.AllCollections()
	}
	reqs := make([]fetcher.Request, len(colls))
	seqs := make([]uint64, len(colls))
	for i, coll := range colls {
		if !coll.Valid() {
			return fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
		}
		reqs[i] = listing(coll)
		seqs[i] = c.state.Begin(coll)
	}

	bodies, err := c.fetcher.BatchRequest(ctx, reqs...)
	if err != nil {
		return err
	}
	for i, coll := range colls {
		records, err := types.DecodeList(coll, bodies[i])
		if err != nil {
			return err
		}
		if _, err := c.state.ReplaceAllSeq(ctx, coll, seqs[i], records); err != nil {
			return err
		}
	}
	c.logger.Debug().Int("collections", len(colls)).Msg("Loaded collections.")
	return nil
}

// CreateResource posts record to coll, assigning an id when it has none, and
// appends the stored record to state.
func (c *Client) CreateResource(ctx context.Context, coll types.Collection, record types.Record) (types.Record, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
	}
	if record == nil {
		return nil, errors.New("record cannot be nil")
	}
	if record.RecordID() == "" {
		record = record.WithID(c.newID())
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	raw, err := c.fetcher.Request(ctx, fetcher.Request{Method: http.MethodPost, Path: coll.Path(), Body: record})
	if err != nil {
		return nil, err
	}
	stored, err := c.echo(coll, raw, record)
	if err != nil {
		return nil, err
	}
	c.invalidateFiltered(ctx, coll)
	if err := c.state.Append(ctx, coll, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// UpdateResource replaces the record id of coll. When the record is not in
// state the server is still updated but no change is published.
func (c *Client) UpdateResource(ctx context.Context, coll types.Collection, id types.ID, record types.Record) (types.Record, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
	}
	if record == nil {
		return nil, errors.New("record cannot be nil")
	}
	record = record.WithID(id)
	if err := record.Validate(); err != nil {
		return nil, err
	}

	itemPath := coll.ItemPath(id)
	raw, err := c.fetcher.Request(ctx, fetcher.Request{Method: http.MethodPut, Path: itemPath, Body: record})
	if err != nil {
		return nil, err
	}
	stored, err := c.echo(coll, raw, record)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, fetcher.Get(itemPath, nil))
	c.invalidateFiltered(ctx, coll)
	if _, err := c.state.UpdateByID(ctx, coll, id, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteResource deletes the record id of coll and removes it from state.
func (c *Client) DeleteResource(ctx context.Context, coll types.Collection, id types.ID) error {
	if !coll.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownCollection, string(coll))
	}
	itemPath := coll.ItemPath(id)
	if _, err := c.fetcher.Request(ctx, fetcher.Request{Method: http.MethodDelete, Path: itemPath}); err != nil {
		return err
	}
	c.invalidate(ctx, fetcher.Get(itemPath, nil))
	c.invalidateFiltered(ctx, coll)
	_, _, err := c.state.RemoveByID(ctx, coll, id)
	return err
}

// GetState returns the canonical records of coll.
func (c *Client) GetState(coll types.Collection) []types.Record {
	return c.state.GetState(coll)
}

// Find returns the record id of coll from state.
func (c *Client) Find(coll types.Collection, id types.ID) (types.Record, bool) {
	return c.state.Find(coll, id)
}

// Subscribe registers handler on topic.
func (c *Client) Subscribe(topic types.Topic, handler events.Handler) {
	c.bus.Subscribe(topic, handler)
}

// Publish emits payload on topic.
func (c *Client) Publish(ctx context.Context, topic types.Topic, payload any) {
	c.bus.Publish(ctx, topic, payload)
}

// Paginate returns a page of the canonical records of coll. A non-positive
// pageSize uses the configured page size.
func (c *Client) Paginate(coll types.Collection, page, pageSize int) pagination.Page[types.Record] {
	if pageSize <= 0 {
		pageSize = c.cfg.PageSize
	}
	return pagination.Paginate(c.state.GetState(coll), page, pageSize)
}

// RegisterView registers h under viewID and binds it to the given topics.
func (c *Client) RegisterView(viewID string, h batcher.ViewUpdateHandler, topics ...types.Topic) error {
	if err := c.registry.Register(viewID, h); err != nil {
		return err
	}
	for _, t := range topics {
		c.batcher.Bind(c.bus, t, viewID)
	}
	return nil
}

// Batcher returns the update batcher.
func (c *Client) Batcher() *batcher.Batcher {
	return c.batcher
}

// Bus returns the event bus.
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// Close flushes pending view updates and releases the cache and session store.
func (c *Client) Close(ctx context.Context) error {
	c.batcher.Stop(ctx)
	return errors.Join(c.cache.Close(), c.sessions.Close())
}

// echo decodes the server's copy of a written record. Stores that answer with
// an empty body leave the sent record as the result.
func (c *Client) echo(coll types.Collection, raw json.RawMessage, sent types.Record) (types.Record, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return sent, nil
	}
	stored, err := types.Decode(coll, raw)
	if err != nil {
		return nil, fmt.Errorf("unexpected response for %s: %w", coll, err)
	}
	return stored, nil
}

func (c *Client) invalidate(ctx context.Context, req fetcher.Request) {
	if err := c.fetcher.Invalidate(ctx, req); err != nil {
		c.logger.Warn().Err(err).Str("path", req.Path).Msg("Failed to invalidate cached record.")
	}
}

// listing is the full read of coll. Its cache entry is written by the state
// store, so a listing that arrives after a local change cannot overwrite it.
func listing(coll types.Collection) fetcher.Request {
	req := fetcher.Get(coll.Path(), nil)
	req.SkipWriteBack = true
	return req
}

func (c *Client) trackFiltered(coll types.Collection, req fetcher.Request) {
	c.filteredMu.Lock()
	defer c.filteredMu.Unlock()
	reqs, ok := c.filtered[coll]
	if !ok {
		reqs = make(map[string]fetcher.Request)
		c.filtered[coll] = reqs
	}
	reqs[fetcher.Fingerprint(req)] = req
}

// invalidateFiltered drops every filtered read of coll from the cache.
func (c *Client) invalidateFiltered(ctx context.Context, coll types.Collection) {
	c.filteredMu.Lock()
	reqs := c.filtered[coll]
	delete(c.filtered, coll)
	c.filteredMu.Unlock()

	for _, req := range reqs {
		c.invalidate(ctx, req)
	}
}
