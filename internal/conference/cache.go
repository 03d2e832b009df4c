package conference

import (
	"context"
	"sync"
	"time"

	"confwatch/internal/eventbus"
	"confwatch/internal/host"
	"confwatch/internal/storage"
	logx "confwatch/pkg/logx"
)

const DefaultTTL = time.Hour

// CacheEntry is the single persisted cache slot.
type CacheEntry struct {
	Conferences []Record `json:"conferences"`
	Timestamp   int64    `json:"timestamp"` // unix ms
}

func (e CacheEntry) FetchedAt() time.Time { return time.UnixMilli(e.Timestamp) }

// Source tells where a Result came from.
type Source string

const (
	SourceFresh  Source = "fresh"  // fetched just now
	SourceCached Source = "cached" // entry younger than TTL
	SourceStale  Source = "stale"  // fetch failed, expired entry served
	SourceEmpty  Source = "empty"  // fetch failed, nothing cached
)

type Result struct {
	Records   []Record
	Source    Source
	FetchedAt time.Time
	Err       error // fetch error behind a stale/empty result
}

// Cache is a fetch-through cache over a Fetcher backed by the KV store.
// Expiry is checked lazily on read.
type Cache struct {
	kv      storage.KV
	fetcher Fetcher
	clock   host.Clock
	ttl     time.Duration
	bus     eventbus.Bus
	log     logx.Logger

	// fetchMu keeps concurrent misses from stampeding the remote.
	fetchMu sync.Mutex
}

type CacheOptions struct {
	TTL time.Duration
	Bus eventbus.Bus
}

func NewCache(kv storage.KV, f Fetcher, clock host.Clock, opts CacheOptions, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if clock == nil {
		clock = host.SystemClock{}
	}
	return &Cache{
		kv:      kv,
		fetcher: f,
		clock:   clock,
		ttl:     opts.TTL,
		bus:     opts.Bus,
		log:     log.With(logx.String("comp", "cache")),
	}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns fresh-or-stale records and never fails.
func (c *Cache) Get(ctx context.Context) []Record {
	return c.Lookup(ctx).Records
}

// Preload warms the cache for the UI layer.
func (c *Cache) Preload(ctx context.Context) []Record { return c.Get(ctx) }

// Lookup is Get with provenance.
func (c *Cache) Lookup(ctx context.Context) Result {
	if entry, ok := c.load(ctx); ok && c.fresh(entry) {
		return Result{Records: entry.Conferences, Source: SourceCached, FetchedAt: entry.FetchedAt()}
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	// Another caller may have refreshed while we waited.
	entry, ok := c.load(ctx)
	if ok && c.fresh(entry) {
		return Result{Records: entry.Conferences, Source: SourceCached, FetchedAt: entry.FetchedAt()}
	}
	return c.fetchLocked(ctx, entry, ok)
}

// Refresh fetches regardless of the entry's age, with the same fallback as Get.
func (c *Cache) Refresh(ctx context.Context) Result {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	entry, ok := c.load(ctx)
	return c.fetchLocked(ctx, entry, ok)
}

// Entry returns the persisted slot without fetching.
func (c *Cache) Entry(ctx context.Context) (CacheEntry, bool) { return c.load(ctx) }

func (c *Cache) fresh(e CacheEntry) bool {
	return c.clock.Now().Sub(e.FetchedAt()) < c.ttl
}

func (c *Cache) fetchLocked(ctx context.Context, stale CacheEntry, haveStale bool) Result {
	recs, err := c.fetcher.Fetch(ctx)
	if err == nil {
		if recs == nil {
			recs = []Record{}
		}
		now := c.clock.Now()
		entry := CacheEntry{Conferences: recs, Timestamp: now.UnixMilli()}
		if werr := storage.SetJSON(ctx, c.kv, storage.KeyConferenceCache, entry); werr != nil {
			c.log.Warn("cache write failed", logx.Err(werr))
		}
		c.log.Info("conference data refreshed", logx.Int("records", len(recs)))
		c.bus.Publish(eventbus.Event{Type: eventbus.CacheRefreshed, Data: len(recs)})
		return Result{Records: recs, Source: SourceFresh, FetchedAt: entry.FetchedAt()}
	}

	if haveStale {
		c.log.Warn("fetch failed; serving stale data",
			logx.Err(err), logx.Time("fetched_at", stale.FetchedAt()), logx.Int("records", len(stale.Conferences)))
		c.bus.Publish(eventbus.Event{Type: eventbus.CacheStale, Data: err.Error()})
		return Result{Records: stale.Conferences, Source: SourceStale, FetchedAt: stale.FetchedAt(), Err: err}
	}
	c.log.Warn("fetch failed; no cached data", logx.Err(err))
	c.bus.Publish(eventbus.Event{Type: eventbus.CacheEmpty, Data: err.Error()})
	return Result{Records: []Record{}, Source: SourceEmpty, Err: err}
}

func (c *Cache) load(ctx context.Context) (CacheEntry, bool) {
	var e CacheEntry
	ok, err := storage.GetJSON(ctx, c.kv, storage.KeyConferenceCache, &e)
	if err != nil {
		c.log.Warn("cache entry unreadable; treating as absent", logx.Err(err))
		return CacheEntry{}, false
	}
	if !ok {
		return CacheEntry{}, false
	}
	if e.Conferences == nil {
		e.Conferences = []Record{}
	}
	return e, true
}
