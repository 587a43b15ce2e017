// Package cache provides a layered TTL cache over the multiplexer. Each tier
// has its own TTL tuned to the volatility of its data: pane content expires
// fast, session lists slowly. Expired entries are evicted, never served
// stale.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Tier names a cache layer.
type Tier string

const (
	// TierSessions caches the session/window list (slow-moving).
	TierSessions Tier = "sessions"
	// TierPanes caches captured pane content (volatile).
	TierPanes Tier = "panes"
	// TierStatus caches derived per-agent status (in between).
	TierStatus Tier = "status"
)

// Options sizes the cache tiers.
type Options struct {
	SessionsTTL   time.Duration
	PanesTTL      time.Duration
	StatusTTL     time.Duration
	PanesCapacity int
}

type entry struct {
	value      any
	computedAt time.Time
	ttl        time.Duration
}

type tierStore struct {
	ttl     time.Duration
	entries *lru.Cache[string, entry]
}

// Cache is the layered cache. Internal locking is entry-table-only; compute
// functions run outside any cache lock so concurrent misses for different
// keys proceed in parallel. Misses for the same key are coalesced through
// singleflight so one capture serves all concurrent checkers of a pane.
type Cache struct {
	tiers  map[Tier]*tierStore
	flight singleflight.Group
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// sessionStatusCapacity bounds the non-pane tiers. Fleet sizes are small;
// this exists so a misbehaving key space cannot grow without bound.
const sessionStatusCapacity = 1024

// New creates a cache with the given per-tier TTLs.
func New(opts Options) (*Cache, error) {
	if opts.PanesCapacity <= 0 {
		opts.PanesCapacity = 256
	}

	tiers := make(map[Tier]*tierStore, 3)
	for _, tc := range []struct {
		tier Tier
		ttl  time.Duration
		cap  int
	}{
		{TierSessions, opts.SessionsTTL, sessionStatusCapacity},
		{TierPanes, opts.PanesTTL, opts.PanesCapacity},
		{TierStatus, opts.StatusTTL, sessionStatusCapacity},
	} {
		if tc.ttl <= 0 {
			return nil, fmt.Errorf("cache tier %s: ttl must be positive", tc.tier)
		}
		entries, err := lru.New[string, entry](tc.cap)
		if err != nil {
			return nil, fmt.Errorf("cache tier %s: %w", tc.tier, err)
		}
		tiers[tc.tier] = &tierStore{ttl: tc.ttl, entries: entries}
	}

	return &Cache{tiers: tiers, now: time.Now}, nil
}

// GetOrCompute returns the live cached value for (tier, key), or invokes
// compute and installs the result. compute errors are returned to the caller
// and never cached.
func (c *Cache) GetOrCompute(ctx context.Context, tier Tier, key string, compute func(context.Context) (any, error)) (any, error) {
	ts, ok := c.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("unknown cache tier %q", tier)
	}

	if v, ok := c.lookup(ts, key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(string(tier)+"\x00"+key, func() (any, error) {
		// Double-check inside the flight: a concurrent caller may have
		// installed the entry while we waited our turn.
		if v, ok := c.lookup(ts, key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		ts.entries.Add(key, entry{value: v, computedAt: c.now(), ttl: ts.ttl})
		return v, nil
	})
	return v, err
}

// lookup returns a live entry, evicting it if expired.
func (c *Cache) lookup(ts *tierStore, key string) (any, bool) {
	e, ok := ts.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.computedAt) > e.ttl {
		ts.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Invalidate drops one key from a tier. Called after a remediation action
// changes the underlying pane content.
func (c *Cache) Invalidate(tier Tier, key string) {
	if ts, ok := c.tiers[tier]; ok {
		ts.entries.Remove(key)
	}
}

// InvalidateTier drops every entry in a tier.
func (c *Cache) InvalidateTier(tier Tier) {
	if ts, ok := c.tiers[tier]; ok {
		ts.entries.Purge()
	}
}

// Stats reports hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// GetOrCompute is the typed wrapper around Cache.GetOrCompute.
func GetOrCompute[T any](ctx context.Context, c *Cache, tier Tier, key string, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.GetOrCompute(ctx, tier, key, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache tier %s key %s: unexpected value type %T", tier, key, v)
	}
	return typed, nil
}
