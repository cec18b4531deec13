package promptcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	redispkg "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/redis"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const entryKeyPrefix = "rf:prompt-cache:"

// entryStore is the slice of the Redis client the cache needs.
type entryStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cache stores completed responses in Redis, keyed by the canonical request
// hash, and collapses concurrent fills for the same key into one upstream
// call. Entry payloads expire with the TTL; the hit/miss counters live in
// MySQL and survive expiry.
type Cache struct {
	store  entryStore
	ttl    time.Duration
	stats  *StatsRecorder
	group  singleflight.Group
	logger *zap.Logger
}

func New(rdb *redispkg.Client, ttl time.Duration, stats *StatsRecorder, logger *zap.Logger) *Cache {
	return newWithStore(rdb, ttl, stats, logger)
}

func newWithStore(store entryStore, ttl time.Duration, stats *StatsRecorder, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		stats:  stats,
		logger: logger.Named("PromptCache"),
	}
}

type fetchOutcome struct {
	entry  *routing.CacheEntry
	filled bool
}

// Fetch returns the entry for key, invoking fill at most once across
// concurrent callers on a miss. The boolean reports whether the caller was
// served from the cache; the one caller whose fill ran gets false.
func (c *Cache) Fetch(ctx context.Context, key string, fill routing.FillFunc) (*routing.CacheEntry, bool, error) {
	if entry, ok := c.lookup(ctx, key); ok {
		c.recordHit(key, entry)
		return entry, true, nil
	}

	won := false
	ch := c.group.DoChan(key, func() (interface{}, error) {
		won = true
		// Another replica may have filled between our miss and this
		// flight starting.
		if entry, ok := c.lookup(ctx, key); ok {
			return fetchOutcome{entry: entry}, nil
		}
		entry, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, key, entry); err != nil {
			c.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		}
		c.recordMiss(key, entry)
		return fetchOutcome{entry: entry, filled: true}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			// Drop the flight so the next caller retries the fill.
			c.group.Forget(key)
			return nil, false, res.Err
		}
		out := res.Val.(fetchOutcome)
		if out.filled && won {
			return out.entry, false, nil
		}
		c.recordHit(key, out.entry)
		return out.entry, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Get returns the stored entry without consulting in-flight fills.
func (c *Cache) Get(ctx context.Context, key string) (*routing.CacheEntry, bool) {
	return c.lookup(ctx, key)
}

// Put stores an entry directly, bypassing the single-flight group.
func (c *Cache) Put(ctx context.Context, key string, entry *routing.CacheEntry) error {
	return c.put(ctx, key, entry)
}

// EntryExists reports whether the entry for key is still stored.
func (c *Cache) EntryExists(ctx context.Context, key string) (bool, error) {
	raw, err := c.store.Get(ctx, entryKeyPrefix+key)
	if err != nil {
		return false, err
	}
	return raw != "", nil
}

// SweepStaleStats drops counter rows for entries that have expired. Rows
// younger than the entry TTL cannot be stale and are skipped.
func (c *Cache) SweepStaleStats(ctx context.Context) (int64, error) {
	if c.stats == nil {
		return 0, nil
	}
	return c.stats.SweepStale(ctx, c.ttl, c.EntryExists)
}

// Delete removes an entry. Counters for the key are kept as history.
func (c *Cache) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("cache delete requires a key")
	}
	return c.store.Del(ctx, entryKeyPrefix+key)
}

func (c *Cache) lookup(ctx context.Context, key string) (*routing.CacheEntry, bool) {
	raw, err := c.store.Get(ctx, entryKeyPrefix+key)
	if err != nil {
		c.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if raw == "" {
		return nil, false
	}

	var entry routing.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		_ = c.store.Del(ctx, entryKeyPrefix+key)
		return nil, false
	}
	return &entry, true
}

func (c *Cache) put(ctx context.Context, key string, entry *routing.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache put requires an entry")
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serialize cache entry: %w", err)
	}
	return c.store.Set(ctx, entryKeyPrefix+key, string(b), c.ttl)
}

func (c *Cache) recordHit(key string, entry *routing.CacheEntry) {
	if c.stats == nil {
		return
	}
	go c.stats.RecordHit(key, entry)
}

func (c *Cache) recordMiss(key string, entry *routing.CacheEntry) {
	if c.stats == nil {
		return
	}
	go c.stats.RecordMiss(key, entry)
}
