package httpadapter

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// CachedSource wraps a DataSource with an in-memory LRU cache. Entries expire
// after ttl so a live table replaced by an update run shows up within ttl.
// It implements DataSource.
type CachedSource struct {
	inner DataSource
	cache *lruCache
}

// NewCachedSource creates a cache decorator around a data source.
func NewCachedSource(inner DataSource, maxEntries int, ttl time.Duration, clock clockwork.Clock) *CachedSource {
	return &CachedSource{
		inner: inner,
		cache: newLRUCache(maxEntries, ttl, clock),
	}
}

func (c *CachedSource) Utilities(ctx context.Context) ([]string, error) {
	return cached(c.cache, "utilities", func() ([]string, error) {
		return c.inner.Utilities(ctx)
	})
}

func (c *CachedSource) Samples(ctx context.Context, utility string, start, end time.Time) ([]domain.Sample, error) {
	return cached(c.cache, queryKey("samples", utility, start, end), func() ([]domain.Sample, error) {
		return c.inner.Samples(ctx, utility, start, end)
	})
}

func (c *CachedSource) Cases(ctx context.Context, utility string, start, end time.Time) ([]domain.CaseCount, error) {
	return cached(c.cache, queryKey("cases", utility, start, end), func() ([]domain.CaseCount, error) {
		return c.inner.Cases(ctx, utility, start, end)
	})
}

func queryKey(kind, utility string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s|%s|%s", kind, utility, domain.ISODate(start), domain.ISODate(end))
}

// cached returns the entry for key, loading and storing it on a miss.
// Errors, including no-data, are not cached so the next request retries.
func cached[T any](c *lruCache, key string, load func() (T, error)) (T, error) {
	if v, ok := c.get(key); ok {
		return v.(T), nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.put(key, v)
	return v, nil
}

// lruCache is a thread-safe LRU cache with per-entry expiry.
type lruCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type entry struct {
	key     string
	value   any
	expires time.Time
}

func newLRUCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.clock.Now().Before(e.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *lruCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock.Now().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, value: value, expires: expires})
	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}
