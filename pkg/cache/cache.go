package cache

import (
	"context"
	"strconv"
	"sync"

	"github.com/typesarecool/myhn/pkg/item"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads one item from the source.
type FetchFunc func(ctx context.Context) (item.Item, error)

// Cache is a run-scoped, in-memory item memo keyed by id.
type Cache struct {
	mu    sync.RWMutex
	items map[int64]item.Item
	group singleflight.Group
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		items: make(map[int64]item.Item),
	}
}

// Get returns the memoized item for id.
func (c *Cache) Get(id int64) (item.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	return it, ok
}

// Put stores an item, replacing any previous value for its id.
func (c *Cache) Put(id int64, it item.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[id]; !exists {
		CacheItems.Inc()
	}
	c.items[id] = it
}

// Len returns the number of memoized items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Fetch returns the memoized item for id, calling fn on a miss.
//
// At most one fn call per id is in flight: concurrent callers for the same id
// wait for it and share its result. fn runs with the context of the caller
// that started it. Successful results are memoized; errors are not.
func (c *Cache) Fetch(ctx context.Context, id int64, fn FetchFunc) (item.Item, error) {
	if it, ok := c.Get(id); ok {
		CacheHits.Inc()
		return it, nil
	}

	v, err, shared := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		// Another caller may have finished between Get and Do.
		if it, ok := c.Get(id); ok {
			CacheHits.Inc()
			return it, nil
		}

		CacheMisses.Inc()
		it, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(id, it)
		return it, nil
	})
	if shared {
		CacheCoalesced.Inc()
	}
	if err != nil {
		return item.Item{}, err
	}

	return v.(item.Item), nil
}

// Reset drops every memoized item. The collector calls it when a run ends.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	CacheItems.Sub(float64(len(c.items)))
	c.items = make(map[int64]item.Item)
}
