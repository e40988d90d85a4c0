// Package snapshot keeps items in memory and serializes them as one JSON
// array ordered by id. It backs the flat-collection stores.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/store"
)

// Collection is an in-memory item set keyed by id.
type Collection struct {
	backend string

	mu    sync.RWMutex
	items map[int64]item.Item
	dirty bool
}

// New creates an empty collection. backend labels its upsert metrics.
func New(backend string) *Collection {
	return &Collection{
		backend: backend,
		items:   make(map[int64]item.Item),
	}
}

// Decode loads a serialized collection. Each element is validated like a
// fetched record, so snapshots written by older versions still load.
func Decode(backend string, data []byte) (*Collection, error) {
	c := New(backend)
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for i, raw := range raws {
		it, err := item.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot element %d: %w", i, err)
		}
		c.items[it.ID] = it
	}
	return c, nil
}

// Encode serializes the collection as a JSON array in ascending id order.
func (c *Collection) Encode() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]item.Item, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, it)
	}
	sortByID(items)

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Upsert stores it, replacing any item with the same id.
func (c *Collection) Upsert(_ context.Context, it item.Item) error {
	c.mu.Lock()
	c.items[it.ID] = it
	c.dirty = true
	c.mu.Unlock()

	store.ObserveUpsert(c.backend, nil)
	return nil
}

// Get returns the item stored under id.
func (c *Collection) Get(_ context.Context, id int64) (item.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[id]
	if !ok {
		return item.Item{}, store.ErrNotFound
	}
	return it, nil
}

// QueryRange returns items with minID <= id <= maxID in ascending id order.
func (c *Collection) QueryRange(_ context.Context, minID, maxID int64) ([]item.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var items []item.Item
	for id, it := range c.items {
		if id >= minID && id <= maxID {
			items = append(items, it)
		}
	}
	sortByID(items)
	return items, nil
}

// LastID returns the highest stored id, or 0.
func (c *Collection) LastID(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var last int64
	for id := range c.items {
		if id > last {
			last = id
		}
	}
	return last, nil
}

// Len returns the number of stored items.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Dirty reports whether items changed since the last MarkClean.
func (c *Collection) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// MarkClean records that the current contents were written out.
func (c *Collection) MarkClean() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

func sortByID(items []item.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
