// Package cache memoizes fetched items for the lifetime of one collection run.
//
// A Cache guarantees that an id is fetched from the source at most once per
// run: concurrent requests for the same uncached id are coalesced into a
// single call, and every waiter receives that call's item or error.
//
// # Basic Usage
//
//	c := cache.New()
//	it, err := c.Fetch(ctx, id, func(ctx context.Context) (item.Item, error) {
//		body, err := client.FetchItem(ctx, id)
//		if err != nil {
//			return item.Item{}, err
//		}
//		return item.Decode(body)
//	})
//
// Errors are handed to the coalesced waiters but never stored, so a later
// retry of the same id reaches the source again.
//
// There is no eviction. A Cache is owned by one run and dropped with it; a
// long-lived process must create a new Cache per run.
//
// # Metrics
//
//   - hn_cache_hits_total - lookups answered from memory
//   - hn_cache_misses_total - lookups that called the source
//   - hn_cache_coalesced_total - callers that shared another caller's fetch
//   - hn_cache_items - items held by the current run's cache
package cache
