package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups answered from memory
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hn_cache_hits_total",
			Help: "Total number of item cache hits",
		},
	)

	// CacheMisses tracks lookups that went to the source
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hn_cache_misses_total",
			Help: "Total number of item cache misses",
		},
	)

	// CacheCoalesced tracks callers that waited on another caller's fetch
	CacheCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hn_cache_coalesced_total",
			Help: "Total number of item fetches shared between concurrent callers",
		},
	)

	// CacheItems tracks the number of memoized items
	CacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hn_cache_items",
			Help: "Number of items held by the run cache",
		},
	)
)
