// Package store defines the persistence contract for collected items.
//
// Every backend upserts by id with last-write-wins semantics and accepts items
// in any order: a comment may be stored before its parent story, and
// references to ids never stored are valid. Backends are safe for concurrent
// use by multiple workers.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/typesarecool/myhn/pkg/item"
)

// ErrNotFound is returned by Get when no item is stored for an id.
var ErrNotFound = errors.New("item not stored")

// UpsertsTotal counts upserts by backend and result ("ok" or "error").
var UpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hn_store_upserts_total",
	Help: "Total item upserts by backend and result",
}, []string{"backend", "result"})

// Store persists items keyed by id.
type Store interface {
	// Upsert inserts it or replaces the item stored under it.ID.
	Upsert(ctx context.Context, it item.Item) error

	// Get returns the item stored under id, or ErrNotFound.
	Get(ctx context.Context, id int64) (item.Item, error)

	// QueryRange returns stored items with minID <= id <= maxID in ascending id order.
	QueryRange(ctx context.Context, minID, maxID int64) ([]item.Item, error)

	// LastID returns the highest stored id, or 0 when the store is empty.
	LastID(ctx context.Context) (int64, error)

	// Close releases the backend's resources.
	Close() error
}

// Flusher is implemented by backends that buffer items and write them as
// one collection at the end of a run.
type Flusher interface {
	Flush(ctx context.Context) error
}

// PersistError reports a storage operation the backend rejected.
type PersistError struct {
	ID  int64
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s item %d: %v", e.Op, e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// ObserveUpsert records the result of one upsert for backend.
func ObserveUpsert(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpsertsTotal.WithLabelValues(backend, result).Inc()
}
