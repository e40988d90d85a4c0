// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/store"
)

// Factory opens an empty store for one subtest. The suite closes it.
type Factory func(t *testing.T) store.Store

func ptr[T any](v T) *T { return &v }

// Story returns a populated story item.
func Story(id int64, kids ...int64) item.Item {
	return item.Item{
		ID:              id,
		Kind:            item.KindStory,
		Author:          ptr("pg"),
		CreatedAt:       ptr(int64(1160418111)),
		Title:           ptr("Y Combinator"),
		URL:             ptr("http://ycombinator.com"),
		Score:           ptr(int64(57)),
		DescendantCount: ptr(int64(len(kids))),
		Children:        kids,
	}
}

// Comment returns a comment item under parent.
func Comment(id, parent int64) item.Item {
	return item.Item{
		ID:        id,
		Kind:      item.KindComment,
		Author:    ptr("norvig"),
		CreatedAt: ptr(int64(1160418628)),
		Text:      ptr("Aw shucks, guys ... you make me blush with your compliments."),
		Parent:    ptr(parent),
	}
}

// Run executes the shared backend behaviour against stores from open.
func Run(t *testing.T, open Factory) {
	t.Run("UpsertThenGet", func(t *testing.T) { testUpsertThenGet(t, open) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open) })
	t.Run("UpsertIdempotent", func(t *testing.T) { testUpsertIdempotent(t, open) })
	t.Run("LastWriteWins", func(t *testing.T) { testLastWriteWins(t, open) })
	t.Run("ReverseDependencyOrder", func(t *testing.T) { testReverseOrder(t, open) })
	t.Run("Tombstone", func(t *testing.T) { testTombstone(t, open) })
	t.Run("QueryRange", func(t *testing.T) { testQueryRange(t, open) })
	t.Run("LastID", func(t *testing.T) { testLastID(t, open) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, open) })
}

func newStore(t *testing.T, open Factory) (store.Store, context.Context) {
	t.Helper()
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return s, ctx
}

func testUpsertThenGet(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	want := Story(8863, 8952, 9224)
	require.NoError(t, s.Upsert(ctx, want))

	got, err := s.Get(ctx, 8863)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func testGetMissing(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	_, err := s.Get(ctx, 123456)
	require.True(t, errors.Is(err, store.ErrNotFound), "Get() error = %v, want ErrNotFound", err)
}

func testUpsertIdempotent(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	it := Comment(2921983, 2921506)
	require.NoError(t, s.Upsert(ctx, it))
	once, err := s.QueryRange(ctx, 0, 1<<62)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, it))
	twice, err := s.QueryRange(ctx, 0, 1<<62)
	require.NoError(t, err)

	require.Equal(t, once, twice)
	require.Len(t, twice, 1)
}

func testLastWriteWins(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	first := Story(100, 101)
	second := Story(100, 101, 102)
	second.Score = ptr(int64(99))
	second.Title = nil

	require.NoError(t, s.Upsert(ctx, first))
	require.NoError(t, s.Upsert(ctx, second))

	got, err := s.Get(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func testReverseOrder(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	// Deepest reply first, root story last, plus a reply whose parent never arrives.
	items := []item.Item{
		Comment(4, 2),
		Comment(3, 1),
		Comment(2, 1),
		Story(1, 2, 3),
		Comment(50, 49),
	}
	for _, it := range items {
		require.NoError(t, s.Upsert(ctx, it), "Upsert(%d)", it.ID)
	}

	got, err := s.QueryRange(ctx, 1, 50)
	require.NoError(t, err)
	require.Len(t, got, len(items))
}

func testTombstone(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	require.NoError(t, s.Upsert(ctx, item.Tombstone(998)))

	got, err := s.Get(ctx, 998)
	require.NoError(t, err)
	require.True(t, got.IsTombstone(), "Get() = %+v, want tombstone", got)
	require.Equal(t, int64(998), got.ID)
}

func testQueryRange(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	for _, id := range []int64{30, 10, 50, 20, 40} {
		require.NoError(t, s.Upsert(ctx, Story(id)))
	}

	got, err := s.QueryRange(ctx, 20, 40)
	require.NoError(t, err)

	ids := make([]int64, 0, len(got))
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	require.Equal(t, []int64{20, 30, 40}, ids)

	empty, err := s.QueryRange(ctx, 41, 49)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testLastID(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	last, err := s.LastID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), last)

	for _, id := range []int64{7, 1000, 12} {
		require.NoError(t, s.Upsert(ctx, Story(id)))
	}

	last, err = s.LastID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), last)
}

func testConcurrentUpserts(t *testing.T, open Factory) {
	s, ctx := newStore(t, open)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Every worker also rewrites id 1 to exercise conflicting writes.
				if err := s.Upsert(ctx, Comment(1, 0)); err != nil {
					errs <- err
				}
				if err := s.Upsert(ctx, Comment(int64(1000+w*perWorker+i), 1)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.QueryRange(ctx, 1, 1<<62)
	require.NoError(t, err)
	require.Len(t, got, workers*perWorker+1)
}
