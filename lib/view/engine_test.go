package view

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts *Options) (store.IDocStore, *Engine) {
	docs := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	e := NewEngine(docs, opts)
	t.Cleanup(func() {
		e.Close()
		_ = docs.Close()
	})
	return docs, e
}

func put(t *testing.T, docs store.IDocStore, id string, props store.Properties) string {
	t.Helper()
	rev := ""
	if doc, err := docs.Get(context.Background(), id); err == nil {
		rev = doc.Rev
	}
	newRev, err := docs.Put(context.Background(), id, props, rev)
	require.NoError(t, err)
	return newRev
}

func byAuthor() MapFunc {
	return FieldsMap([]string{"author", "title"}, "")
}

func TestQueryByAuthorPrefix(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)

	put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})
	put(t, docs, "b2", store.Properties{"author": "Alice", "title": "Y"})
	put(t, docs, "b3", store.Properties{"author": "Bob", "title": "Z"})
	put(t, docs, "b4", store.Properties{"title": "No author"})

	require.NoError(t, e.Register("by_author", byAuthor(), "1"))

	rows, err := e.Query(ctx, "by_author", QueryOptions{Prefix: []any{"Alice"}})
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Key: []any{"Alice", "X"}, DocID: "b1"},
		{Key: []any{"Alice", "Y"}, DocID: "b2"},
	}, rows)

	all, err := e.Query(ctx, "by_author", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "the document without author emits nothing")
}

func TestTombstoneRemovesRows(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)

	rev1 := put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})
	put(t, docs, "b2", store.Properties{"author": "Alice", "title": "Y"})
	require.NoError(t, e.Register("by_author", byAuthor(), "1"))
	require.NoError(t, e.Update(ctx, "by_author"))

	_, err := docs.Delete(ctx, "b1", rev1)
	require.NoError(t, err)

	rows, err := e.Query(ctx, "by_author", QueryOptions{Prefix: []any{"Alice"}})
	require.NoError(t, err)
	assert.Equal(t, []Row{{Key: []any{"Alice", "Y"}, DocID: "b2"}}, rows)
}

func TestUpdatedDocumentReplacesRows(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)

	put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})
	require.NoError(t, e.Register("by_author", byAuthor(), "1"))
	require.NoError(t, e.Update(ctx, "by_author"))

	put(t, docs, "b1", store.Properties{"author": "Bob", "title": "X"})

	rows, err := e.Query(ctx, "by_author", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{{Key: []any{"Bob", "X"}, DocID: "b1"}}, rows)
}

func TestQueryMatchesFromScratchBuild(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, &Options{BatchSize: 7, Workers: 3})
	require.NoError(t, e.Register("by_author", byAuthor(), "1"))

	authors := []string{"Alice", "Bob", "Carol"}
	for round := 0; round < 5; round++ {
		for i := 0; i < 20; i++ {
			id := fmt.Sprintf("b%02d", i)
			if (i+round)%4 == 0 {
				if doc, err := docs.Get(ctx, id); err == nil {
					_, err := docs.Delete(ctx, id, doc.Rev)
					require.NoError(t, err)
					continue
				}
			}
			put(t, docs, id, store.Properties{"author": authors[(i+round)%3], "title": fmt.Sprintf("T%d", round)})
		}
		// interleave incremental passes with writes
		require.NoError(t, e.Update(ctx, "by_author"))
	}

	incremental, err := e.Query(ctx, "by_author", QueryOptions{})
	require.NoError(t, err)

	// direct evaluation over the latest documents
	all, err := docs.AllDocs(ctx)
	require.NoError(t, err)
	var expected []Row
	for _, doc := range all {
		c := &collector{}
		require.NoError(t, byAuthor()(doc, c))
		for _, em := range c.emits {
			expected = append(expected, Row{Key: em.key, DocID: doc.ID, Value: em.value})
		}
	}
	sort.Slice(expected, func(i, j int) bool {
		if c := Collate(expected[i].Key, expected[j].Key); c != 0 {
			return c < 0
		}
		return expected[i].DocID < expected[j].DocID
	})

	assert.Equal(t, expected, incremental)
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)
	put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})

	var calls atomic.Int32
	counting := func(doc store.Document, emit Emitter) error {
		calls.Add(1)
		return byAuthor()(doc, emit)
	}

	require.NoError(t, e.Register("by_author", counting, "1"))
	before, err := e.Query(ctx, "by_author", QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	// same version: no rebuild, the old map function stays
	require.NoError(t, e.Register("by_author", func(store.Document, Emitter) error {
		return errors.New("must not be called")
	}, "1"))
	after, err := e.Query(ctx, "by_author", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVersionChangeRebuilds(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)
	put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})
	put(t, docs, "b2", store.Properties{"author": "Bob", "title": "Y"})

	require.NoError(t, e.Register("books", byAuthor(), "1"))
	_, err := e.Query(ctx, "books", QueryOptions{})
	require.NoError(t, err)

	require.NoError(t, e.Register("books", FieldsMap([]string{"title"}, "author"), "2"))
	infos := e.Views()
	require.Len(t, infos, 1)
	assert.Equal(t, uint64(0), infos[0].Seq, "new version starts from sequence 0")

	rows, err := e.Query(ctx, "books", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Key: []any{"X"}, DocID: "b1", Value: "Alice"},
		{Key: []any{"Y"}, DocID: "b2", Value: "Bob"},
	}, rows)
}

func TestMapErrorsSkipDocument(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)
	put(t, docs, "good", store.Properties{"n": 1})
	put(t, docs, "bad", store.Properties{"n": 2})
	put(t, docs, "panic", store.Properties{"n": 3})

	require.NoError(t, e.Register("n", func(doc store.Document, emit Emitter) error {
		switch doc.ID {
		case "bad":
			emit.Emit("partial", nil)
			return errors.New("boom")
		case "panic":
			panic("boom")
		}
		emit.Emit(doc.Properties["n"], doc.ID)
		return nil
	}, "1"))

	rows, err := e.Query(ctx, "n", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Row{{Key: float64(1), DocID: "good", Value: "good"}}, rows)
}

func TestQueryRanges(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)
	for i := 1; i <= 5; i++ {
		put(t, docs, fmt.Sprintf("d%d", i), store.Properties{"n": i})
	}
	require.NoError(t, e.Register("n", func(doc store.Document, emit Emitter) error {
		emit.Emit(doc.Properties["n"], nil)
		return nil
	}, "1"))

	ids := func(rows []Row) []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.DocID
		}
		return out
	}

	tests := []struct {
		name string
		opts QueryOptions
		want []string
	}{
		{"all", QueryOptions{}, []string{"d1", "d2", "d3", "d4", "d5"}},
		{"start inclusive end exclusive", QueryOptions{StartKey: 2, EndKey: 4}, []string{"d2", "d3"}},
		{"inclusive end", QueryOptions{StartKey: 2, EndKey: 4, InclusiveEnd: true}, []string{"d2", "d3", "d4"}},
		{"exact key", QueryOptions{Key: 3}, []string{"d3"}},
		{"descending", QueryOptions{Descending: true}, []string{"d5", "d4", "d3", "d2", "d1"}},
		{"descending range", QueryOptions{Descending: true, StartKey: 4, EndKey: 2}, []string{"d4", "d3"}},
		{"skip and limit", QueryOptions{Skip: 1, Limit: 2}, []string{"d2", "d3"}},
		{"descending limit", QueryOptions{Descending: true, Limit: 2}, []string{"d5", "d4"}},
		{"skip past end", QueryOptions{Skip: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := e.Query(ctx, "n", tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestQueryUnknownView(t *testing.T) {
	_, e := newTestEngine(t, nil)
	_, err := e.Query(context.Background(), "missing", QueryOptions{})
	assert.True(t, errors.Is(err, store.ErrViewNotFound))

	assert.True(t, errors.Is(e.Update(context.Background(), "missing"), store.ErrViewNotFound))
}

func TestStaleQueryBeforeIndexing(t *testing.T) {
	docs, e := newTestEngine(t, nil)
	put(t, docs, "b1", store.Properties{"author": "Alice"})
	require.NoError(t, e.Register("by_author", byAuthor(), "1"))

	rows, err := e.Query(context.Background(), "by_author", QueryOptions{Stale: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBackgroundIndexer(t *testing.T) {
	ctx := context.Background()
	docs, e := newTestEngine(t, nil)
	require.NoError(t, e.Register("by_author", byAuthor(), "1"))
	e.Start(ctx)

	put(t, docs, "b1", store.Properties{"author": "Alice", "title": "X"})

	require.Eventually(t, func() bool {
		rows, err := e.Query(ctx, "by_author", QueryOptions{Stale: true})
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	state := e.State().(EngineState)
	assert.True(t, state.Running)
	assert.Equal(t, "view-engine", e.ComponentType())

	e.Close()
	assert.False(t, e.State().(EngineState).Running)
}

func TestUnregister(t *testing.T) {
	_, e := newTestEngine(t, nil)
	require.NoError(t, e.Register("a", byAuthor(), "1"))
	require.NoError(t, e.Register("b", byAuthor(), "1"))
	assert.Equal(t, []string{"a", "b"}, e.Names())

	assert.True(t, e.Unregister("a"))
	assert.False(t, e.Unregister("a"))
	assert.Equal(t, []string{"b"}, e.Names())

	assert.Error(t, e.Register("", byAuthor(), "1"))
	assert.Error(t, e.Register("x", nil, "1"))
}
