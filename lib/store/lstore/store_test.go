package lstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func newStore(t *testing.T) store.IDocStore {
	s := NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "b1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	rev1, err := s.Put(ctx, "b1", store.Properties{"author": "Alice", "title": "X"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Generation(rev1))

	doc, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, rev1, doc.Rev)
	assert.Equal(t, "Alice", doc.Properties["author"])

	// creating again without a revision conflicts
	_, err = s.Put(ctx, "b1", store.Properties{"author": "Bob"}, "")
	assert.True(t, errors.Is(err, store.ErrConflict))

	rev2, err := s.Put(ctx, "b1", store.Properties{"author": "Alice", "title": "X2"}, rev1)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Generation(rev2))

	// stale revision conflicts
	_, err = s.Put(ctx, "b1", store.Properties{}, rev1)
	assert.True(t, errors.Is(err, store.ErrConflict))

	_, err = s.Delete(ctx, "b1", rev1)
	assert.True(t, errors.Is(err, store.ErrConflict))

	rev3, err := s.Delete(ctx, "b1", rev2)
	require.NoError(t, err)

	_, err = s.Get(ctx, "b1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// the tombstone stays readable for replication
	tomb, err := s.GetRevision(ctx, "b1", rev3)
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, []string{rev2, rev1}, tomb.History)

	_, err = s.Delete(ctx, "b1", rev3)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// recreate on top of the tombstone
	rev4, err := s.Put(ctx, "b1", store.Properties{"author": "Carol"}, "")
	require.NoError(t, err)
	assert.Equal(t, 4, store.Generation(rev4))

	_, err = s.Put(ctx, "", store.Properties{}, "")
	assert.True(t, errors.Is(err, store.ErrInvalidOperation))
}

func TestChangesSince(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 1; i <= 5; i++ {
		_, err := s.Put(ctx, fmt.Sprintf("doc-%d", i), store.Properties{"n": i}, "")
		require.NoError(t, err)
	}
	doc, err := s.Get(ctx, "doc-2")
	require.NoError(t, err)
	_, err = s.Delete(ctx, "doc-2", doc.Rev)
	require.NoError(t, err)

	assert.Equal(t, uint64(6), s.LastSeq())

	all, err := s.ChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i, c := range all {
		assert.Equal(t, uint64(i+1), c.Seq)
	}
	assert.True(t, all[5].Deleted)
	assert.Equal(t, "doc-2", all[5].ID)

	page, err := s.ChangesSince(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Seq)
	assert.Equal(t, uint64(4), page[1].Seq)

	empty, err := s.ChangesSince(ctx, 6, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConcurrentWritesKeepFeedDense(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Put(ctx, fmt.Sprintf("w%d-%d", w, i), store.Properties{"w": w}, "")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	changes, err := s.ChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, writers*perWriter)
	seen := make(map[string]bool)
	for i, c := range changes {
		assert.Equal(t, uint64(i+1), c.Seq)
		assert.False(t, seen[c.ID], "document %s appears twice", c.ID)
		seen[c.ID] = true
	}

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), info.DocCount)
}

func TestPutRevision(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rev := store.Revision{
		DocID:      "b1",
		RevID:      "3-foreign",
		Properties: store.Properties{"author": "Alice"},
		History:    []string{"2-foreign", "1-foreign"},
	}

	conflict, err := s.PutRevision(ctx, rev)
	require.NoError(t, err)
	assert.False(t, conflict)

	doc, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "3-foreign", doc.Rev)

	// re-applying is a no-op without a change entry
	before := s.LastSeq()
	conflict, err = s.PutRevision(ctx, rev)
	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, before, s.LastSeq())

	// ancestors are known but have no body
	_, err = s.GetRevision(ctx, "b1", "2-foreign")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	missing, err := s.RevsDiff(ctx, map[string][]string{
		"b1": {"3-foreign", "1-foreign", "4-other"},
		"b9": {"1-x"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"b1": {"4-other"}, "b9": {"1-x"}}, missing)

	_, err = s.PutRevision(ctx, store.Revision{DocID: "b1", RevID: "nope"})
	assert.True(t, errors.Is(err, store.ErrInvalidRevision))
}

func TestPutRevisionExtendsTruncatedHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conflict, err := s.PutRevision(ctx, store.Revision{
		DocID:      "b1",
		RevID:      "3-c",
		Properties: store.Properties{"title": "X"},
		History:    []string{"2-b"},
	})
	require.NoError(t, err)
	assert.False(t, conflict)

	// a later revision carries the full history down to the first generation
	conflict, err = s.PutRevision(ctx, store.Revision{
		DocID:      "b1",
		RevID:      "4-d",
		Properties: store.Properties{"title": "Y"},
		History:    []string{"3-c", "2-b", "1-a"},
	})
	require.NoError(t, err)
	assert.False(t, conflict)

	doc, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "4-d", doc.Rev)
	assert.Empty(t, doc.Conflicts)

	rev, err := s.GetRevision(ctx, "b1", "4-d")
	require.NoError(t, err)
	assert.Equal(t, []string{"3-c", "2-b", "1-a"}, rev.History)
}

func TestPutRevisionRecordsConflictBranch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rev1, err := s.Put(ctx, "b1", store.Properties{"title": "X"}, "")
	require.NoError(t, err)
	local, err := s.Put(ctx, "b1", store.Properties{"title": "local"}, rev1)
	require.NoError(t, err)

	conflict, err := s.PutRevision(ctx, store.Revision{
		DocID:      "b1",
		RevID:      "2-ffffffffffffffff",
		Properties: store.Properties{"title": "remote"},
		History:    []string{rev1},
	})
	require.NoError(t, err)
	assert.True(t, conflict)

	doc, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "2-ffffffffffffffff", doc.Rev)
	assert.Equal(t, []string{local}, doc.Conflicts)

	// both branches are kept
	_, err = s.GetRevision(ctx, "b1", local)
	require.NoError(t, err)
}

func TestSubscribeCoalesces(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	updates, cancel := s.Subscribe()

	for i := 0; i < 10; i++ {
		_, err := s.Put(ctx, fmt.Sprintf("d%d", i), store.Properties{}, "")
		require.NoError(t, err)
	}

	select {
	case seq := <-updates:
		assert.Equal(t, uint64(10), seq)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}

	cancel()
	cancel()
	_, ok := <-updates
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestLocalDocuments(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.GetLocal(ctx, "checkpoint")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutLocal(ctx, "checkpoint", []byte("42")))
	v, ok, err := s.GetLocal(ctx, "checkpoint")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", string(v))

	// local documents are not part of the feed
	assert.Equal(t, uint64(0), s.LastSeq())
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)

	rev, err := src.Put(ctx, "b1", store.Properties{"author": "Alice"}, "")
	require.NoError(t, err)
	_, err = src.Put(ctx, "b2", store.Properties{"author": "Bob"}, "")
	require.NoError(t, err)
	_, err = src.Delete(ctx, "b1", rev)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	dst := newStore(t)
	require.NoError(t, dst.Load(&buf))

	srcInfo, err := src.Info(ctx)
	require.NoError(t, err)
	dstInfo, err := dst.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, srcInfo.UUID, dstInfo.UUID)
	assert.Equal(t, uint64(3), dstInfo.LastSeq)
	assert.Equal(t, int64(1), dstInfo.DocCount)

	docs, err := dst.AllDocs(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b2", docs[0].ID)
}

func TestClosedStore(t *testing.T) {
	s := NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	updates, _ := s.Subscribe()
	require.NoError(t, s.Close())

	_, ok := <-updates
	assert.False(t, ok)

	_, err := s.Put(context.Background(), "x", store.Properties{}, "")
	assert.True(t, errors.Is(err, store.ErrInvalidOperation))
}
