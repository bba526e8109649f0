package replicator

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newStore(t *testing.T) store.IDocStore {
	s := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putDocs(t *testing.T, s store.IDocStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.Put(context.Background(), id, store.Properties{"id": id, "author": "Alice"}, "")
		require.NoError(t, err)
	}
}

func testConfig(direction Direction) Config {
	cfg := DefaultConfig(direction)
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func run(t *testing.T, local store.IDocStore, remote IPeer, locks lockmgr.ILockManager, cfg Config) Result {
	t.Helper()
	r, err := New(local, remote, locks, cfg)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := r.Wait(ctx)
	require.NoError(t, err)
	return res
}

// assertSameDocs checks that both stores hold the same winning revisions
func assertSameDocs(t *testing.T, a, b store.IDocStore) {
	t.Helper()
	ctx := context.Background()
	docsA, err := a.AllDocs(ctx)
	require.NoError(t, err)
	docsB, err := b.AllDocs(ctx)
	require.NoError(t, err)
	assert.Equal(t, docsA, docsB)
}

// faultyPeer wraps a peer and injects transport failures into PutRevisions
type faultyPeer struct {
	IPeer
	okPuts    atomic.Int32 // number of puts that succeed before failures start (-1 = unlimited)
	failPuts  atomic.Int32 // number of failing puts after that
	putCalls  atomic.Int32
	failedRun atomic.Int32
}

func newFaultyPeer(inner IPeer, okPuts, failPuts int32) *faultyPeer {
	p := &faultyPeer{IPeer: inner}
	p.okPuts.Store(okPuts)
	p.failPuts.Store(failPuts)
	return p
}

func (p *faultyPeer) PutRevisions(ctx context.Context, revs []store.Revision) (int, error) {
	p.putCalls.Add(1)
	if p.okPuts.Load() != 0 {
		p.okPuts.Add(-1)
		return p.IPeer.PutRevisions(ctx, revs)
	}
	if p.failPuts.Load() != 0 {
		p.failPuts.Add(-1)
		p.failedRun.Add(1)
		return 0, errors.New("connection reset by peer")
	}
	return p.IPeer.PutRevisions(ctx, revs)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPushToEmptyRemote(t *testing.T) {
	local, remote := newStore(t), newStore(t)
	putDocs(t, local, "b1", "b2", "b3", "b4", "b5")

	var progress []Progress
	var mu sync.Mutex
	r, err := New(local, NewLocalPeer(remote), nil, testConfig(Push))
	require.NoError(t, err)
	r.OnProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, p)
	})
	stopped := make(chan Result, 1)
	r.OnStopped(func(res Result) { stopped <- res })

	require.NoError(t, r.Start(context.Background()))
	res := <-stopped

	assert.True(t, res.Success)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, uint64(5), res.Sequence)
	assert.Equal(t, 5, res.DocsTransferred)
	assertSameDocs(t, local, remote)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	assert.Equal(t, Connecting, progress[0].State)
	last := progress[len(progress)-1]
	assert.Equal(t, uint64(5), last.Sequence)
	assert.Equal(t, 5, last.DocsTransferred)

	// handlers registered after the end are called right away
	called := false
	r.OnStopped(func(Result) { called = true })
	assert.True(t, called)
}

func TestPullTwiceAppliesNothingTheSecondTime(t *testing.T) {
	local, remote := newStore(t), newStore(t)
	putDocs(t, remote, "b1", "b2", "b3")
	locks := lockmgr.NewLockManager(maple.NewMapleDB(nil))

	first := run(t, local, NewLocalPeer(remote), locks, testConfig(Pull))
	require.True(t, first.Success)
	assert.Equal(t, 3, first.DocsTransferred)
	seqAfterFirst := local.LastSeq()

	second := run(t, local, NewLocalPeer(remote), locks, testConfig(Pull))
	require.True(t, second.Success)
	assert.Equal(t, 0, second.DocsTransferred)
	assert.Equal(t, seqAfterFirst, local.LastSeq(), "second pull must not write")

	// a new checkpoint (different filter) re-reads the whole feed but detects the duplicates
	cfg := testConfig(Pull)
	cfg.Filter = "b*"
	third := run(t, local, NewLocalPeer(remote), locks, cfg)
	require.True(t, third.Success)
	assert.Equal(t, 0, third.DocsTransferred)
	assert.Equal(t, seqAfterFirst, local.LastSeq())
	assertSameDocs(t, local, remote)
}

func TestResumeAfterInterruptedPush(t *testing.T) {
	local, remote := newStore(t), newStore(t)
	putDocs(t, local, "d1", "d2", "d3", "d4", "d5")
	locks := lockmgr.NewLockManager(maple.NewMapleDB(nil))

	cfg := testConfig(Push)
	cfg.BatchSize = 3
	cfg.MaxRetries = -1

	// the connection dies after the first batch was applied and checkpointed
	broken := newFaultyPeer(NewLocalPeer(remote), 1, -1)
	res := run(t, local, broken, locks, cfg)
	require.False(t, res.Success)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, uint64(3), res.Sequence)
	assert.Equal(t, 3, res.DocsTransferred)

	docs, err := remote.AllDocs(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	// resume transfers only sequences 4 and 5
	healthy := newFaultyPeer(NewLocalPeer(remote), -1, 0)
	res = run(t, local, healthy, locks, cfg)
	require.True(t, res.Success)
	assert.Equal(t, uint64(5), res.Sequence)
	assert.Equal(t, 2, res.DocsTransferred)
	assert.Equal(t, int32(1), healthy.putCalls.Load())
	assertSameDocs(t, local, remote)
}

func TestTransportErrorsAreRetried(t *testing.T) {
	local, remote := newStore(t), newStore(t)
	putDocs(t, local, "b1", "b2")

	cfg := testConfig(Push)
	cfg.MaxRetries = 3
	peer := newFaultyPeer(NewLocalPeer(remote), 0, 2)

	res := run(t, local, peer, nil, cfg)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int32(2), peer.failedRun.Load())
	assert.Equal(t, 2, res.DocsTransferred)
	assertSameDocs(t, local, remote)
}

func TestRetriesExhausted(t *testing.T) {
	local, remote := newStore(t), newStore(t)
	putDocs(t, local, "b1")

	cfg := testConfig(Push)
	cfg.MaxRetries = 2
	peer := newFaultyPeer(NewLocalPeer(remote), 0, -1)

	res := run(t, local, peer, nil, cfg)
	assert.False(t, res.Success)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, int32(3), peer.putCalls.Load())
	assert.Contains(t, res.Error, "connection reset")
	assert.Equal(t, uint64(0), res.Sequence)
}

func TestConflictingEditsBecomeBranches(t *testing.T) {
	ctx := context.Background()
	local, remote := newStore(t), newStore(t)

	rev1, err := local.Put(ctx, "b1", store.Properties{"title": "X"}, "")
	require.NoError(t, err)
	require.True(t, run(t, local, NewLocalPeer(remote), nil, testConfig(Push)).Success)

	_, err = local.Put(ctx, "b1", store.Properties{"title": "local edit"}, rev1)
	require.NoError(t, err)
	_, err = remote.Put(ctx, "b1", store.Properties{"title": "remote edit"}, rev1)
	require.NoError(t, err)

	res := run(t, local, NewLocalPeer(remote), nil, testConfig(Push))
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Conflicts)

	doc, err := remote.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, doc.Conflicts, 1)

	// pulling back gives both peers the same tree and the same winner
	require.True(t, run(t, local, NewLocalPeer(remote), nil, testConfig(Pull)).Success)
	assertSameDocs(t, local, remote)
}

func TestDeletesReplicate(t *testing.T) {
	ctx := context.Background()
	local, remote := newStore(t), newStore(t)
	putDocs(t, local, "b1", "b2")
	require.True(t, run(t, local, NewLocalPeer(remote), nil, testConfig(Push)).Success)

	doc, err := local.Get(ctx, "b1")
	require.NoError(t, err)
	_, err = local.Delete(ctx, "b1", doc.Rev)
	require.NoError(t, err)

	require.True(t, run(t, local, NewLocalPeer(remote), nil, testConfig(Push)).Success)

	_, err = remote.Get(ctx, "b1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assertSameDocs(t, local, remote)
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	local, remote := newStore(t), newStore(t)
	putDocs(t, local, "books/1", "books/2", "notes/1")

	cfg := testConfig(Push)
	cfg.Filter = "books/*"
	res := run(t, local, NewLocalPeer(remote), nil, cfg)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.DocsTransferred)

	_, err := remote.Get(ctx, "notes/1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = New(local, NewLocalPeer(remote), nil, Config{Direction: Push, Filter: "books/["})
	assert.Error(t, err)
}

func TestContinuousPullAndStop(t *testing.T) {
	ctx := context.Background()
	local, remote := newStore(t), newStore(t)
	putDocs(t, remote, "b1")

	cfg := testConfig(Pull)
	cfg.Continuous = true
	r, err := New(local, NewLocalPeer(remote), nil, cfg)
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))

	require.Eventually(t, func() bool {
		_, err := local.Get(ctx, "b1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	putDocs(t, remote, "b2")
	require.Eventually(t, func() bool {
		_, err := local.Get(ctx, "b2")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return r.Status() == Completed }, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()

	res, ok := r.Result()
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Equal(t, Stopped, res.State)
	assert.True(t, errors.Is(res.Err, ErrStopped))
	assert.Equal(t, uint64(2), res.Sequence)

	state := r.State().(ReplicatorState)
	assert.Equal(t, Stopped, state.State)
	assert.NotEmpty(t, state.Checkpoint)
}

func TestSameCheckpointRunsExclusively(t *testing.T) {
	ctx := context.Background()
	local, remote := newStore(t), newStore(t)
	locks := lockmgr.NewLockManager(maple.NewMapleDB(nil))

	cfg := testConfig(Pull)
	cfg.Continuous = true
	first, err := New(local, NewLocalPeer(remote), locks, cfg)
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	defer first.Stop()
	require.Eventually(t, func() bool { return first.Status() == Completed }, 5*time.Second, 10*time.Millisecond)

	res := run(t, local, NewLocalPeer(remote), locks, cfg)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrAlreadyRunning))

	// the other direction has its own checkpoint
	other := testConfig(Push)
	assert.True(t, run(t, local, NewLocalPeer(remote), locks, other).Success)
}

func TestStopBeforeStart(t *testing.T) {
	local, remote := newStore(t), newStore(t)
	r, err := New(local, NewLocalPeer(remote), nil, testConfig(Push))
	require.NoError(t, err)

	r.Stop()
	res, ok := r.Result()
	require.True(t, ok)
	assert.Equal(t, Stopped, res.State)
	assert.Error(t, r.Start(context.Background()))
}

func TestBackoffIsCapped(t *testing.T) {
	r := &Replicator{cfg: Config{RetryBackoff: 200 * time.Millisecond}}
	assert.Equal(t, 200*time.Millisecond, r.backoff(0))
	assert.Equal(t, 400*time.Millisecond, r.backoff(1))
	assert.Equal(t, 1600*time.Millisecond, r.backoff(3))
	assert.Equal(t, maxRetryBackoff, r.backoff(10))
}

func TestCheckpointID(t *testing.T) {
	a := CheckpointID("local", "remote", Push, "")
	assert.Equal(t, a, CheckpointID("local", "remote", Push, ""))
	assert.NotEqual(t, a, CheckpointID("local", "remote", Pull, ""))
	assert.NotEqual(t, a, CheckpointID("local", "remote", Push, "b*"))
	assert.Contains(t, a, checkpointPrefix)
	assert.Equal(t, "push", fmt.Sprint(Push))
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		want    int
	}{
		{"unset uses default", 0, DefaultConfig(Pull).MaxRetries},
		{"negative disables retries", -1, 0},
		{"explicit", 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Direction: Pull, MaxRetries: tt.retries}.withDefaults()
			assert.Equal(t, tt.want, cfg.MaxRetries)
			assert.Equal(t, DefaultConfig(Pull).BatchSize, cfg.BatchSize)
		})
	}
}
