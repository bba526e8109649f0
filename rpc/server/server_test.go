package server

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startServer starts a server on a random local port and returns its endpoint
func startServer(t *testing.T, config common.ServerConfig) (*RPCServer, string) {
	if len(config.Databases) == 0 {
		config.Databases = []string{"books"}
	}
	config.LogLevel = "info"

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewJSONSerializer(), NewHTTPPeerFactory(5, serializer.NewJSONSerializer()))
	require.NoError(t, s.Init())

	done := make(chan error, 1)
	go func() { done <- s.transport.Serve(l, s.config) }()

	endpoint := l.Addr().String()
	c := connect(t, endpoint, config.Databases[0])
	require.Eventually(t, func() bool {
		_, err := c.Info(context.Background())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
		assert.NoError(t, <-done)
	})
	return s, endpoint
}

func connect(t *testing.T, endpoint, name string) *client.RPCDatabase {
	c, err := client.NewRPCDatabase(name, common.ClientConfig{
		Endpoints:     []string{endpoint},
		TimeoutSecond: 5,
	}, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDocumentsOverRPC(t *testing.T) {
	ctx := context.Background()
	_, endpoint := startServer(t, common.ServerConfig{})
	books := connect(t, endpoint, "books")

	rev1, err := books.Put(ctx, "b1", store.Properties{"author": "Alice", "title": "X", "year": 1999}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Generation(rev1))

	doc, err := books.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, rev1, doc.Rev)
	assert.Equal(t, float64(1999), doc.Properties["year"])

	// stale revision is a typed conflict
	_, err = books.Put(ctx, "b1", store.Properties{"title": "Z"}, "")
	assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)

	rev2, err := books.Put(ctx, "b1", store.Properties{"author": "Alice", "title": "Y"}, rev1)
	require.NoError(t, err)

	old, err := books.GetRevision(ctx, "b1", rev1)
	require.NoError(t, err)
	assert.Equal(t, "X", old.Properties["title"])

	_, err = books.Delete(ctx, "b1", rev2)
	require.NoError(t, err)
	_, err = books.Get(ctx, "b1")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	all, err := books.AllDocs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	changes, last, err := books.ChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, changes, 3)
	assert.Equal(t, uint64(3), last)

	info, err := books.Info(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.UUID)
	assert.Equal(t, uint64(3), info.LastSeq)
}

func TestUnknownDatabase(t *testing.T) {
	_, endpoint := startServer(t, common.ServerConfig{})
	_, err := connect(t, endpoint, "nope").Get(context.Background(), "b1")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func TestViewsOverRPC(t *testing.T) {
	ctx := context.Background()
	_, endpoint := startServer(t, common.ServerConfig{})
	books := connect(t, endpoint, "books")

	require.NoError(t, books.RegisterView(ctx, view.Spec{Name: "by_author", Version: "1", Keys: []string{"author", "title"}}))
	for id, props := range map[string]store.Properties{
		"b1": {"author": "Alice", "title": "X"},
		"b2": {"author": "Alice", "title": "Y"},
		"b3": {"author": "Bob", "title": "Z"},
	} {
		_, err := books.Put(ctx, id, props, "")
		require.NoError(t, err)
	}

	rows, err := books.QueryView(ctx, "by_author", view.QueryOptions{Prefix: []any{"Alice"}})
	require.NoError(t, err)
	assert.Equal(t, []view.Row{
		{Key: []any{"Alice", "X"}, DocID: "b1"},
		{Key: []any{"Alice", "Y"}, DocID: "b2"},
	}, rows)

	rows, err = books.QueryView(ctx, "by_author", view.QueryOptions{Prefix: []any{"Carol"}})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = books.QueryView(ctx, "by_title", view.QueryOptions{})
	assert.True(t, errors.Is(err, store.ErrViewNotFound), "got %v", err)
}

func TestViewsFileIsApplied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "views.yaml")
	require.NoError(t, os.WriteFile(path, []byte("views:\n  - name: by_author\n    version: \"1\"\n    keys: [author]\n"), 0o644))

	_, endpoint := startServer(t, common.ServerConfig{ViewsFile: path})
	books := connect(t, endpoint, "books")

	_, err := books.Put(ctx, "b1", store.Properties{"author": "Alice"}, "")
	require.NoError(t, err)

	// a single key field still emits an array key
	rows, err := books.QueryView(ctx, "by_author", view.QueryOptions{Key: []any{"Alice"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b1", rows[0].DocID)
	assert.Equal(t, []any{"Alice"}, rows[0].Key)

	rows, err = books.QueryView(ctx, "by_author", view.QueryOptions{Key: "Alice"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReplicationBetweenServers(t *testing.T) {
	ctx := context.Background()
	_, localEndpoint := startServer(t, common.ServerConfig{})
	_, remoteEndpoint := startServer(t, common.ServerConfig{})
	local := connect(t, localEndpoint, "books")
	remote := connect(t, remoteEndpoint, "books")

	for i, title := range []string{"A", "B", "C", "D", "E"} {
		_, err := remote.Put(ctx, "b"+string(rune('1'+i)), store.Properties{"title": title}, "")
		require.NoError(t, err)
	}

	req := common.ReplicationRequest{
		Direction: replicator.Pull,
		Endpoints: []string{remoteEndpoint},
		Database:  "books",
		Config:    replicator.Config{BatchSize: 2},
	}
	res, infos, err := local.Replicate(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, infos, 1)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, replicator.Completed, res.State)
	assert.Equal(t, 5, res.DocsTransferred)

	localDocs, err := local.AllDocs(ctx)
	require.NoError(t, err)
	remoteDocs, err := remote.AllDocs(ctx)
	require.NoError(t, err)
	assert.Equal(t, remoteDocs, localDocs)

	// a second pull finds nothing new
	res, _, err = local.Replicate(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.DocsTransferred)

	// push a local edit back
	doc, err := local.Get(ctx, "b1")
	require.NoError(t, err)
	_, err = local.Put(ctx, "b1", store.Properties{"title": "A2"}, doc.Rev)
	require.NoError(t, err)

	req.Direction = replicator.Push
	res, _, err = local.Replicate(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.DocsTransferred)

	doc, err = remote.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "A2", doc.Properties["title"])
}

func TestReplicationToUnreachableRemoteFails(t *testing.T) {
	_, endpoint := startServer(t, common.ServerConfig{})
	local := connect(t, endpoint, "books")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := l.Addr().String()
	require.NoError(t, l.Close())

	res, _, err := local.Replicate(context.Background(), common.ReplicationRequest{
		Direction: replicator.Pull,
		Endpoints: []string{dead},
		Database:  "books",
		Config:    replicator.Config{MaxRetries: 1, RetryBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, replicator.Failed, res.State)
	assert.NotEmpty(t, res.Error)

	_, _, err = local.Replicate(context.Background(), common.ReplicationRequest{Direction: replicator.Pull})
	assert.True(t, errors.Is(err, store.ErrInvalidOperation), "got %v", err)
}

func TestContinuousPullOverHTTP(t *testing.T) {
	client.LongPollWait = 200 * time.Millisecond
	t.Cleanup(func() { client.LongPollWait = 25 * time.Second })

	ctx := context.Background()
	_, localEndpoint := startServer(t, common.ServerConfig{})
	_, remoteEndpoint := startServer(t, common.ServerConfig{})
	local := connect(t, localEndpoint, "books")
	remote := connect(t, remoteEndpoint, "books")

	res, infos, err := local.Replicate(ctx, common.ReplicationRequest{
		Direction: replicator.Pull,
		Endpoints: []string{remoteEndpoint},
		Database:  "books",
		Config:    replicator.Config{Continuous: true},
	})
	require.NoError(t, err)
	assert.Nil(t, res)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].State.Continuous)

	_, err = remote.Put(ctx, "late", store.Properties{"title": "late"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := local.Get(ctx, "late")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	active, err := local.Replications(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	ok, err := local.StopReplication(ctx, infos[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err = local.Replications(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestWaitForChangesReturnsOnWrite(t *testing.T) {
	ctx := context.Background()
	_, endpoint := startServer(t, common.ServerConfig{})
	books := connect(t, endpoint, "books")
	writer := connect(t, endpoint, "books")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = writer.Put(ctx, "b1", store.Properties{"title": "X"}, "")
	}()

	start := time.Now()
	require.NoError(t, books.WaitForChanges(ctx, 0))
	assert.Less(t, time.Since(start), 10*time.Second)

	changes, err := books.Changes(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestSnapshotsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := common.ServerConfig{Databases: []string{"books"}, DataDir: dir, SnapshotIntervalSeconds: 3600}

	s := NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewGOBSerializer(), nil)
	require.NoError(t, s.Init())

	d, ok := s.Database("books")
	require.True(t, ok)
	rev, err := d.SaveDocument(ctx, "b1", store.Properties{"title": "X"}, "")
	require.NoError(t, err)

	// Shutdown writes the final snapshot
	require.NoError(t, s.Shutdown(ctx))
	assert.FileExists(t, filepath.Join(dir, "books"+snapshotSuffix))

	restarted := NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewGOBSerializer(), nil)
	require.NoError(t, restarted.Init())
	t.Cleanup(func() { _ = restarted.Shutdown(ctx) })

	d, ok = restarted.Database("books")
	require.True(t, ok)
	doc, err := d.GetDocument(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, rev, doc.Rev)
	assert.Equal(t, uint64(1), d.Store().LastSeq())
}
