// Package client implements the RPC client of dDoc.
//
// NewRPCDatabase returns a client for one database on a server, with document,
// view and replication control operations. The same client implements
// replicator.IPeer (see NewRPCPeer): a server uses it to replicate with
// databases on other servers, and WaitForChanges long polls the remote change
// feed for continuous replication.
//
// Errors returned by the server keep their store.Error code, so errors.Is works
// with the store sentinels (store.ErrConflict, store.ErrNotFound, ...).
// Transport failures are plain errors and are retried by the replicator.
//
// Usage Example:
//
//	books, _ := client.NewRPCDatabase(
//		"books",
//		common.ClientConfig{Endpoints: []string{"localhost:8080"}, TimeoutSecond: 5, RetryCount: 2},
//		http.NewHttpClientTransport(),
//		serializer.NewJSONSerializer(),
//	)
//	defer books.Close()
//
//	rev, _ := books.Put(ctx, "b1", store.Properties{"author": "Alice", "title": "X"}, "")
//	rows, _ := books.QueryView(ctx, "by_author", view.QueryOptions{Prefix: []any{"Alice"}})
//
// Thread Safety:
//
//	Clients are safe for concurrent use.
package client
