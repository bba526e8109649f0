// Package database wires a document store, its view engine and its replications
// into one Database object. The caller owns its lifetime: everything started
// through a Database is stopped by Close.
//
// Usage Example:
//
//	books, _ := database.New("books", func() db.KVDB { return maple.NewMapleDB(nil) }, nil)
//	defer books.Close()
//
//	_ = books.RegisterView("by_author", view.FieldsMap([]string{"author", "title"}, ""), "1")
//	rev, _ := books.SaveDocument(ctx, "b1", store.Properties{"author": "Alice", "title": "X"}, "")
//	rows, _ := books.QueryView(ctx, "by_author", view.QueryOptions{Prefix: []any{"Alice"}})
//
//	repl, _ := books.StartReplication(ctx, replicator.Pull, remote, replicator.DefaultConfig(replicator.Pull))
//	repl.OnStopped(func(res replicator.Result) { ... })
package database
