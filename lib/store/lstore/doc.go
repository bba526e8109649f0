// Package lstore implements a local, single-node document store based on the
// store.IDocStore interface. All state (documents with their revision trees,
// the change log and local documents) is kept in a db.KVDB instance, so the
// store can be snapshotted and restored through the engine's Save and Load.
//
// Key Layout:
//
//	_doc/<id>    JSON record holding the revision tree of the document
//	_seq/<n>     JSON change entry for sequence n (dense, never rewritten)
//	_local/<id>  opaque bytes of a local document (e.g. replication checkpoints)
//	_meta/uuid   store identity, generated once
//	_meta/seq    last committed sequence number
//
// Implementation Details:
//
//   - Single Writer: Put, Delete and PutRevision hold one writer mutex while they
//     read the record, extend the revision tree and append the change entry. The
//     sequence number is published with an atomic store only after the record and
//     the change entry are written, so ChangesSince never returns a change whose
//     document is not stored yet.
//
//   - Change Notifications: Subscribe hands out buffered channels of size one.
//     Writers never block on them: a full channel is drained and refilled with the
//     newest sequence number.
//
//   - Composition Architecture: The store.DBFactory injects the underlying engine.
//     This allows the store to work with any db.KVDB-compatible engine.
//
// Usage Example:
//
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	docs := lstore.NewLocalStore(factory)
//
//	rev, err := docs.Put(ctx, "b1", store.Properties{"author": "Alice"}, "")
//	doc, err := docs.Get(ctx, "b1")
//	changes, err := docs.ChangesSince(ctx, 0, 100)
package lstore
