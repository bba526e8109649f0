// Package view implements incremental secondary indexes ("views") over a
// store.IDocStore.
//
// A view is a named map function with a version. The map function receives a
// document and an Emitter and emits zero or more (key, value) rows. The Engine
// keeps one sorted index per view and feeds it from the store's change feed.
//
// Indexing:
//
//   - Every view has a cursor: the last change sequence applied to its index.
//     An indexing pass reads the changes after the cursor in batches, evaluates
//     the map function once per changed document (concurrently, bounded by
//     Options.Workers), removes the rows the document emitted before and inserts
//     the new ones.
//
//   - The index is a copy-on-write B-tree. A pass works on a clone and publishes
//     the clone together with the new cursor through an atomic pointer, so queries
//     always see whole batches.
//
//   - Query updates the view before reading unless QueryOptions.Stale is set.
//     Start additionally runs a background indexer that updates all views after
//     every write notification of the store.
//
//   - Registering the same name and version again keeps the existing index.
//     A new version replaces the view with an empty index; passes still running
//     on the old index are discarded.
//
//   - A map function that returns an error or panics is logged as a warning and
//     the document emits nothing for that pass.
//
// Keys are ordered by Collate (null < false < true < numbers < strings < arrays
// < objects) and ties are broken by document id.
//
// Besides Go map functions, views can be declared by field names (FieldsMap,
// Spec) and loaded from YAML definition files that are watched for changes.
package view
