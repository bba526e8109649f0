// Package store defines the document store contract used by the view engine, the
// replicator and the RPC layer. It serves as an abstraction layer over the
// lower-level db.KVDB implementations, adding revision trees, a change feed and
// standardized error reporting.
//
// Key Components:
//
//   - IDocStore Interface: CRUD on schema-less documents with optimistic
//     concurrency (expected revision), replication primitives (PutRevision,
//     RevsDiff, GetRevision) and a restartable change feed with push notifications.
//
//   - Revisions: Revision ids have the form "<generation>-<hash>". New ids are
//     minted by NewRevID from the parent id, the deleted flag and the canonical
//     JSON body. Replicated revisions keep their foreign ids.
//
//   - RevTree: The per-document revision tree. Concurrent edits on different peers
//     produce several leaves. The winner is chosen deterministically (live leaves
//     first, then highest generation, then highest id) so that every peer that
//     holds the same tree shows the same document.
//
//   - Error System: A structured error type with typed return codes. The package
//     exports sentinel errors (ErrNotFound, ErrConflict, ...) that match every
//     error with the same code through errors.Is.
//
// Implementations:
//
//	- Local Store (lstore): stores documents, the change log and local documents
//	  in a db.KVDB instance. Writes are serialized, reads never block writers.
//	  Available in the "github.com/ValentinKolb/dDoc/lib/store/lstore" package.
package store
