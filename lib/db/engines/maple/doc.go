// Package maple implements an in-memory key-value database (KVDB) that serves as
// the default storage engine below the document store. It provides a complete
// implementation of the db.KVDB interface with a focus on thread safety and
// low contention under concurrent load.
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     the shards and provides the public API for key-value operations. Every write
//     increments an atomic write index that is stored with the entry.
//
//   - Shard: A partition of the database that manages a subset of the key space.
//     Each shard wraps an xsync.MapOf, which itself shards internally, so readers
//     never block and writers only contend on the same bucket.
//
//   - Entry: The stored value together with the write index of the operation that
//     created or last updated it.
//
// Internal Mechanisms:
//
//   - Sharding Strategy: String keys are hashed with util.HashString using a
//     database-specific seed. The resulting 64-bit integer is right-shifted by 7
//     bits to use higher-quality bits for distribution.
//
//   - Conditional Writes: SetIfUnset uses xsync's Compute so that the existence
//     check and the insert are one atomic step. The lock manager builds on this.
//
//   - Copy Semantics: Set copies the input slice and Get/Range hand out copies, so
//     callers can never mutate stored values.
//
//   - Persistence Format: The database uses a compact binary format:
//     1. Magic number "MAPLEDB\x00" to identify the file format
//     2. Version number (currently 4)
//     3. Database seed value for hash function consistency
//     4. Number of entries
//     5. For each entry: key length, key, write index, value length, value bytes
//     Save creates a fuzzy snapshot without locking. Load reads the complete
//     snapshot into fresh shards and swaps them in only on success.
package maple
