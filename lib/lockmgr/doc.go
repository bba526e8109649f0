// Package lockmgr implements a locking mechanism on top of key-value databases
// that implement the db.KVDB interface. The replicator uses it to make sure that
// only one run at a time advances a given replication checkpoint.
//
// The lock manager only ever stores in the provided db and has no other internal
// state. Therefore it is safe to be created multiple times on the same db.
// As long as the same db is used every time, all locks will work as expected.
//
// Implementation Approach:
//
//	- Lock Acquisition: Attempts to create a key using SetIfUnset, which
//	  guarantees that only one requester can successfully create the key.
//	  The value contains a randomly generated owner ID that identifies the
//	  lock holder.
//
//	- Safe Release: The ReleaseLock operation first verifies that the
//	  requester is the legitimate owner of the lock by comparing owner IDs
//	  before executing the Delete operation.
//
// Locks have no timeout. They are meant to live in a db that is not persisted,
// so a crashed process never leaves stale locks behind.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(maple.NewMapleDB(nil))
//
//	acquired, ownerID, err := locks.AcquireLock("repl-4f2a")
//	if err != nil {
//	    // Handle error
//	}
//	if acquired {
//	    defer locks.ReleaseLock("repl-4f2a", ownerID)
//	    // ...
//	}
package lockmgr
