package lockmgr

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock tries to acquire the lock for the given key.
	// Return a boolean indicating whether the lock was acquired and the owner ID needed to release it.
	AcquireLock(key string) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key.
	// Return a boolean indicating whether the lock was released.
	// The method will also return true if the lock did not exist.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)

	// IsLocked reports whether someone holds the lock for the given key.
	IsLocked(key string) (locked bool)
}
