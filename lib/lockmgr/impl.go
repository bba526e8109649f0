package lockmgr

import (
	"bytes"
	"github.com/ValentinKolb/dDoc/lib/db"
)

// lockPrefix namespaces the lock keys in the db
const lockPrefix = "_lock/"

type lockMgrImpl struct {
	db db.KVDB
}

// NewLockManager creates a lock manager that stores its locks in the given db.
// The db must support SetIfUnset, Get and Delete.
func NewLockManager(database db.KVDB) ILockManager {
	return &lockMgrImpl{
		db: database,
	}
}

func (lm *lockMgrImpl) AcquireLock(key string) (bool, []byte, error) {
	// Generate owner id (256 bit random value)
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// Try to acquire the lock (by setting the value only if it doesn't exist - atomic CAS operation)
	if !lm.db.SetIfUnset(lockPrefix+key, ownerID) {
		// someone else holds the lock
		return false, nil, nil
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	// Check if the lock exists
	value, ok := lm.db.Get(lockPrefix + key)
	if !ok {
		return true, nil
	}

	// Check if the lock is owned by us
	if !bytes.Equal(ownerID, value) {
		return false, nil
	}

	// Release the lock
	lm.db.Delete(lockPrefix + key)
	return true, nil
}

func (lm *lockMgrImpl) IsLocked(key string) bool {
	return lm.db.Has(lockPrefix + key)
}
