package lockmgr

import (
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	locks := NewLockManager(maple.NewMapleDB(nil))

	ok, owner, err := locks.AcquireLock("repl-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, owner, ownerIDBytes)
	assert.True(t, locks.IsLocked("repl-1"))

	ok, _, err = locks.AcquireLock("repl-1")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail")

	// a foreign owner cannot release
	ok, err = locks.ReleaseLock("repl-1", []byte("intruder"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = locks.ReleaseLock("repl-1", owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, locks.IsLocked("repl-1"))

	// releasing a missing lock succeeds
	ok, err = locks.ReleaseLock("repl-1", owner)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentAcquire(t *testing.T) {
	locks := NewLockManager(maple.NewMapleDB(nil))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, err := locks.AcquireLock("contended"); err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
