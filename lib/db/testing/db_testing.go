package testing

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("SetIfUnset", func(t *testing.T) {
			testSetIfUnset(t, factory())
		})

		t.Run("SetIfUnsetConcurrent", func(t *testing.T) {
			testSetIfUnsetConcurrent(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LoadInvalid", func(t *testing.T) {
			testLoadInvalid(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skipf("feature %s not supported", feature)
	}
}

// collect returns all keys with the given prefix in sorted order
func collect(database db.KVDB, prefix string) []string {
	var keys []string
	database.Range(func(key string, _ []byte) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "_doc/test-key"
	testValue1 := []byte(`{"rev":"1-a"}`)
	testValue2 := []byte(`{"rev":"2-b"}`)

	database.Set(testKey, testValue1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.Set(testKey, testValue2)

	result, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// the returned slice must be a copy
	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'
	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// the stored value must not alias the caller's slice
	input := []byte("mutable")
	database.Set("alias-key", input)
	input[0] = 'X'
	stored, _ := database.Get("alias-key")
	if string(stored) != "mutable" {
		t.Errorf("Set should copy the value, got %s", stored)
	}
}

func testSetIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetIfUnset|db.FeatureGet)

	testKey := "_local/lock"
	testValue1 := []byte("owner-1")
	testValue2 := []byte("owner-2")

	if !database.SetIfUnset(testKey, testValue1) {
		t.Fatalf("Expected first SetIfUnset to store the value")
	}

	if database.SetIfUnset(testKey, testValue2) {
		t.Errorf("Expected second SetIfUnset to be rejected")
	}

	result, exists := database.Get(testKey)
	if !exists {
		t.Fatalf("Expected key %s to exist", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	// after a delete the key can be claimed again
	database.Delete(testKey)
	if !database.SetIfUnset(testKey, testValue2) {
		t.Errorf("Expected SetIfUnset to succeed after Delete")
	}
}

func testSetIfUnsetConcurrent(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetIfUnset)

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			if database.SetIfUnset("contended", []byte(fmt.Sprintf("worker-%d", id))) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one SetIfUnset to win, got %d", wins.Load())
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	testKey := "delete-test-key"
	testValue := []byte("delete-test-value")

	database.Set(testKey, testValue)

	if _, exists := database.Get(testKey); !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}

	database.Delete(testKey)

	if _, exists := database.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}
	if database.Has(testKey) {
		t.Errorf("Expected Has to return false after Delete")
	}

	// deleting a missing key is a no-op
	database.Delete("nonexistent-key")
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas)

	testKey := "has-test-key"

	if database.Has(testKey) {
		t.Errorf("Expected Has to return false for nonexistent key")
	}

	database.Set(testKey, nil)

	if !database.Has(testKey) {
		t.Errorf("Expected Has to return true after Set with nil value")
	}
}

func testRange(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureRange)

	for i := 0; i < 100; i++ {
		database.Set(fmt.Sprintf("_seq/%08d", i), []byte(fmt.Sprintf("doc-%d", i)))
	}
	database.Set("_doc/a", []byte("a"))

	keys := collect(database, "_seq/")
	if len(keys) != 100 {
		t.Fatalf("Expected 100 keys with prefix, got %d", len(keys))
	}
	if keys[0] != "_seq/00000000" || keys[99] != "_seq/00000099" {
		t.Errorf("Unexpected key range: first=%s last=%s", keys[0], keys[99])
	}

	// early termination
	visited := 0
	database.Range(func(string, []byte) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Errorf("Expected Range to stop after 10 entries, visited %d", visited)
	}

	// values passed to fn are copies
	database.Range(func(key string, value []byte) bool {
		if len(value) > 0 {
			value[0] = 'X'
		}
		return true
	})
	if v, _ := database.Get("_doc/a"); string(v) != "a" {
		t.Errorf("Range should pass copies, stored value changed to %s", v)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value

		database.Set(key, value)
	}

	// stale data in the target must be replaced
	database2.Set("stale-key", []byte("stale"))

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		key := originalKeys[i]
		expectedValue := originalValues[i]

		actualValue, exists := database2.Get(key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	if database2.Has("stale-key") {
		t.Errorf("Expected Load to replace the previous content")
	}

	if got := database2.GetInfo().Entries; got != numEntries {
		t.Errorf("Expected %d entries after Load, got %d", numEntries, got)
	}
}

func testLoadInvalid(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureLoad)

	database.Set("keep", []byte("me"))

	if err := database.Load(strings.NewReader("definitely not a snapshot")); err == nil {
		t.Errorf("Expected error when loading garbage")
	}

	if !database.Has("keep") {
		t.Errorf("Failed Load must not modify the database")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	emptyKey := ""
	emptyKeyValue := []byte("value for empty key")

	database.Set(emptyKey, emptyKeyValue)

	result, exists := database.Get(emptyKey)
	if !exists {
		t.Errorf("Empty key not found after Set")
	} else if !bytes.Equal(result, emptyKeyValue) {
		t.Errorf("Value mismatch for empty key")
	}

	nilValueKey := "nil-value-key"
	database.Set(nilValueKey, nil)

	result, exists = database.Get(nilValueKey)
	if !exists {
		t.Errorf("Key for nil value not found after Set")
	} else if len(result) != 0 {
		t.Errorf("Nil value resulted in non-empty value: %v", result)
	}

	if t.Failed() {
		return
	}

	largeKey := strings.Repeat("k", 1000)
	database.Set(largeKey, []byte("value for large key"))
	if _, exists = database.Get(largeKey); !exists {
		t.Errorf("Large key not found after Set")
	}

	largeValueKey := "large-value-key"
	largeValue := make([]byte, 8*1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}

	database.Set(largeValueKey, largeValue)

	result, exists = database.Get(largeValueKey)
	if !exists {
		t.Errorf("Key for large value not found after Set")
	} else if !bytes.Equal(result, largeValue) {
		t.Errorf("Large value mismatch: got %d bytes, expected %d", len(result), len(largeValue))
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	type operation struct {
		op    string
		key   string
		value []byte
	}

	numOperations := 10_000
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "set"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key string
		if i%5 == 0 {
			key = fmt.Sprintf("_doc/hot-%d", i%50)
		} else {
			key = fmt.Sprintf("_doc/doc-%d", i)
		}

		var value []byte
		if op == "set" {
			value = []byte(fmt.Sprintf(`{"id":%q,"n":%d}`, key, i))
		}

		operations[i] = operation{op, key, value}
	}

	numWorkers := 8
	opsPerWorker := numOperations / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			start := workerId * opsPerWorker
			end := start + opsPerWorker

			for i := start; i < end; i++ {
				op := operations[i]
				switch op.op {
				case "set":
					database.Set(op.key, op.value)
				case "get":
					database.Get(op.key)
				case "delete":
					database.Delete(op.key)
				}
			}
		}(w)
	}
	wg.Wait()

	// every key that exists must hold a value written by one of the set operations
	written := make(map[string]map[string]bool)
	for _, op := range operations {
		if op.op != "set" {
			continue
		}
		if written[op.key] == nil {
			written[op.key] = make(map[string]bool)
		}
		written[op.key][string(op.value)] = true
	}

	database.Range(func(key string, value []byte) bool {
		if !written[key][string(value)] {
			t.Errorf("Key %s holds a value that was never written: %s", key, value)
		}
		return true
	})
}
