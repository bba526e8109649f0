package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dDoc/lib/db/util"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Database version (v4: string keys, no ttl metadata)
	maxKeyLength = 1 << 16       // Upper bound for keys read from a snapshot
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory database with sharded data
type mapleImpl struct {
	mu        sync.RWMutex      // Guards the shards slice (swapped by Load)
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	writeIdx  atomic.Uint64     // Counts write operations, stored with every entry
	closed    atomic.Bool
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	return &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
		shards:    newShards(opts.NumShards),
	}
}

// newShards creates n empty shards
func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := 0; i < n; i++ {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shardFor returns the shard responsible for the key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// copyBytes returns a copy of b so that callers never share memory with the database
func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or updates an entry with the given key and value.
// If the key already exists, the old value is overwritten.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, value []byte) {
	shard := maple.shardFor(key)
	shard.Data.Store(key, internal.Entry{
		Value: copyBytes(value),
		Index: maple.writeIdx.Add(1),
	})
}

// SetIfUnset inserts an entry only if the key does not exist yet.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// The existence check and the insert are a single atomic map operation.
func (maple *mapleImpl) SetIfUnset(key string, value []byte) bool {
	shard := maple.shardFor(key)
	valueCopy := copyBytes(value)

	stored := false
	shard.Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded {
			return old, false
		}
		stored = true
		return internal.Entry{
			Value: valueCopy,
			Index: maple.writeIdx.Add(1),
		}, false
	})
	return stored
}

// Delete removes the entry with the specified key. This change is immediate.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) {
	maple.shardFor(key).Data.Delete(key)
	maple.writeIdx.Add(1)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a value for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return nil, false
	}
	return copyBytes(e.Value), true
}

// Has checks if a key exists in the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	_, ok := maple.shardFor(key).Data.Load(key)
	return ok
}

// Range calls fn for every entry until fn returns false.
// The values passed to fn are copies.
//
// Thread-safety: This method is thread-safe; it does not block writers.
func (maple *mapleImpl) Range(fn func(key string, value []byte) bool) {
	maple.mu.RLock()
	shards := maple.shards
	maple.mu.RUnlock()

	for _, shard := range shards {
		cont := true
		shard.Data.Range(func(key string, e internal.Entry) bool {
			cont = fn(key, copyBytes(e.Value))
			return cont
		})
		if !cont {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer
// Concurrent reading and writing is allowed during Save operation (fuzzy snapshot)
//
// File layout:
//
//	magic (8 bytes) | version (1 byte) | seed (8 bytes) | count (8 bytes)
//	count x [ keyLen (4) | key | index (8) | valueLen (4) | value ]
func (maple *mapleImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type entryToSave struct {
		key   string
		entry internal.Entry
	}

	maple.mu.RLock()
	shards := maple.shards
	seed := maple.seed
	maple.mu.RUnlock()

	// Collect snapshots of all shards
	var entries []entryToSave
	for _, shard := range shards {
		shard.Data.Range(func(key string, entry internal.Entry) bool {
			entries = append(entries, entryToSave{key, internal.Entry{
				Value: copyBytes(entry.Value),
				Index: entry.Index,
			}})
			return true
		})
	}

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, seed); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	// Write data entries
	for _, item := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(item.key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Index); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.entry.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(item.entry.Value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load restores a database from the reader.
// The current content is replaced only if the whole snapshot could be read.
//
// Thread-safety: Load may run concurrently with other operations, but writes that
// happen during Load are lost when the loaded shards are swapped in.
func (maple *mapleImpl) Load(r io.Reader) error {

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var seed uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := newShards(maple.numShards)
	var maxIndex uint64

	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		if keyLen > maxKeyLength {
			return fmt.Errorf("invalid key length %d in entry %d", keyLen, i)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var index uint64
		if err := binary.Read(br, binary.LittleEndian, &index); err != nil {
			return err
		}
		if index > maxIndex {
			maxIndex = index
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		shard := internal.GetShard(util.HashString(string(key), seed), shards)
		shard.Data.Store(string(key), internal.Entry{Value: value, Index: index})
	}

	// swap in the loaded state
	maple.mu.Lock()
	maple.shards = shards
	maple.seed = seed
	maple.mu.Unlock()

	// the write index only moves forward
	for {
		curr := maple.writeIdx.Load()
		if maxIndex <= curr || maple.writeIdx.CompareAndSwap(curr, maxIndex) {
			break
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.mu.RLock()
	shards := maple.shards
	maple.mu.RUnlock()

	entries := 0
	sizeBytes := 0
	shardSizes := make([]int, len(shards))
	for i, shard := range shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			sizeBytes += len(key) + len(e.Value) + 8 // 8 bytes for the write index
			return true
		})
		shardSizes[i] = shard.Data.Size()
		entries += shardSizes[i]
	}

	// Metadata for this specific database implementation
	meta := &struct {
		WriteIndex uint64 `json:"write_index"`
		ShardCount int    `json:"shard_count"`
		ShardSizes []int  `json:"shard_sizes"`
	}{
		WriteIndex: maple.writeIdx.Load(),
		ShardCount: len(shards),
		ShardSizes: shardSizes,
	}

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		Entries:   entries,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureSet, db.FeatureSetIfUnset,
			db.FeatureGet, db.FeatureHas, db.FeatureDelete, db.FeatureRange,
			db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSet |
		db.FeatureSetIfUnset |
		db.FeatureGet |
		db.FeatureDelete |
		db.FeatureHas |
		db.FeatureRange |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close marks the database as closed. Maple holds no background resources.
func (maple *mapleImpl) Close() error {
	maple.closed.Store(true)
	return nil
}
