package view

import (
	"github.com/ValentinKolb/dDoc/lib/store"
)

// --------------------------------------------------------------------------
// Map Functions
// --------------------------------------------------------------------------

// Emitter collects the (key, value) pairs produced by a map function.
type Emitter interface {
	Emit(key, value any)
}

// MapFunc maps a document to zero or more index rows.
// It must be a pure function of the document: the engine may call it
// concurrently and repeatedly for the same document.
// Returning an error (or panicking) makes the document emit nothing for this pass.
type MapFunc func(doc store.Document, emit Emitter) error

// collector is the Emitter handed to map functions
type collector struct {
	emits []emission
}

type emission struct {
	key   any
	value any
}

func (c *collector) Emit(key, value any) {
	c.emits = append(c.emits, emission{key: normalizeDeep(key), value: value})
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Row is a single result row of a view query.
type Row struct {
	Key   any    `json:"key"`
	DocID string `json:"id"`
	Value any    `json:"value"`
}

// QueryOptions selects the rows of a view query.
//
// StartKey and EndKey are given in iteration order: with Descending set, StartKey
// is the upper bound. StartKey is always inclusive, EndKey only with InclusiveEnd.
// Prefix matches array keys whose leading elements equal the prefix.
// Key selects rows with exactly this key (a nil Key means "not set").
// Stale skips the index update before reading.
type QueryOptions struct {
	StartKey     any   `json:"start_key,omitempty"`
	EndKey       any   `json:"end_key,omitempty"`
	InclusiveEnd bool  `json:"inclusive_end,omitempty"`
	Prefix       []any `json:"prefix,omitempty"`
	Key          any   `json:"key,omitempty"`
	Descending   bool  `json:"descending,omitempty"`
	Skip         int   `json:"skip,omitempty"`
	Limit        int   `json:"limit,omitempty"`
	Stale        bool  `json:"stale,omitempty"`
}

// ViewInfo describes a registered view.
type ViewInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Seq     uint64 `json:"seq"`
	Rows    int    `json:"rows"`
}
