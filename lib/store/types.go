package store

import "github.com/ValentinKolb/dDoc/lib/db"

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

// Properties holds the JSON-shaped content of a document.
// Values are nil, bool, numbers, string, []any or map[string]any.
type Properties = map[string]any

// Document is the winning revision of a document.
type Document struct {
	ID         string     `json:"id"`
	Rev        string     `json:"rev"`
	Deleted    bool       `json:"deleted,omitempty"`
	Properties Properties `json:"properties,omitempty"`
	Conflicts  []string   `json:"conflicts,omitempty"` // other live leaf revisions
}

// Revision is an immutable snapshot of a document used for replication.
type Revision struct {
	DocID      string     `json:"id"`
	RevID      string     `json:"rev"`
	Deleted    bool       `json:"deleted,omitempty"`
	Properties Properties `json:"properties,omitempty"`
	History    []string   `json:"history,omitempty"` // ancestor revisions, newest first
}

// RevRef identifies a single revision of a document.
type RevRef struct {
	DocID string `json:"id"`
	RevID string `json:"rev"`
}

// --------------------------------------------------------------------------
// Change Feed
// --------------------------------------------------------------------------

// Change is an entry of the change feed.
type Change struct {
	Seq     uint64 `json:"seq"`
	ID      string `json:"id"`
	Rev     string `json:"rev"`
	Deleted bool   `json:"deleted,omitempty"`
}

// --------------------------------------------------------------------------
// Management
// --------------------------------------------------------------------------

// Info describes a document store.
type Info struct {
	UUID     string          `json:"uuid"`
	DocCount int64           `json:"doc_count"`
	LastSeq  uint64          `json:"last_seq"`
	Engine   db.DatabaseInfo `json:"engine"`
}
