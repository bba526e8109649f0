package view

import (
	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Index State
// --------------------------------------------------------------------------

const btreeDegree = 32

// entry is a single row in the sorted index
type entry struct {
	key   any
	docID string
	n     int // emission ordinal, keeps duplicate keys of one document apart
	value any
}

func lessEntry(a, b entry) bool {
	if c := Collate(a.key, b.key); c != 0 {
		return c < 0
	}
	if a.docID != b.docID {
		return a.docID < b.docID
	}
	return a.n < b.n
}

// docEntries tracks the rows a document emitted, so they can be removed on the next change
type docEntries struct {
	docID   string
	entries []entry
}

func lessDocEntries(a, b docEntries) bool {
	return a.docID < b.docID
}

// indexState is an immutable published state of a view index.
// Writers clone it, modify the clone and publish the clone as a whole.
type indexState struct {
	tree  *btree.BTreeG[entry]
	byDoc *btree.BTreeG[docEntries]
	seq   uint64 // last change sequence applied to this state
}

func newIndexState() *indexState {
	return &indexState{
		tree:  btree.NewG[entry](btreeDegree, lessEntry),
		byDoc: btree.NewG[docEntries](btreeDegree, lessDocEntries),
	}
}

// clone returns a lazily copied state that can be modified without affecting readers of s
func (s *indexState) clone() *indexState {
	return &indexState{
		tree:  s.tree.Clone(),
		byDoc: s.byDoc.Clone(),
		seq:   s.seq,
	}
}

// replace swaps the rows of a document. A nil emits slice removes the document.
func (s *indexState) replace(docID string, emits []emission) {
	if old, ok := s.byDoc.Get(docEntries{docID: docID}); ok {
		for _, e := range old.entries {
			s.tree.Delete(e)
		}
		s.byDoc.Delete(old)
	}
	if len(emits) == 0 {
		return
	}
	entries := make([]entry, len(emits))
	for i, em := range emits {
		entries[i] = entry{key: em.key, docID: docID, n: i, value: em.value}
		s.tree.ReplaceOrInsert(entries[i])
	}
	s.byDoc.ReplaceOrInsert(docEntries{docID: docID, entries: entries})
}

// --------------------------------------------------------------------------
// Range Scans
// --------------------------------------------------------------------------

// scan returns the rows selected by opts in the requested order
func (s *indexState) scan(opts QueryOptions) []Row {
	var lower, upper any
	hasLower, hasUpper := false, false
	lowerInclusive, upperInclusive := true, true

	switch {
	case opts.Key != nil:
		lower, upper = opts.Key, opts.Key
		hasLower, hasUpper = true, true
	case opts.Descending:
		if opts.StartKey != nil {
			upper, hasUpper = opts.StartKey, true
		}
		if opts.EndKey != nil {
			lower, hasLower = opts.EndKey, true
			lowerInclusive = opts.InclusiveEnd
		}
	default:
		if opts.StartKey != nil {
			lower, hasLower = opts.StartKey, true
		}
		if opts.EndKey != nil {
			upper, hasUpper = opts.EndKey, true
			upperInclusive = opts.InclusiveEnd
		}
	}

	var prefix []any
	if len(opts.Prefix) > 0 {
		prefix = make([]any, len(opts.Prefix))
		for i, p := range opts.Prefix {
			prefix[i] = normalizeDeep(p)
		}
		// the prefix array itself is the smallest key carrying the prefix
		if !hasLower || Collate(prefix, lower) > 0 {
			lower, hasLower, lowerInclusive = prefix, true, true
		}
	}

	// number of rows needed, -1 for all
	want := -1
	if opts.Limit > 0 && !opts.Descending {
		want = opts.Skip + opts.Limit
	}

	var rows []Row
	visit := func(e entry) bool {
		if hasLower {
			c := Collate(e.key, lower)
			if c < 0 || (c == 0 && !lowerInclusive) {
				return true
			}
		}
		if hasUpper {
			c := Collate(e.key, upper)
			if c > 0 || (c == 0 && !upperInclusive) {
				return false
			}
		}
		if prefix != nil && !hasPrefix(e.key, prefix) {
			// keys with the prefix are contiguous, stop once past them
			return Collate(e.key, prefix) < 0
		}
		rows = append(rows, Row{Key: e.key, DocID: e.docID, Value: e.value})
		return want < 0 || len(rows) < want
	}

	if hasLower {
		s.tree.AscendGreaterOrEqual(entry{key: lower}, visit)
	} else {
		s.tree.Ascend(visit)
	}

	if opts.Descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(rows) {
			return []Row{}
		}
		rows = rows[opts.Skip:]
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows
}
