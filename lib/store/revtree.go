package store

import (
	"sort"
)

// RevNode is a single revision inside a RevTree.
type RevNode struct {
	Rev        string     `json:"rev"`
	Parent     string     `json:"parent,omitempty"`
	Deleted    bool       `json:"deleted,omitempty"`
	Missing    bool       `json:"missing,omitempty"` // body unknown, node only known from a history
	Properties Properties `json:"props,omitempty"`
	Seq        uint64     `json:"seq,omitempty"` // sequence of the change that stored the body
}

// RevTree is the revision tree of a single document.
// A document has one leaf per branch; concurrent edits create additional leaves.
//
// Thread-safety: RevTree is not thread-safe. The store only mutates trees while
// holding its writer lock and works on freshly decoded copies otherwise.
type RevTree struct {
	Nodes map[string]*RevNode `json:"nodes"`
}

// NewRevTree creates an empty revision tree.
func NewRevTree() *RevTree {
	return &RevTree{Nodes: make(map[string]*RevNode)}
}

// Has reports whether the revision is part of the tree.
func (t *RevTree) Has(rev string) bool {
	_, ok := t.Nodes[rev]
	return ok
}

// Get returns the node of a revision.
func (t *RevTree) Get(rev string) (*RevNode, bool) {
	n, ok := t.Nodes[rev]
	return n, ok
}

// Insert adds a node. The parent must already be part of the tree (or be empty).
func (t *RevTree) Insert(node RevNode) error {
	if node.Parent != "" && !t.Has(node.Parent) {
		return Errorf(RetCInvalidRevision, "parent %s of %s is unknown", node.Parent, node.Rev)
	}
	if Generation(node.Parent)+1 != Generation(node.Rev) && node.Parent != "" {
		return Errorf(RetCInvalidRevision, "revision %s is not a child of %s", node.Rev, node.Parent)
	}
	n := node
	t.Nodes[node.Rev] = &n
	return nil
}

// Link makes parent the parent of a root node. Nodes that already have a parent
// are left alone. It reports whether the node was linked.
func (t *RevTree) Link(rev, parent string) (bool, error) {
	n, ok := t.Nodes[rev]
	if !ok || n.Parent != "" || !t.Has(parent) {
		return false, nil
	}
	if Generation(parent)+1 != Generation(rev) {
		return false, Errorf(RetCInvalidRevision, "revision %s is not a child of %s", rev, parent)
	}
	n.Parent = parent
	return true, nil
}

// Leaves returns all leaf nodes ordered by precedence, the winner first.
// Nodes without a body are never leaves.
func (t *RevTree) Leaves() []*RevNode {
	hasChild := make(map[string]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Parent != "" {
			hasChild[n.Parent] = true
		}
	}

	leaves := make([]*RevNode, 0, 1)
	for rev, n := range t.Nodes {
		if !hasChild[rev] && !n.Missing {
			leaves = append(leaves, n)
		}
	}

	sort.Slice(leaves, func(i, j int) bool {
		return beats(leaves[i], leaves[j])
	})
	return leaves
}

// beats is the deterministic winner order: live leaves first, then higher
// generation, then the higher revision string.
func beats(a, b *RevNode) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted
	}
	ga, gb := Generation(a.Rev), Generation(b.Rev)
	if ga != gb {
		return ga > gb
	}
	return a.Rev > b.Rev
}

// Winner returns the winning leaf or nil for an empty tree.
func (t *RevTree) Winner() *RevNode {
	leaves := t.Leaves()
	if len(leaves) == 0 {
		return nil
	}
	return leaves[0]
}

// LiveLeaves returns the revisions of all non-deleted leaves, winner first.
func (t *RevTree) LiveLeaves() []string {
	var revs []string
	for _, l := range t.Leaves() {
		if !l.Deleted {
			revs = append(revs, l.Rev)
		}
	}
	return revs
}

// History returns the ancestors of rev, newest first.
func (t *RevTree) History(rev string) []string {
	var history []string
	n, ok := t.Nodes[rev]
	for ok && n.Parent != "" {
		history = append(history, n.Parent)
		n, ok = t.Nodes[n.Parent]
	}
	return history
}
