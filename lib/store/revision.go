package store

import (
	"encoding/json"
	"fmt"
	"github.com/cespare/xxhash/v2"
	"strconv"
	"strings"
)

// RevID is a parsed revision token of the form "<generation>-<hash>".
// Tokens of foreign peers only need a positive generation and a non-empty suffix.
type RevID struct {
	Gen  int
	Hash string
}

// String returns the token representation of the revision id.
func (r RevID) String() string {
	return strconv.Itoa(r.Gen) + "-" + r.Hash
}

// Generation returns the generation counter of the revision.
func (r RevID) Generation() int {
	return r.Gen
}

// ParseRevID parses a revision token.
func ParseRevID(token string) (RevID, error) {
	genStr, hash, found := strings.Cut(token, "-")
	if !found || hash == "" {
		return RevID{}, Errorf(RetCInvalidRevision, "malformed revision %q", token)
	}
	gen, err := strconv.Atoi(genStr)
	if err != nil || gen <= 0 {
		return RevID{}, Errorf(RetCInvalidRevision, "invalid generation in revision %q", token)
	}
	return RevID{Gen: gen, Hash: hash}, nil
}

// Generation returns the generation of a revision token or 0 if it is malformed.
func Generation(token string) int {
	r, err := ParseRevID(token)
	if err != nil {
		return 0
	}
	return r.Gen
}

// NewRevID computes the revision id of a new revision on top of parent.
// The hash covers the parent token, the deleted flag and the canonical JSON
// encoding of the properties, so equal edits on equal parents yield equal ids.
func NewRevID(parent string, deleted bool, props Properties) (RevID, error) {
	gen := 1
	if parent != "" {
		p, err := ParseRevID(parent)
		if err != nil {
			return RevID{}, err
		}
		gen = p.Gen + 1
	}

	// encoding/json sorts map keys, which makes the encoding canonical
	body, err := json.Marshal(props)
	if err != nil {
		return RevID{}, Errorf(RetCInvalidOperation, "properties are not JSON encodable: %v", err)
	}

	h := xxhash.New()
	_, _ = h.WriteString(parent)
	if deleted {
		_, _ = h.WriteString("|d|")
	} else {
		_, _ = h.WriteString("|l|")
	}
	_, _ = h.Write(body)

	return RevID{Gen: gen, Hash: fmt.Sprintf("%016x", h.Sum64())}, nil
}

// ValidateRevision checks the revision id and its history.
// History entries must be well-formed and strictly decreasing by one generation.
func ValidateRevision(rev Revision) error {
	if rev.DocID == "" {
		return NewError(RetCInvalidOperation, "revision without document id")
	}
	r, err := ParseRevID(rev.RevID)
	if err != nil {
		return err
	}
	expected := r.Gen - 1
	for _, h := range rev.History {
		hr, err := ParseRevID(h)
		if err != nil {
			return err
		}
		if hr.Gen != expected {
			return Errorf(RetCInvalidRevision, "history of %s/%s is not contiguous at %s", rev.DocID, rev.RevID, h)
		}
		expected--
	}
	return nil
}
