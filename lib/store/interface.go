package store

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"io"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IDocStore is the interface of a revisioned document store with a change feed.
// All methods return a *Error (nil on success) that can be matched with errors.Is
// against the sentinel errors of this package.
type IDocStore interface {

	// --------------------------------------------------------------------------
	// Documents
	// --------------------------------------------------------------------------

	// Get returns the winning revision of a document.
	// ErrNotFound is returned if the document does not exist or its winner is a tombstone.
	Get(ctx context.Context, id string) (doc Document, err error)
	// GetRevision returns any revision of a document, including tombstones.
	GetRevision(ctx context.Context, id, rev string) (revision Revision, err error)
	// Put creates a new revision on top of expectedRev. expectedRev must match the
	// current winner (empty for new or deleted documents), otherwise ErrConflict is returned.
	Put(ctx context.Context, id string, props Properties, expectedRev string) (rev string, err error)
	// Delete writes a tombstone revision on top of expectedRev.
	Delete(ctx context.Context, id string, expectedRev string) (rev string, err error)
	// AllDocs returns all live documents ordered by id.
	AllDocs(ctx context.Context) (docs []Document, err error)

	// --------------------------------------------------------------------------
	// Replication
	// --------------------------------------------------------------------------

	// PutRevision inserts a foreign revision together with its missing ancestors
	// without minting a new revision id. Inserting a revision that already exists
	// is a no-op. conflict reports that the document has more than one live leaf
	// after the insert and the inserted revision is one of them.
	PutRevision(ctx context.Context, rev Revision) (conflict bool, err error)
	// RevsDiff returns the subset of the given revisions that are unknown to the store.
	RevsDiff(ctx context.Context, revs map[string][]string) (missing map[string][]string, err error)

	// --------------------------------------------------------------------------
	// Change Feed
	// --------------------------------------------------------------------------

	// ChangesSince returns every change with a sequence number greater than since
	// in ascending order. A limit <= 0 means no limit.
	ChangesSince(ctx context.Context, since uint64, limit int) (changes []Change, err error)
	// LastSeq returns the highest sequence number that is visible to ChangesSince.
	LastSeq() uint64
	// Subscribe returns a channel that receives the latest sequence number after writes.
	// Notifications coalesce: a slow reader only sees the most recent value.
	// The returned function cancels the subscription and closes the channel.
	Subscribe() (updates <-chan uint64, cancel func())

	// --------------------------------------------------------------------------
	// Local Documents (not replicated, not part of the change feed)
	// --------------------------------------------------------------------------

	GetLocal(ctx context.Context, id string) (value []byte, loaded bool, err error)
	PutLocal(ctx context.Context, id string, value []byte) (err error)

	// --------------------------------------------------------------------------
	// Management
	// --------------------------------------------------------------------------

	// Info returns metadata about the store and the database underlying it.
	Info(ctx context.Context) (info Info, err error)
	// Save writes a snapshot of the store.
	Save(w io.Writer) (err error)
	// Load replaces the store content with a snapshot.
	Load(r io.Reader) (err error)
	// Close releases all resources and closes all subscriptions.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("DocStoreError (code %s)", e.Code)
	}
	return fmt.Sprintf("DocStoreError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code.
// This makes errors.Is(err, store.ErrNotFound) work for every error with that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new DocStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new DocStoreError with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Sentinel errors for errors.Is comparisons
var (
	ErrInternal         = &Error{Code: RetCInternalError}
	ErrUnsupported      = &Error{Code: RetCUnsupportedOperation}
	ErrInvalidOperation = &Error{Code: RetCInvalidOperation}
	ErrNotFound         = &Error{Code: RetCNotFound}
	ErrConflict         = &Error{Code: RetCConflict}
	ErrInvalidRevision  = &Error{Code: RetCInvalidRevision}
	ErrViewNotFound     = &Error{Code: RetCViewNotFound}
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: Document or revision does not exist.
	RetCConflict                            // 5: Expected revision does not match the current one.
	RetCInvalidRevision                     // 6: Malformed revision id or history.
	RetCViewNotFound                        // 7: Queried view is not registered.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCConflict:
		return "Conflict"
	case RetCInvalidRevision:
		return "InvalidRevision"
	case RetCViewNotFound:
		return "ViewNotFound"
	default:
		return "Unknown"
	}
}

// ParseRetCode is the inverse of RetCode.String. Unknown names map to RetCInternalError.
func ParseRetCode(name string) RetCode {
	for c := RetCSuccess; c <= RetCViewNotFound; c++ {
		if c.String() == name {
			return c
		}
	}
	return RetCInternalError
}
