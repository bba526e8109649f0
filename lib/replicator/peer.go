package replicator

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dDoc/lib/store"
	"sort"
)

// ErrWaitUnsupported is returned by peers that cannot block until new changes arrive.
// The replicator falls back to polling with Config.PollInterval.
var ErrWaitUnsupported = errors.New("peer does not support waiting for changes")

// IPeer is one side of a replication: a change feed to read from and a store to write to.
//
// Transport failures must be returned as plain errors so that the replicator retries
// them. Errors of type *store.Error are treated as final and are not retried.
type IPeer interface {
	// ID returns a stable identity of the peer's store
	ID(ctx context.Context) (id string, err error)
	// Changes returns the changes after since (at most limit)
	Changes(ctx context.Context, since uint64, limit int) (changes []store.Change, err error)
	// RevsDiff returns the revisions the peer does not know
	RevsDiff(ctx context.Context, revs map[string][]string) (missing map[string][]string, err error)
	// GetRevisions fetches full revision bodies including their history
	GetRevisions(ctx context.Context, refs []store.RevRef) (revs []store.Revision, err error)
	// PutRevisions stores foreign revisions without minting new ids and returns the number of conflicts
	PutRevisions(ctx context.Context, revs []store.Revision) (conflicts int, err error)
	// WaitForChanges blocks until the feed has a change after since, the peer gives up
	// waiting (nil is returned as well) or ctx is done
	WaitForChanges(ctx context.Context, since uint64) (err error)
}

// --------------------------------------------------------------------------
// Local Peer
// --------------------------------------------------------------------------

type localPeer struct {
	docs store.IDocStore
}

// NewLocalPeer adapts a local document store to the IPeer interface.
func NewLocalPeer(docs store.IDocStore) IPeer {
	return &localPeer{docs: docs}
}

func (p *localPeer) ID(ctx context.Context) (string, error) {
	info, err := p.docs.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.UUID, nil
}

func (p *localPeer) Changes(ctx context.Context, since uint64, limit int) ([]store.Change, error) {
	return p.docs.ChangesSince(ctx, since, limit)
}

func (p *localPeer) RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error) {
	return p.docs.RevsDiff(ctx, revs)
}

func (p *localPeer) GetRevisions(ctx context.Context, refs []store.RevRef) ([]store.Revision, error) {
	revs := make([]store.Revision, 0, len(refs))
	for _, ref := range refs {
		rev, err := p.docs.GetRevision(ctx, ref.DocID, ref.RevID)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

func (p *localPeer) PutRevisions(ctx context.Context, revs []store.Revision) (int, error) {
	sortRevisions(revs)
	conflicts := 0
	for _, rev := range revs {
		conflict, err := p.docs.PutRevision(ctx, rev)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts++
		}
	}
	return conflicts, nil
}

func (p *localPeer) WaitForChanges(ctx context.Context, since uint64) error {
	if p.docs.LastSeq() > since {
		return nil
	}
	updates, cancel := p.docs.Subscribe()
	defer cancel()

	// re-check, a write may have happened before the subscription
	for p.docs.LastSeq() <= since {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return store.NewError(store.RetCInvalidOperation, "store is closed")
			}
		}
	}
	return nil
}

// sortRevisions orders revisions by document and generation so ancestors are applied first
func sortRevisions(revs []store.Revision) {
	sort.SliceStable(revs, func(i, j int) bool {
		if revs[i].DocID != revs[j].DocID {
			return revs[i].DocID < revs[j].DocID
		}
		return store.Generation(revs[i].RevID) < store.Generation(revs[j].RevID)
	})
}
