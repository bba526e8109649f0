package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/database"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"time"
)

// maxLongPoll caps the wait of a changes request
const maxLongPoll = 60 * time.Second

// PeerFactory creates the remote peer of a replication request.
// The returned close function is called when the replication ended.
type PeerFactory func(req common.ReplicationRequest) (peer replicator.IPeer, closeFn func() error, err error)

// NewDatabaseServerAdapter creates the adapter serving document, view and replication requests
func NewDatabaseServerAdapter(peers PeerFactory) IRPCServerAdapter {
	return &databaseServerAdapterImpl{peers: peers}
}

type databaseServerAdapterImpl struct {
	peers PeerFactory
}

func (adapter *databaseServerAdapterImpl) Handle(ctx context.Context, req *common.Message, db *database.Database) *common.Message {
	// Check for nil database
	if db == nil {
		return common.NewErrorResponse("handler: database is nil")
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_rpc_requests_total{db=%q,type=%q}`, db.Name(), req.MsgType)).Inc()

	// Handle different message types
	switch req.MsgType {
	case common.MsgTDocGet:
		doc, err := getDocument(ctx, db, req.Key, req.Rev)
		if err != nil {
			return common.NewDocGetResponse(nil, err)
		}
		return common.NewDocGetResponse(&doc, nil)
	case common.MsgTDocPut:
		rev, err := db.SaveDocument(ctx, req.Key, req.Properties, req.Rev)
		return common.NewDocPutResponse(rev, err)
	case common.MsgTDocDelete:
		rev, err := db.DeleteDocument(ctx, req.Key, req.Rev)
		return common.NewDocDeleteResponse(rev, err)
	case common.MsgTDocAll:
		docs, err := db.AllDocuments(ctx)
		return common.NewDocAllResponse(docs, err)
	case common.MsgTChanges:
		changes, err := changes(ctx, db.Store(), req.Since, req.Limit, time.Duration(req.Wait)*time.Millisecond)
		return common.NewChangesResponse(changes, db.Store().LastSeq(), err)
	case common.MsgTRevsDiff:
		missing, err := db.Store().RevsDiff(ctx, req.Revs)
		return common.NewRevsDiffResponse(missing, err)
	case common.MsgTGetRevs:
		revs, err := replicator.NewLocalPeer(db.Store()).GetRevisions(ctx, req.RevRefs)
		return common.NewGetRevsResponse(revs, err)
	case common.MsgTPutRevs:
		conflicts, err := replicator.NewLocalPeer(db.Store()).PutRevisions(ctx, req.Revisions)
		return common.NewPutRevsResponse(conflicts, err)
	case common.MsgTViewRegister:
		if req.View == nil {
			return common.NewViewRegisterResponse(store.NewError(store.RetCInvalidOperation, "missing view definition"))
		}
		return common.NewViewRegisterResponse(db.Views().RegisterSpec(*req.View))
	case common.MsgTViewQuery:
		var opts view.QueryOptions
		if req.Query != nil {
			opts = *req.Query
		}
		rows, err := db.QueryView(ctx, req.Key, opts)
		return common.NewViewQueryResponse(rows, err)
	case common.MsgTReplicate:
		return adapter.replicate(ctx, req, db)
	case common.MsgTReplList:
		return common.NewReplListResponse(db.Replications())
	case common.MsgTReplStop:
		return common.NewReplStopResponse(db.StopReplication(req.Key))
	case common.MsgTInfo:
		info, err := db.Store().Info(ctx)
		if err != nil {
			return common.NewInfoResponse(nil, err)
		}
		return common.NewInfoResponse(&info, nil)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC DatabaseAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// getDocument returns the current document or, if rev is set, that revision
func getDocument(ctx context.Context, db *database.Database, id, rev string) (store.Document, error) {
	if rev == "" {
		return db.GetDocument(ctx, id)
	}
	r, err := db.Store().GetRevision(ctx, id, rev)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: r.DocID, Rev: r.RevID, Deleted: r.Deleted, Properties: r.Properties}, nil
}

// changes reads the feed after since. With a positive wait an empty result is
// held back until a change arrives, wait elapsed or ctx is done.
func changes(ctx context.Context, docs store.IDocStore, since uint64, limit int, wait time.Duration) ([]store.Change, error) {
	if wait <= 0 {
		return docs.ChangesSince(ctx, since, limit)
	}
	wait = min(wait, maxLongPoll)

	// subscribe before reading, so no change between read and wait is missed
	updates, cancel := docs.Subscribe()
	defer cancel()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		changes, err := docs.ChangesSince(ctx, since, limit)
		if err != nil || len(changes) > 0 {
			return changes, err
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-timer.C:
			return nil, nil
		case _, ok := <-updates:
			if !ok {
				return nil, store.NewError(store.RetCInvalidOperation, "store closed")
			}
		}
	}
}

// replicate starts a replication with the requested remote database. One-shot
// replications are awaited and stopped if the client goes away.
func (adapter *databaseServerAdapterImpl) replicate(ctx context.Context, req *common.Message, db *database.Database) *common.Message {
	if req.Replication == nil {
		return common.NewReplicateResponse(nil, nil, store.NewError(store.RetCInvalidOperation, "missing replication request"))
	}
	if adapter.peers == nil {
		return common.NewReplicateResponse(nil, nil, store.NewError(store.RetCUnsupportedOperation, "replication is not supported by this server"))
	}
	rr := *req.Replication

	peer, closePeer, err := adapter.peers(rr)
	if err != nil {
		return common.NewReplicateResponse(nil, nil, err)
	}

	repl, err := db.StartReplication(ctx, rr.Direction, peer, rr.Config)
	if err != nil {
		_ = closePeer()
		return common.NewReplicateResponse(nil, nil, err)
	}
	repl.OnStopped(func(replicator.Result) {
		if err := closePeer(); err != nil {
			Logger.Warningf("failed to close peer of replication %s: %v", repl.ID, err)
		}
	})
	info := []database.ReplicationInfo{{ID: repl.ID, State: repl.State().(replicator.ReplicatorState)}}

	if rr.Config.Continuous {
		return common.NewReplicateResponse(nil, info, nil)
	}

	res, err := repl.Wait(ctx)
	if err != nil {
		repl.Stop()
		return common.NewReplicateResponse(nil, info, err)
	}
	res.Err = nil // the message is the Error field
	return common.NewReplicateResponse(&res, info, nil)
}
