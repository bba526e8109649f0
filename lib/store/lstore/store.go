package lstore

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Key Layout
// --------------------------------------------------------------------------

const (
	docPrefix   = "_doc/"   // _doc/<id> -> docRecord (json)
	seqPrefix   = "_seq/"   // _seq/<seq> -> store.Change (json)
	localPrefix = "_local/" // _local/<id> -> raw bytes
	metaUUID    = "_meta/uuid"
	metaSeq     = "_meta/seq"
)

func docKey(id string) string    { return docPrefix + id }
func seqKey(seq uint64) string   { return seqPrefix + strconv.FormatUint(seq, 10) }
func localKey(id string) string  { return localPrefix + id }
func seqValue(seq uint64) []byte { return []byte(strconv.FormatUint(seq, 10)) }

func parseSeq(b []byte) uint64 {
	v, _ := strconv.ParseUint(string(b), 10, 64)
	return v
}

// docRecord is the stored representation of a document
type docRecord struct {
	ID   string         `json:"id"`
	Tree *store.RevTree `json:"tree"`
}

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

type storeImpl struct {
	db       db.KVDB
	uuid     atomic.Value // string
	writeMu  sync.Mutex   // serializes all document writes
	lastSeq  atomic.Uint64
	docCount atomic.Int64
	closed   atomic.Bool

	subs   *xsync.MapOf[uint64, chan uint64]
	nextID atomic.Uint64

	writes    *metrics.Counter
	conflicts *metrics.Counter
}

// NewLocalStore creates a new local document store instance.
// This store implementation is not distributed and only works on a single node.
// All state lives in the db.KVDB created by factory.
func NewLocalStore(factory store.DBFactory) store.IDocStore {
	s := &storeImpl{
		db:        factory(),
		subs:      xsync.NewMapOf[uint64, chan uint64](),
		writes:    metrics.GetOrCreateCounter("ddoc_store_writes_total"),
		conflicts: metrics.GetOrCreateCounter("ddoc_store_conflicts_total"),
	}
	s.db.SetIfUnset(metaUUID, []byte(uuid.NewString()))
	s.recover()
	return s
}

// recover restores the in-memory counters from the db content.
// It must be called while no writes are in progress.
func (s *storeImpl) recover() {
	id, _ := s.db.Get(metaUUID)
	s.uuid.Store(string(id))

	seq, _ := s.db.Get(metaSeq)
	s.lastSeq.Store(parseSeq(seq))

	var count int64
	s.db.Range(func(key string, value []byte) bool {
		if len(key) <= len(docPrefix) || key[:len(docPrefix)] != docPrefix {
			return true
		}
		var rec docRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			Logger.Warningf("skipping unreadable document record %s: %v", key, err)
			return true
		}
		if w := rec.Tree.Winner(); w != nil && !w.Deleted {
			count++
		}
		return true
	})
	s.docCount.Store(count)
}

// --------------------------------------------------------------------------
// Internal Helpers
// --------------------------------------------------------------------------

func (s *storeImpl) checkOpen(ctx context.Context) error {
	if s.closed.Load() {
		return store.NewError(store.RetCInvalidOperation, "store is closed")
	}
	if err := ctx.Err(); err != nil {
		return store.Errorf(store.RetCInternalError, "operation aborted: %v", err)
	}
	return nil
}

func (s *storeImpl) loadRecord(id string) (*docRecord, error) {
	raw, ok := s.db.Get(docKey(id))
	if !ok {
		return nil, nil
	}
	var rec docRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, store.Errorf(store.RetCInternalError, "corrupt record for %s: %v", id, err)
	}
	if rec.Tree == nil {
		rec.Tree = store.NewRevTree()
	}
	return &rec, nil
}

// commit stores the record and appends a change entry.
// The change only becomes visible to readers after the record is stored.
//
// Thread-safety: must be called with writeMu held.
func (s *storeImpl) commit(rec *docRecord, node *store.RevNode, wasLive bool) (uint64, error) {
	seq := s.lastSeq.Load() + 1
	node.Seq = seq

	recBytes, err := json.Marshal(rec)
	if err != nil {
		return 0, store.Errorf(store.RetCInternalError, "encode record %s: %v", rec.ID, err)
	}
	changeBytes, err := json.Marshal(store.Change{Seq: seq, ID: rec.ID, Rev: node.Rev, Deleted: node.Deleted})
	if err != nil {
		return 0, store.Errorf(store.RetCInternalError, "encode change %d: %v", seq, err)
	}

	s.db.Set(docKey(rec.ID), recBytes)
	s.db.Set(seqKey(seq), changeBytes)
	s.db.Set(metaSeq, seqValue(seq))
	s.lastSeq.Store(seq)

	w := rec.Tree.Winner()
	isLive := w != nil && !w.Deleted
	switch {
	case isLive && !wasLive:
		s.docCount.Add(1)
	case !isLive && wasLive:
		s.docCount.Add(-1)
	}

	s.writes.Inc()
	s.notify(seq)
	return seq, nil
}

// notify publishes seq to all subscribers without blocking.
// A full channel is drained first so that the subscriber sees the newest sequence.
//
// Thread-safety: must be called with writeMu held.
func (s *storeImpl) notify(seq uint64) {
	s.subs.Range(func(_ uint64, ch chan uint64) bool {
		select {
		case ch <- seq:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- seq:
			default:
			}
		}
		return true
	})
}

func isLive(rec *docRecord) bool {
	if rec == nil {
		return false
	}
	w := rec.Tree.Winner()
	return w != nil && !w.Deleted
}

func toDocument(rec *docRecord) store.Document {
	w := rec.Tree.Winner()
	live := rec.Tree.LiveLeaves()
	var conflicts []string
	for _, rev := range live {
		if rev != w.Rev {
			conflicts = append(conflicts, rev)
		}
	}
	return store.Document{
		ID:         rec.ID,
		Rev:        w.Rev,
		Deleted:    w.Deleted,
		Properties: w.Properties,
		Conflicts:  conflicts,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(ctx context.Context, id string) (store.Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return store.Document{}, err
	}
	rec, err := s.loadRecord(id)
	if err != nil {
		return store.Document{}, err
	}
	if !isLive(rec) {
		return store.Document{}, store.Errorf(store.RetCNotFound, "document %s not found", id)
	}
	return toDocument(rec), nil
}

func (s *storeImpl) GetRevision(ctx context.Context, id, rev string) (store.Revision, error) {
	if err := s.checkOpen(ctx); err != nil {
		return store.Revision{}, err
	}
	rec, err := s.loadRecord(id)
	if err != nil {
		return store.Revision{}, err
	}
	if rec == nil {
		return store.Revision{}, store.Errorf(store.RetCNotFound, "document %s not found", id)
	}
	node, ok := rec.Tree.Get(rev)
	if !ok || node.Missing {
		return store.Revision{}, store.Errorf(store.RetCNotFound, "revision %s of %s not found", rev, id)
	}
	return store.Revision{
		DocID:      id,
		RevID:      node.Rev,
		Deleted:    node.Deleted,
		Properties: node.Properties,
		History:    rec.Tree.History(rev),
	}, nil
}

func (s *storeImpl) Put(ctx context.Context, id string, props store.Properties, expectedRev string) (string, error) {
	return s.write(ctx, id, props, expectedRev, false)
}

func (s *storeImpl) Delete(ctx context.Context, id string, expectedRev string) (string, error) {
	return s.write(ctx, id, nil, expectedRev, true)
}

// write appends a new local revision on top of the current winner
func (s *storeImpl) write(ctx context.Context, id string, props store.Properties, expectedRev string, deleted bool) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	if id == "" {
		return "", store.NewError(store.RetCInvalidOperation, "document id must not be empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.loadRecord(id)
	if err != nil {
		return "", err
	}

	wasLive := isLive(rec)
	parent := ""
	if rec != nil {
		parent = rec.Tree.Winner().Rev
	}

	switch {
	case deleted && !wasLive:
		return "", store.Errorf(store.RetCNotFound, "document %s not found", id)
	case wasLive && expectedRev != parent:
		return "", store.Errorf(store.RetCConflict, "document %s is at revision %s, not %q", id, parent, expectedRev)
	case !wasLive && expectedRev != "" && expectedRev != parent:
		return "", store.Errorf(store.RetCConflict, "document %s is deleted or new, revision %q does not match", id, expectedRev)
	}

	if rec == nil {
		rec = &docRecord{ID: id, Tree: store.NewRevTree()}
	}

	revID, err := store.NewRevID(parent, deleted, props)
	if err != nil {
		return "", err
	}
	rev := revID.String()
	if rec.Tree.Has(rev) {
		return "", store.Errorf(store.RetCConflict, "revision %s of %s already exists", rev, id)
	}

	if err := rec.Tree.Insert(store.RevNode{Rev: rev, Parent: parent, Deleted: deleted, Properties: props}); err != nil {
		return "", err
	}
	node, _ := rec.Tree.Get(rev)
	if _, err := s.commit(rec, node, wasLive); err != nil {
		return "", err
	}
	return rev, nil
}

func (s *storeImpl) AllDocs(ctx context.Context) ([]store.Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var docs []store.Document
	var rangeErr error
	s.db.Range(func(key string, value []byte) bool {
		if len(key) <= len(docPrefix) || key[:len(docPrefix)] != docPrefix {
			return true
		}
		var rec docRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			rangeErr = store.Errorf(store.RetCInternalError, "corrupt record %s: %v", key, err)
			return false
		}
		if isLive(&rec) {
			docs = append(docs, toDocument(&rec))
		}
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *storeImpl) PutRevision(ctx context.Context, rev store.Revision) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := store.ValidateRevision(rev); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.loadRecord(rev.DocID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		rec = &docRecord{ID: rev.DocID, Tree: store.NewRevTree()}
	}

	if existing, ok := rec.Tree.Get(rev.RevID); ok {
		if existing.Missing {
			// body of a known ancestor arrived late, the leaves do not change
			existing.Missing = false
			existing.Deleted = rev.Deleted
			existing.Properties = rev.Properties
			recBytes, err := json.Marshal(rec)
			if err != nil {
				return false, store.Errorf(store.RetCInternalError, "encode record %s: %v", rec.ID, err)
			}
			s.db.Set(docKey(rec.ID), recBytes)
		}
		return false, nil
	}

	wasLive := isLive(rec)

	// insert missing ancestors, oldest first
	for i := len(rev.History) - 1; i >= 0; i-- {
		h := rev.History[i]
		if !rec.Tree.Has(h) {
			parent := ""
			if i+1 < len(rev.History) {
				parent = rev.History[i+1]
			}
			if err := rec.Tree.Insert(store.RevNode{Rev: h, Parent: parent, Missing: true}); err != nil {
				return false, err
			}
		}
		// a root stored from a shorter history gets its ancestor as parent
		if i > 0 {
			if _, err := rec.Tree.Link(rev.History[i-1], h); err != nil {
				return false, err
			}
		}
	}

	parent := ""
	if len(rev.History) > 0 {
		parent = rev.History[0]
	}
	if err := rec.Tree.Insert(store.RevNode{Rev: rev.RevID, Parent: parent, Deleted: rev.Deleted, Properties: rev.Properties}); err != nil {
		return false, err
	}

	conflict := false
	if live := rec.Tree.LiveLeaves(); !rev.Deleted && len(live) > 1 {
		for _, l := range live {
			if l == rev.RevID {
				conflict = true
				break
			}
		}
	}

	node, _ := rec.Tree.Get(rev.RevID)
	if _, err := s.commit(rec, node, wasLive); err != nil {
		return false, err
	}
	if conflict {
		s.conflicts.Inc()
		Logger.Infof("document %s has conflicting revisions %v", rev.DocID, rec.Tree.LiveLeaves())
	}
	return conflict, nil
}

func (s *storeImpl) RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	missing := make(map[string][]string)
	for id, list := range revs {
		rec, err := s.loadRecord(id)
		if err != nil {
			return nil, err
		}
		for _, rev := range list {
			if rec == nil || !rec.Tree.Has(rev) {
				missing[id] = append(missing[id], rev)
			}
		}
	}
	return missing, nil
}

func (s *storeImpl) ChangesSince(ctx context.Context, since uint64, limit int) ([]store.Change, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	last := s.lastSeq.Load()
	var changes []store.Change
	for seq := since + 1; seq <= last; seq++ {
		if limit > 0 && len(changes) >= limit {
			break
		}
		if seq%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, store.Errorf(store.RetCInternalError, "operation aborted: %v", err)
			}
		}
		raw, ok := s.db.Get(seqKey(seq))
		if !ok {
			return nil, store.Errorf(store.RetCInternalError, "change log is missing sequence %d", seq)
		}
		var c store.Change
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, store.Errorf(store.RetCInternalError, "corrupt change %d: %v", seq, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func (s *storeImpl) LastSeq() uint64 {
	return s.lastSeq.Load()
}

func (s *storeImpl) Subscribe() (<-chan uint64, func()) {
	id := s.nextID.Add(1)
	ch := make(chan uint64, 1)

	s.writeMu.Lock()
	if s.closed.Load() {
		close(ch)
	} else {
		s.subs.Store(id, ch)
	}
	s.writeMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.writeMu.Lock()
			defer s.writeMu.Unlock()
			if c, ok := s.subs.LoadAndDelete(id); ok {
				close(c)
			}
		})
	}
}

func (s *storeImpl) GetLocal(ctx context.Context, id string) ([]byte, bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, false, err
	}
	v, ok := s.db.Get(localKey(id))
	return v, ok, nil
}

func (s *storeImpl) PutLocal(ctx context.Context, id string, value []byte) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if id == "" {
		return store.NewError(store.RetCInvalidOperation, "local document id must not be empty")
	}
	s.db.Set(localKey(id), value)
	return nil
}

func (s *storeImpl) Info(ctx context.Context) (store.Info, error) {
	if err := s.checkOpen(ctx); err != nil {
		return store.Info{}, err
	}
	return store.Info{
		UUID:     s.uuid.Load().(string),
		DocCount: s.docCount.Load(),
		LastSeq:  s.lastSeq.Load(),
		Engine:   s.db.GetInfo(),
	}, nil
}

func (s *storeImpl) Save(w io.Writer) error {
	if !s.db.SupportsFeature(db.FeatureSave) {
		return store.NewError(store.RetCUnsupportedOperation, "Save operation is not supported")
	}
	// hold the writer lock so the snapshot contains whole writes only
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Save(w); err != nil {
		return store.Errorf(store.RetCInternalError, "save snapshot: %v", err)
	}
	return nil
}

func (s *storeImpl) Load(r io.Reader) error {
	if !s.db.SupportsFeature(db.FeatureLoad) {
		return store.NewError(store.RetCUnsupportedOperation, "Load operation is not supported")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prevSeq := s.lastSeq.Load()
	if err := s.db.Load(r); err != nil {
		return store.Errorf(store.RetCInternalError, "load snapshot: %v", err)
	}
	s.db.SetIfUnset(metaUUID, []byte(uuid.NewString()))
	s.recover()

	if s.lastSeq.Load() < prevSeq {
		Logger.Warningf("loaded snapshot at sequence %d, store was at %d", s.lastSeq.Load(), prevSeq)
	}
	s.notify(s.lastSeq.Load())
	return nil
}

func (s *storeImpl) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	s.subs.Range(func(id uint64, ch chan uint64) bool {
		s.subs.Delete(id)
		close(ch)
		return true
	})
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}
