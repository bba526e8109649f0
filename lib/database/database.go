package database

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"sort"
	"sync"
)

var Logger = logger.GetLogger("database")

// Options configures a Database
type Options struct {
	ViewWorkers   int                  // concurrent map evaluations (0 = number of CPUs)
	EagerIndexing bool                 // index views in the background after every write
	Locks         lockmgr.ILockManager // shared lock manager (nil = private)
}

// Database is the explicit context object that owns a document store, its view
// engine and its replications. All operations of the application go through it.
type Database struct {
	name  string
	docs  store.IDocStore
	views *view.Engine
	locks lockmgr.ILockManager

	repls *xsync.MapOf[string, *Replication]

	ctx    context.Context // lifetime of background work
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a database named name on top of a db created by factory.
func New(name string, factory store.DBFactory, opts *Options) (*Database, error) {
	if name == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "database name must not be empty")
	}
	if opts == nil {
		opts = &Options{}
	}
	locks := opts.Locks
	if locks == nil {
		locks = lockmgr.NewLockManager(maple.NewMapleDB(&maple.DBOptions{NumShards: 1}))
	}

	docs := lstore.NewLocalStore(factory)
	ctx, cancel := context.WithCancel(context.Background())
	d := &Database{
		name:   name,
		docs:   docs,
		views:  view.NewEngine(docs, &view.Options{Name: name, Workers: opts.ViewWorkers}),
		locks:  locks,
		repls:  xsync.NewMapOf[string, *Replication](),
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.EagerIndexing {
		d.views.Start(ctx)
	}
	return d, nil
}

// Name returns the database name
func (d *Database) Name() string { return d.name }

// Store returns the underlying document store
func (d *Database) Store() store.IDocStore { return d.docs }

// Views returns the view engine
func (d *Database) Views() *view.Engine { return d.views }

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

// SaveDocument creates or updates a document. rev must be the current revision
// for updates and empty for new documents.
func (d *Database) SaveDocument(ctx context.Context, id string, props store.Properties, rev string) (string, error) {
	return d.docs.Put(ctx, id, props, rev)
}

// GetDocument returns the current revision of a document
func (d *Database) GetDocument(ctx context.Context, id string) (store.Document, error) {
	return d.docs.Get(ctx, id)
}

// DeleteDocument tombstones a document
func (d *Database) DeleteDocument(ctx context.Context, id, rev string) (string, error) {
	return d.docs.Delete(ctx, id, rev)
}

// AllDocuments returns all live documents ordered by id
func (d *Database) AllDocuments(ctx context.Context) ([]store.Document, error) {
	return d.docs.AllDocs(ctx)
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// RegisterView installs or updates a view (idempotent by name and version)
func (d *Database) RegisterView(name string, fn view.MapFunc, version string) error {
	return d.views.Register(name, fn, version)
}

// QueryView queries a view. Unknown views fail with store.ErrViewNotFound.
func (d *Database) QueryView(ctx context.Context, name string, opts view.QueryOptions) ([]view.Row, error) {
	return d.views.Query(ctx, name, opts)
}

// ApplyViewDefinitions registers declarative views
func (d *Database) ApplyViewDefinitions(specs []view.Spec) error {
	return d.views.ApplyDefinitions(specs)
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// Replication is the handle of a replication started by a Database
type Replication struct {
	ID string
	*replicator.Replicator
}

// ReplicationInfo describes an active replication
type ReplicationInfo struct {
	ID    string                     `json:"id"`
	State replicator.ReplicatorState `json:"state"`
}

// StartReplication starts a replication with a remote peer and returns its handle.
// The replication runs until it completes, fails, is stopped or the database is
// closed. It is not bound to ctx, which is only checked before starting.
func (d *Database) StartReplication(ctx context.Context, direction replicator.Direction, remote replicator.IPeer, cfg replicator.Config) (*Replication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.ctx.Err() != nil {
		return nil, store.NewError(store.RetCInvalidOperation, "database is closed")
	}

	cfg.Direction = direction
	r, err := replicator.New(d.docs, remote, d.locks, cfg)
	if err != nil {
		return nil, err
	}

	repl := &Replication{ID: uuid.NewString(), Replicator: r}
	d.repls.Store(repl.ID, repl)
	r.OnStopped(func(res replicator.Result) {
		d.repls.Delete(repl.ID)
		if res.Success {
			Logger.Infof("database %s: %s replication %s completed at sequence %d", d.name, direction, repl.ID, res.Sequence)
		} else {
			Logger.Infof("database %s: %s replication %s ended: %s", d.name, direction, repl.ID, res.Error)
		}
	})

	if err := r.Start(d.ctx); err != nil {
		d.repls.Delete(repl.ID)
		return nil, err
	}
	return repl, nil
}

// Replications lists the active replications ordered by id
func (d *Database) Replications() []ReplicationInfo {
	infos := make([]ReplicationInfo, 0)
	d.repls.Range(func(id string, r *Replication) bool {
		infos = append(infos, ReplicationInfo{ID: id, State: r.State().(replicator.ReplicatorState)})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Replication returns the handle of an active replication
func (d *Database) Replication(id string) (*Replication, bool) {
	return d.repls.Load(id)
}

// StopReplication stops an active replication and waits for it to end.
// It returns false if no replication with this id is active.
func (d *Database) StopReplication(id string) bool {
	r, ok := d.repls.Load(id)
	if !ok {
		return false
	}
	r.Stop()
	return true
}

// --------------------------------------------------------------------------
// Management
// --------------------------------------------------------------------------

// Save writes a snapshot of the document store
func (d *Database) Save(w io.Writer) error {
	return d.docs.Save(w)
}

// Load replaces the document store content with a snapshot.
// Views notice the new feed on their next update.
func (d *Database) Load(r io.Reader) error {
	return d.docs.Load(r)
}

// Close stops all replications and the background indexer and closes the store.
func (d *Database) Close() error {
	var err error
	d.once.Do(func() {
		d.cancel()
		d.repls.Range(func(_ string, r *Replication) bool {
			r.Stop()
			return true
		})
		d.views.Close()
		if cerr := d.docs.Close(); cerr != nil {
			err = fmt.Errorf("close database %s: %w", d.name, cerr)
		}
	})
	return err
}
