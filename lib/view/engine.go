package view

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/aretw0/introspection"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("view")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures an Engine.
type Options struct {
	Name      string // name of the database, used as metrics label
	Workers   int    // concurrent map function evaluations (0 = number of CPUs)
	BatchSize int    // changes applied per published index state (0 = 500)
}

// DefaultOptions returns the default engine options
func DefaultOptions() *Options {
	return &Options{
		Name:      "default",
		Workers:   runtime.NumCPU(),
		BatchSize: 500,
	}
}

// --------------------------------------------------------------------------
// View
// --------------------------------------------------------------------------

// view is a registered view. A new version replaces the whole view object,
// so passes still running on the old object are discarded with it.
type view struct {
	name    string
	version string
	fn      MapFunc

	state atomic.Pointer[indexState]
	mu    sync.Mutex // serializes indexing passes

	passes    *metrics.Counter
	mapErrors *metrics.Counter
}

func newView(dbName, name, version string, fn MapFunc) *view {
	v := &view{
		name:      name,
		version:   version,
		fn:        fn,
		passes:    metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_view_passes_total{db=%q,view=%q}`, dbName, name)),
		mapErrors: metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_view_map_errors_total{db=%q,view=%q}`, dbName, name)),
	}
	v.state.Store(newIndexState())
	return v
}

// evaluate runs the map function and recovers from panics.
// A failing map function yields no emissions.
func (v *view) evaluate(doc store.Document) (emits []emission) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Warningf("map function of view %s panicked on document %s: %v", v.name, doc.ID, r)
			v.mapErrors.Inc()
			emits = nil
		}
	}()

	c := &collector{}
	if err := v.fn(doc, c); err != nil {
		Logger.Warningf("map function of view %s failed on document %s: %v", v.name, doc.ID, err)
		v.mapErrors.Inc()
		return nil
	}
	return c.emits
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine maintains the indexes of all registered views of one document store.
type Engine struct {
	store store.IDocStore
	opts  Options
	views *xsync.MapOf[string, *view]

	kick    chan struct{} // wakes the background indexer
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex // guards cancel
}

// NewEngine creates a view engine on top of a document store.
// Pass nil to use the default options.
func NewEngine(docs store.IDocStore, opts *Options) *Engine {
	o := DefaultOptions()
	if opts != nil {
		if opts.Name != "" {
			o.Name = opts.Name
		}
		if opts.Workers > 0 {
			o.Workers = opts.Workers
		}
		if opts.BatchSize > 0 {
			o.BatchSize = opts.BatchSize
		}
	}
	return &Engine{
		store: docs,
		opts:  *o,
		views: xsync.NewMapOf[string, *view](),
		kick:  make(chan struct{}, 1),
	}
}

// Register installs a view. Registering the same name and version again is a
// no-op (the map function of the existing view is kept). A different version
// replaces the view with an empty index that is rebuilt from sequence 0.
func (e *Engine) Register(name string, fn MapFunc, version string) error {
	if name == "" {
		return store.NewError(store.RetCInvalidOperation, "view name must not be empty")
	}
	if fn == nil {
		return store.Errorf(store.RetCInvalidOperation, "view %s has no map function", name)
	}

	replaced, installed := false, false
	e.views.Compute(name, func(old *view, loaded bool) (*view, bool) {
		if loaded && old.version == version {
			return old, false
		}
		replaced, installed = loaded, true
		return newView(e.opts.Name, name, version, fn), false
	})

	switch {
	case replaced:
		Logger.Infof("view %s replaced with version %s, rebuilding index", name, version)
	case installed:
		Logger.Infof("view %s registered with version %s", name, version)
	}
	if installed {
		e.wake()
	}
	return nil
}

// Unregister removes a view and drops its index.
func (e *Engine) Unregister(name string) bool {
	_, ok := e.views.LoadAndDelete(name)
	return ok
}

// Names returns the names of all registered views in sorted order.
func (e *Engine) Names() []string {
	var names []string
	e.views.Range(func(name string, _ *view) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Views returns information about all registered views.
func (e *Engine) Views() []ViewInfo {
	var infos []ViewInfo
	e.views.Range(func(_ string, v *view) bool {
		st := v.state.Load()
		infos = append(infos, ViewInfo{Name: v.name, Version: v.version, Seq: st.seq, Rows: st.tree.Len()})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (e *Engine) lookup(name string) (*view, error) {
	v, ok := e.views.Load(name)
	if !ok {
		return nil, store.Errorf(store.RetCViewNotFound, "view %s is not registered", name)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Indexing
// --------------------------------------------------------------------------

// Update brings the index of a view up to date with the change feed.
func (e *Engine) Update(ctx context.Context, name string) error {
	v, err := e.lookup(name)
	if err != nil {
		return err
	}
	return e.update(ctx, v)
}

// UpdateAll brings all views up to date. Errors of single views are joined.
func (e *Engine) UpdateAll(ctx context.Context) error {
	var errs []error
	e.views.Range(func(_ string, v *view) bool {
		if err := e.update(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("view %s: %w", v.name, err))
		}
		return ctx.Err() == nil
	})
	return errors.Join(errs...)
}

// update runs indexing passes until the view caught up with the feed.
// Each batch of changes is applied to a clone of the index and published at once.
func (e *Engine) update(ctx context.Context, v *view) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for {
		cur := v.state.Load()

		// the store went back in time (snapshot loaded), rebuild from scratch
		if last := e.store.LastSeq(); last < cur.seq {
			Logger.Warningf("view %s is at sequence %d but store is at %d, rebuilding", v.name, cur.seq, last)
			cur = newIndexState()
		}

		changes, err := e.store.ChangesSince(ctx, cur.seq, e.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			if cur != v.state.Load() {
				v.state.Store(cur)
			}
			return nil
		}

		// collapse to one evaluation per document
		seen := make(map[string]bool, len(changes))
		ids := make([]string, 0, len(changes))
		for _, c := range changes {
			if !seen[c.ID] {
				seen[c.ID] = true
				ids = append(ids, c.ID)
			}
		}

		results := make([][]emission, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Workers)
		for i, id := range ids {
			g.Go(func() error {
				doc, err := e.store.Get(gctx, id)
				if errors.Is(err, store.ErrNotFound) {
					// deleted documents emit nothing
					return nil
				}
				if err != nil {
					return err
				}
				results[i] = v.evaluate(doc)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		next := cur.clone()
		for i, id := range ids {
			next.replace(id, results[i])
		}
		next.seq = changes[len(changes)-1].Seq
		v.state.Store(next)
		v.passes.Inc()

		if len(changes) < e.opts.BatchSize {
			return nil
		}
	}
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Query returns the rows of a view. Unless opts.Stale is set, the index is
// updated before reading. Querying an unregistered view returns ErrViewNotFound.
func (e *Engine) Query(ctx context.Context, name string, opts QueryOptions) ([]Row, error) {
	v, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	if !opts.Stale {
		if err := e.update(ctx, v); err != nil {
			return nil, err
		}
	}
	return v.state.Load().scan(opts), nil
}

// --------------------------------------------------------------------------
// Background Indexer
// --------------------------------------------------------------------------

// Start runs an indexer that updates all views after every write.
// It stops when ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running.Store(true)

	updates, unsubscribe := e.store.Subscribe()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		defer unsubscribe()

		e.runIndexer(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case _, ok := <-updates:
				if !ok {
					return
				}
			case <-e.kick:
			}
			e.runIndexer(runCtx)
		}
	}()
}

func (e *Engine) runIndexer(ctx context.Context) {
	if err := e.UpdateAll(ctx); err != nil && ctx.Err() == nil {
		Logger.Errorf("background indexing failed: %v", err)
	}
}

func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Close stops the background indexer and waits for it to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// EngineState exposes internal state for observability.
type EngineState struct {
	Database  string     `json:"database"`
	Workers   int        `json:"workers"`
	BatchSize int        `json:"batch_size"`
	Running   bool       `json:"running"`
	StoreSeq  uint64     `json:"store_seq"`
	Views     []ViewInfo `json:"views"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	return EngineState{
		Database:  e.opts.Name,
		Workers:   e.opts.Workers,
		BatchSize: e.opts.BatchSize,
		Running:   e.running.Load(),
		StoreSeq:  e.store.LastSeq(),
		Views:     e.Views(),
	}
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "view-engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
