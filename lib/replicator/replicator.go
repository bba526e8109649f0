package replicator

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/aretw0/introspection"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"sort"
	"sync"
	"time"
)

var Logger = logger.GetLogger("replicator")

// fetchChunkSize is the number of revisions requested from the source per call
const fetchChunkSize = 50

// fetchParallelism bounds concurrent revision fetches per batch
const fetchParallelism = 4

// --------------------------------------------------------------------------
// Replicator
// --------------------------------------------------------------------------

// Replicator runs one replication between a local store and a remote peer.
// A Replicator is started once; create a new one to run again. Runs resume
// from the persisted checkpoint.
type Replicator struct {
	cfg    Config
	local  store.IDocStore
	remote IPeer
	source IPeer
	target IPeer
	locks  lockmgr.ILockManager

	mu           sync.Mutex
	state        State
	progress     Progress
	result       *Result
	checkpointID string
	peerID       string
	onProgress   []func(Progress)
	onStopped    []func(Result)
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}

	docsCounter    *metrics.Counter
	batchesCounter *metrics.Counter
	retriesCounter *metrics.Counter
}

// New creates a replicator between the local store and a remote peer.
// The lock manager guards checkpoints against concurrent runs; pass the same
// lock manager to all replicators of a store. A nil lock manager creates a private one.
func New(local store.IDocStore, remote IPeer, locks lockmgr.ILockManager, cfg Config) (*Replicator, error) {
	if local == nil || remote == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "replication needs a local store and a remote peer")
	}
	if cfg.Direction != Push && cfg.Direction != Pull {
		return nil, store.Errorf(store.RetCInvalidOperation, "invalid direction %d", cfg.Direction)
	}
	if cfg.Filter != "" && !doublestar.ValidatePattern(cfg.Filter) {
		return nil, store.Errorf(store.RetCInvalidOperation, "invalid filter pattern %q", cfg.Filter)
	}
	if locks == nil {
		locks = lockmgr.NewLockManager(maple.NewMapleDB(&maple.DBOptions{NumShards: 1}))
	}

	cfg = cfg.withDefaults()
	r := &Replicator{
		cfg:    cfg,
		local:  local,
		remote: remote,
		locks:  locks,
		state:  Idle,
		done:   make(chan struct{}),

		docsCounter:    metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_replication_docs_total{direction=%q}`, cfg.Direction)),
		batchesCounter: metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_replication_batches_total{direction=%q}`, cfg.Direction)),
		retriesCounter: metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_replication_retries_total{direction=%q}`, cfg.Direction)),
	}
	r.progress.Direction = cfg.Direction

	localPeer := NewLocalPeer(local)
	if cfg.Direction == Push {
		r.source, r.target = localPeer, remote
	} else {
		r.source, r.target = remote, localPeer
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Handlers and Status
// --------------------------------------------------------------------------

// OnProgress registers a handler that is called after every applied batch and
// on state changes. Handlers run on the replication goroutine in registration order.
func (r *Replicator) OnProgress(fn func(Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress = append(r.onProgress, fn)
}

// OnStopped registers a handler that is called once when the run ends,
// successfully or not. Handlers registered after the end are called immediately.
func (r *Replicator) OnStopped(fn func(Result)) {
	r.mu.Lock()
	if r.result != nil {
		res := *r.result
		r.mu.Unlock()
		fn(res)
		return
	}
	r.onStopped = append(r.onStopped, fn)
	r.mu.Unlock()
}

// Config returns the effective configuration
func (r *Replicator) Config() Config {
	return r.cfg
}

// Status returns the current state
func (r *Replicator) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the latest progress
func (r *Replicator) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Done is closed when the run has ended and all stopped handlers returned
func (r *Replicator) Done() <-chan struct{} {
	return r.done
}

// Result returns the result of a finished run
func (r *Replicator) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Result{}, false
	}
	return *r.result, true
}

// Wait blocks until the run ended or ctx is done
func (r *Replicator) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		res, _ := r.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start runs the replication in the background. Cancelling ctx stops the run like Stop.
func (r *Replicator) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.result != nil {
		return store.NewError(store.RetCInvalidOperation, "replicator was already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.run(runCtx)
	return nil
}

// Stop cancels the run and waits until it ended. The checkpoint never advances
// past a partially applied batch. Stop is idempotent.
func (r *Replicator) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()

	if !started {
		r.finish(Result{State: Stopped, Err: ErrStopped})
		return
	}
	cancel()
	<-r.done
}

// --------------------------------------------------------------------------
// Run Loop
// --------------------------------------------------------------------------

func (r *Replicator) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.progress.State = s
	p := r.progress
	handlers := append([]func(Progress){}, r.onProgress...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(p)
	}
}

func (r *Replicator) report(update func(p *Progress)) {
	r.mu.Lock()
	update(&r.progress)
	p := r.progress
	handlers := append([]func(Progress){}, r.onProgress...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(p)
	}
}

// finish records the result, calls the stopped handlers and closes done.
// Only the first call has an effect.
func (r *Replicator) finish(res Result) {
	r.mu.Lock()
	if r.result != nil {
		r.mu.Unlock()
		return
	}
	res.Sequence = r.progress.Sequence
	res.DocsTransferred = r.progress.DocsTransferred
	res.Conflicts = r.progress.Conflicts
	res.Success = res.Err == nil
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	r.state = res.State
	r.progress.State = res.State
	r.result = &res
	handlers := r.onStopped
	r.onStopped = nil
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(res)
	}
	close(r.done)
}

// fail ends the run, mapping cancellation to Stopped
func (r *Replicator) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		Logger.Infof("%s replication with %s stopped", r.cfg.Direction, r.peerID)
		r.finish(Result{State: Stopped, Err: ErrStopped})
		return
	}
	Logger.Errorf("%s replication with %s failed: %v", r.cfg.Direction, r.peerID, err)
	r.finish(Result{State: Failed, Err: err})
}

func (r *Replicator) run(ctx context.Context) {
	defer r.cancel()
	r.setState(Connecting)

	// identify both sides
	var localID, peerID string
	err := r.retry(ctx, "connect", func() error {
		info, err := r.local.Info(ctx)
		if err != nil {
			return err
		}
		localID = info.UUID
		peerID, err = r.remote.ID(ctx)
		return err
	})
	if err != nil {
		r.fail(ctx, fmt.Errorf("connect: %w", err))
		return
	}

	cpID := CheckpointID(localID, peerID, r.cfg.Direction, r.cfg.Filter)
	r.mu.Lock()
	r.peerID, r.checkpointID = peerID, cpID
	r.mu.Unlock()

	// only one run per checkpoint
	ok, owner, err := r.locks.AcquireLock(cpID)
	if err != nil {
		r.fail(ctx, err)
		return
	}
	if !ok {
		r.fail(ctx, ErrAlreadyRunning)
		return
	}
	defer func() {
		if _, err := r.locks.ReleaseLock(cpID, owner); err != nil {
			Logger.Warningf("failed to release checkpoint lock %s: %v", cpID, err)
		}
	}()

	checkpointer := NewCheckpointer(r.local, cpID, peerID, r.cfg.Direction)
	since, err := checkpointer.Load(ctx)
	if err != nil {
		r.fail(ctx, err)
		return
	}
	r.report(func(p *Progress) { p.Sequence = since })
	Logger.Infof("%s replication with %s starts at sequence %d", r.cfg.Direction, peerID, since)

	r.setState(Transferring)
	waitFailures := 0
	for {
		var changes []store.Change
		err := r.retry(ctx, "changes", func() (err error) {
			changes, err = r.source.Changes(ctx, since, r.cfg.BatchSize)
			return err
		})
		if err != nil {
			r.fail(ctx, fmt.Errorf("read changes: %w", err))
			return
		}

		if len(changes) == 0 {
			if !r.cfg.Continuous {
				Logger.Infof("%s replication with %s completed at sequence %d", r.cfg.Direction, peerID, since)
				r.finish(Result{State: Completed})
				return
			}

			if r.Status() != Completed {
				r.setState(Completed)
			}
			if err := r.waitForChanges(ctx, since); err != nil {
				if ctx.Err() != nil {
					r.fail(ctx, err)
					return
				}
				waitFailures++
				if waitFailures > r.cfg.MaxRetries {
					r.fail(ctx, fmt.Errorf("wait for changes: %w", err))
					return
				}
				r.retriesCounter.Inc()
				if !sleep(ctx, r.backoff(waitFailures-1)) {
					r.fail(ctx, ctx.Err())
					return
				}
			} else {
				waitFailures = 0
			}
			continue
		}

		if r.Status() != Transferring {
			r.setState(Transferring)
		}

		var stats batchStats
		err = r.retry(ctx, "apply batch", func() (err error) {
			stats, err = r.applyBatch(ctx, changes)
			return err
		})
		if err != nil {
			r.fail(ctx, fmt.Errorf("apply batch after sequence %d: %w", since, err))
			return
		}

		// the batch is fully applied, only now the checkpoint may advance
		last := changes[len(changes)-1].Seq
		if err := checkpointer.Save(ctx, last); err != nil {
			r.fail(ctx, fmt.Errorf("save checkpoint: %w", err))
			return
		}
		since = last

		r.batchesCounter.Inc()
		r.docsCounter.Add(stats.transferred)
		r.report(func(p *Progress) {
			p.Sequence = last
			p.DocsChecked += stats.checked
			p.DocsTransferred += stats.transferred
			p.Conflicts += stats.conflicts
		})
	}
}

// waitForChanges blocks until the source has changes after since
func (r *Replicator) waitForChanges(ctx context.Context, since uint64) error {
	err := r.source.WaitForChanges(ctx, since)
	if errors.Is(err, ErrWaitUnsupported) {
		if !sleep(ctx, r.cfg.PollInterval) {
			return ctx.Err()
		}
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// Batches
// --------------------------------------------------------------------------

type batchStats struct {
	checked     int
	transferred int
	conflicts   int
}

// applyBatch copies all revisions of the batch the target is missing.
// It is idempotent: applying the same batch twice writes nothing the second time.
func (r *Replicator) applyBatch(ctx context.Context, changes []store.Change) (batchStats, error) {
	var stats batchStats

	// collapse the batch to the set of revisions per document
	revs := make(map[string][]string)
	seen := make(map[store.RevRef]bool)
	for _, c := range changes {
		if !r.matches(c.ID) {
			continue
		}
		ref := store.RevRef{DocID: c.ID, RevID: c.Rev}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		revs[c.ID] = append(revs[c.ID], c.Rev)
	}
	stats.checked = len(seen)
	if len(revs) == 0 {
		return stats, nil
	}

	missing, err := r.target.RevsDiff(ctx, revs)
	if err != nil {
		return stats, fmt.Errorf("revs diff: %w", err)
	}

	var refs []store.RevRef
	for id, list := range missing {
		for _, rev := range list {
			refs = append(refs, store.RevRef{DocID: id, RevID: rev})
		}
	}
	if len(refs) == 0 {
		return stats, nil
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].DocID != refs[j].DocID {
			return refs[i].DocID < refs[j].DocID
		}
		return store.Generation(refs[i].RevID) < store.Generation(refs[j].RevID)
	})

	// fetch bodies from the source in parallel chunks
	chunks := make([][]store.Revision, (len(refs)+fetchChunkSize-1)/fetchChunkSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for i := range chunks {
		lo := i * fetchChunkSize
		hi := min(lo+fetchChunkSize, len(refs))
		g.Go(func() error {
			fetched, err := r.source.GetRevisions(gctx, refs[lo:hi])
			if err != nil {
				return err
			}
			chunks[i] = fetched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("get revisions: %w", err)
	}

	bodies := make([]store.Revision, 0, len(refs))
	for _, c := range chunks {
		bodies = append(bodies, c...)
	}

	conflicts, err := r.target.PutRevisions(ctx, bodies)
	if err != nil {
		return stats, fmt.Errorf("put revisions: %w", err)
	}
	stats.transferred = len(bodies)
	stats.conflicts = conflicts
	return stats, nil
}

func (r *Replicator) matches(id string) bool {
	if r.cfg.Filter == "" {
		return true
	}
	ok, err := doublestar.Match(r.cfg.Filter, id)
	return err == nil && ok
}

// --------------------------------------------------------------------------
// Retries
// --------------------------------------------------------------------------

// retry runs fn until it succeeds, the error is final or MaxRetries is exhausted.
// Errors of type *store.Error are final, all other errors count as transport failures.
func (r *Replicator) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var storeErr *store.Error
		if errors.As(err, &storeErr) || attempt >= r.cfg.MaxRetries {
			return err
		}

		wait := r.backoff(attempt)
		r.retriesCounter.Inc()
		Logger.Warningf("%s replication: %s failed (attempt %d/%d), retrying in %s: %v",
			r.cfg.Direction, op, attempt+1, r.cfg.MaxRetries+1, wait, err)
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// backoff returns the wait time before retry number attempt (starting at 0)
func (r *Replicator) backoff(attempt int) time.Duration {
	d := r.cfg.RetryBackoff
	for i := 0; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// ReplicatorState exposes internal state for observability.
type ReplicatorState struct {
	Direction  Direction `json:"direction"`
	State      State     `json:"state"`
	Peer       string    `json:"peer,omitempty"`
	Checkpoint string    `json:"checkpoint,omitempty"`
	Continuous bool      `json:"continuous"`
	Filter     string    `json:"filter,omitempty"`
	Progress   Progress  `json:"progress"`
	Error      string    `json:"error,omitempty"`
}

// State implements introspection.Introspectable.
func (r *Replicator) State() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := ReplicatorState{
		Direction:  r.cfg.Direction,
		State:      r.state,
		Peer:       r.peerID,
		Checkpoint: r.checkpointID,
		Continuous: r.cfg.Continuous,
		Filter:     r.cfg.Filter,
		Progress:   r.progress,
	}
	if r.result != nil {
		s.Error = r.result.Error
	}
	return s
}

// ComponentType implements introspection.Component.
func (r *Replicator) ComponentType() string {
	return "replicator"
}

var _ introspection.Introspectable = (*Replicator)(nil)
var _ introspection.Component = (*Replicator)(nil)
