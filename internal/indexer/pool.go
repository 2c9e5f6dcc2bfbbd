package indexer

import (
	"context"
	"os"
	"sync"
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"cxref/internal/analyzer"
	"cxref/internal/cachestore"
	"cxref/internal/delta"
	"cxref/internal/indexfile"
	"cxref/internal/indexqueue"
	"cxref/internal/logging"
	"cxref/internal/project"
	"cxref/internal/session"
	"cxref/internal/vfs"
	"cxref/internal/xerrors"
)

// Config controls one Pool.
type Config struct {
	NumWorkers      int
	IndexOnChange   bool
	Comments        analyzer.CommentPolicy
	NoLinkage       bool
	// TrackDependency mirrors config.IndexConfig.TrackDependency (§4.6/§7):
	// 0 never re-verifies a cached record's dependency mtimes, 1 verifies
	// once per path then trusts it, 2 verifies on every cache-only attempt.
	TrackDependency int
	// SessionMaxNum bounds the live preamble-session count (§4.8); 0 takes
	// session.NewManager's own default.
	SessionMaxNum int
}

// Pool is the parallel indexer worker group of §4.7: each worker pops an
// IndexRequest, resolves it to zero or more IndexUpdates, and pushes those
// onto OnIndexed for the single apply-loop goroutine to consume.
type Pool struct {
	cfg     Config
	vfs     *vfs.VFS
	project *project.Model
	cache   *cachestore.Store
	an      analyzer.Analyzer
	logger  *logging.Logger

	// sessions owns the per-main-file preamble cache (§4.8). fullParse
	// consults it before every full parse so concurrent reparses of the
	// same main file collapse into one preamble build via singleflight,
	// and an unchanged preamble skips rebuilding work entirely.
	sessions *session.Manager

	Requests  *indexqueue.Queue[IndexRequest]
	OnIndexed *indexqueue.Queue[*delta.IndexUpdate]
	ForStdout *indexqueue.Queue[OutgoingMessage]
	Waiter    *indexqueue.Waiter

	prevMu sync.Mutex
	prev   map[string]*indexfile.IndexFile

	// depCheckedMu/depChecked back TrackDependency==1 ("check once"): the
	// first cache-only attempt for a path verifies its dependency mtimes;
	// every later attempt this process lifetime trusts the cache outright.
	depCheckedMu sync.Mutex
	depChecked   map[string]bool

	// pending is the sparse set of file-ids awaiting a rescan after an
	// include-graph change (a header's dependents), keyed by a path's
	// xxhash rather than the Query DB's own FileID space, which this
	// package does not own.
	pendingMu sync.Mutex
	pending   *roaring.Bitmap
}

// New returns a Pool wired to the given collaborators and queues.
func New(cfg Config, v *vfs.VFS, proj *project.Model, cache *cachestore.Store, an analyzer.Analyzer, logger *logging.Logger, requests *indexqueue.Queue[IndexRequest], onIndexed *indexqueue.Queue[*delta.IndexUpdate], forStdout *indexqueue.Queue[OutgoingMessage], waiter *indexqueue.Waiter) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return &Pool{
		cfg:        cfg,
		vfs:        v,
		project:    proj,
		cache:      cache,
		an:         an,
		logger:     logger,
		sessions:   session.NewManager(&session.AnalyzerBuilder{An: an}, cfg.SessionMaxNum),
		Requests:   requests,
		OnIndexed:  onIndexed,
		ForStdout:  forStdout,
		Waiter:     waiter,
		prev:       make(map[string]*indexfile.IndexFile),
		depChecked: make(map[string]bool),
		pending:    roaring.New(),
	}
}

// Run blocks, running cfg.NumWorkers worker goroutines until ctx is
// cancelled or Requests is closed, then waits for in-flight requests to
// finish draining (§5 "indexer workers drain in-flight request ... then all
// threads join before process exit").
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.NumWorkers; i++ {
		g.Go(func() error {
			p.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		req, ok := p.Requests.PopCtx(ctx)
		if !ok {
			return
		}
		p.handleRequest(ctx, req)
	}
}

func (p *Pool) handleRequest(ctx context.Context, req IndexRequest) {
	if req.Path == "" {
		p.publish(&delta.IndexUpdate{Path: "", FileID: -1})
		return
	}

	args, ok := p.project.FindEntry(req.Path)
	if !ok {
		if req.MustExist {
			p.logger.Warn("index request dropped: no compile entry", map[string]interface{}{"path": req.Path})
			return
		}
		args = req.Args
	}

	if req.Mode == Delete {
		p.handleDelete(req.Path)
		return
	}

	level := p.reparseLevel(req)

	mu := p.vfs.GetFileMutex(req.Path)
	mu.Lock()
	defer mu.Unlock()

	if level < 2 {
		if p.tryCacheOnly(req.Path) {
			return
		}
		// Fall through to a full parse: no usable cache entry.
	}

	p.fullParse(ctx, req.Path, args)
}

// reparseLevel implements the §4.7 step-4 decision: Delete requests and
// on-change edits (when enabled) always force a full parse; everything else
// defers to the VFS step ladder.
func (p *Pool) reparseLevel(req IndexRequest) int {
	if req.Mode == OnChange && p.cfg.IndexOnChange {
		return 2
	}
	st := p.vfs.Get(req.Path)
	if st.Step == vfs.StepUnseen || st.Step == vfs.StepFullLinkageInProgress {
		return 1
	}
	return 2
}

// tryCacheOnly attempts the level<2 fast path: reuse the previously cached
// IndexFile as-is, publishing a pure-add update and bumping the loaded
// counter, without invoking the Analyzer. Returns false on a cache miss or
// when a dependency's on-disk mtime no longer matches the cached record
// (§4.7 step 5): "verify timestamps on all dependencies ... then for each
// dependency try the same under getFileMutex(dep)".
func (p *Pool) tryCacheOnly(path string) bool {
	rec, ok := p.cache.Load(path)
	if !ok {
		return false
	}
	if !p.dependenciesUnchanged(path, rec.Index) {
		return false
	}

	p.vfs.Stamp(path, rec.Index.MTime, vfs.StepDependencyFromCache)
	p.vfs.IncrementLoaded(path)

	p.prevMu.Lock()
	p.prev[path] = rec.Index
	p.prevMu.Unlock()

	update := delta.Diff(nil, rec.Index)
	p.publish(update)

	for dep := range rec.Index.Dependencies {
		p.tryCacheOnlyDependency(dep)
	}
	return true
}

// tryCacheOnlyDependency is the one-level-deep recursive half of step 5:
// under the dependency's own file mutex, reuse its cache entry the same way
// tryCacheOnly does for the requested path, skipping it if some other
// request has already brought it up to date this process lifetime.
func (p *Pool) tryCacheOnlyDependency(dep string) {
	if p.vfs.Get(dep).Step != vfs.StepUnseen {
		return
	}

	mu := p.vfs.GetFileMutex(dep)
	mu.Lock()
	defer mu.Unlock()

	if p.vfs.Get(dep).Step != vfs.StepUnseen {
		return
	}

	rec, ok := p.cache.Load(dep)
	if !ok {
		return
	}
	if !p.dependenciesUnchanged(dep, rec.Index) {
		return
	}

	p.vfs.Stamp(dep, rec.Index.MTime, vfs.StepDependencyFromCache)
	p.vfs.IncrementLoaded(dep)

	p.prevMu.Lock()
	p.prev[dep] = rec.Index
	p.prevMu.Unlock()

	p.publish(delta.Diff(nil, rec.Index))
}

// dependenciesUnchanged implements the three TrackDependency levels
// (config.IndexConfig.TrackDependency / SPEC_FULL §4): 0 never checks and
// always trusts the cache, 1 checks only the first time a path is served
// from cache-only this process lifetime, 2 checks every time.
func (p *Pool) dependenciesUnchanged(path string, idx *indexfile.IndexFile) bool {
	switch p.cfg.TrackDependency {
	case 0:
		return true
	case 1:
		p.depCheckedMu.Lock()
		already := p.depChecked[path]
		p.depChecked[path] = true
		p.depCheckedMu.Unlock()
		if already {
			return true
		}
		return statDependencies(idx)
	default:
		return statDependencies(idx)
	}
}

// statDependencies reports whether every dependency's on-disk mtime still
// matches the value recorded at the cached record's last parse.
func statDependencies(idx *indexfile.IndexFile) bool {
	for dep, wantMTime := range idx.Dependencies {
		info, err := os.Stat(dep)
		if err != nil {
			return false
		}
		if info.ModTime().UnixNano() != wantMTime {
			return false
		}
	}
	return true
}

// fullParse invokes the Analyzer, diffs every resulting IndexFile against
// its prior snapshot, persists each via the cache store, and publishes one
// IndexUpdate per translation unit touched (the main file plus any header
// the multi-version matcher or the Analyzer itself surfaced). Before
// parsing it rebuilds path's preamble session, and it runs the Analyzer once
// per multi-version rule set that matches path (SPEC_FULL §4), diffing every
// resulting variant against the same pre-parse snapshot.
func (p *Pool) fullParse(ctx context.Context, path string, args []string) {
	headerOnly := project.IsHeaderOnly(path)
	noLinkage := p.cfg.NoLinkage
	if headerOnly && p.vfs.Get(path).Step == vfs.StepUnseen {
		// First-ever pass over a header-only file: a cheap no-linkage scan
		// (§4.5 step 1). A later reparse, once some full-linkage TU has
		// pulled it in, escalates past StepHeaderOnlyScheduled.
		noLinkage = true
	}

	if buf, err := os.ReadFile(path); err == nil {
		bounds := session.ComputeBounds(buf)
		if _, err := p.sessions.Rebuild(ctx, path, args, buf, bounds); err != nil {
			p.logger.Warn("preamble rebuild failed", map[string]interface{}{"path": path, "error": err.Error()})
		}
	}

	extraArgSets := p.project.MultiVersion.Match(path)
	if len(extraArgSets) == 0 {
		extraArgSets = [][]string{nil}
	}

	p.prevMu.Lock()
	snapshot := make(map[string]*indexfile.IndexFile, len(p.prev))
	for k, v := range p.prev {
		snapshot[k] = v
	}
	p.prevMu.Unlock()

	anySucceeded := false
	for _, extra := range extraArgSets {
		runArgs := args
		if len(extra) > 0 {
			runArgs = append(append([]string{}, args...), extra...)
		}

		res, err := p.an.Analyze(ctx, analyzer.Request{
			Args:      runArgs,
			MainPath:  path,
			Comments:  p.cfg.Comments,
			NoLinkage: noLinkage,
		})
		if err != nil || res == nil || !res.OK {
			msg := "analyzer crashed"
			if err != nil {
				msg = err.Error()
			} else if res != nil {
				msg = res.FirstError
			}
			p.logger.Warn("analyzer failure", map[string]interface{}{"path": path, "error": msg})
			continue
		}
		anySucceeded = true

		for _, idx := range res.Indexes {
			prev := snapshot[idx.Path]
			update := delta.Diff(prev, idx)

			p.prevMu.Lock()
			p.prev[idx.Path] = idx
			p.prevMu.Unlock()
			p.depCheckedMu.Lock()
			delete(p.depChecked, idx.Path)
			p.depCheckedMu.Unlock()

			loaded := p.vfs.IncrementLoaded(idx.Path)
			if err := p.cache.Save(idx.Path, &cachestore.Record{FileContents: idx.FileContents, Index: idx}, loaded); err != nil {
				p.logger.Warn("cache save failed", map[string]interface{}{
					"path":  idx.Path,
					"error": xerrors.Wrap(xerrors.FilesystemError, err, "cache save").Error(),
				})
			}

			p.publish(update)
		}
	}

	if !anySucceeded {
		// Do not advance the VFS step (§7): the next stamp call retries.
		return
	}

	step := vfs.StepFullLinkageInProgress
	if noLinkage {
		step = vfs.StepHeaderOnlyScheduled
	}
	p.vfs.Stamp(path, time.Now().UnixNano(), step)
}

func (p *Pool) handleDelete(path string) {
	mu := p.vfs.GetFileMutex(path)
	mu.Lock()
	defer mu.Unlock()

	p.prevMu.Lock()
	prev := p.prev[path]
	delete(p.prev, path)
	p.prevMu.Unlock()

	p.depCheckedMu.Lock()
	delete(p.depChecked, path)
	p.depCheckedMu.Unlock()

	empty := indexfile.New(path)
	update := delta.Diff(prev, empty)
	update.FilesRemoved = path

	p.cache.Evict(path)
	p.vfs.ResetStep(path)
	p.sessions.Evict(path)
	p.publish(update)
}

func (p *Pool) publish(update *delta.IndexUpdate) {
	indexqueue.NotifyingPush(p.OnIndexed, p.Waiter, update)
}

// MarkPending records path as awaiting a rescan, used when an include-graph
// change (a header edit) invalidates every known dependent translation
// unit. Nothing in this package walks the set or enqueues requests for it;
// DrainPending hands it to the caller.
func (p *Pool) MarkPending(path string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pending.Add(pathID(path))
}

// DrainPending returns and clears the set of paths marked by MarkPending.
// The caller (the protocol layer, which owns the path<->id table this
// package borrows xxhash for) is responsible for translating ids back to
// paths via its own index before re-enqueueing them.
func (p *Pool) DrainPending() *roaring.Bitmap {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	out := p.pending
	p.pending = roaring.New()
	return out
}

func pathID(path string) uint32 {
	return uint32(xxhash.Sum64String(path))
}
