// Package ingest implements the Ingest Pipeline (IP): the sole writer to
// the Metadata Store and Search Index.
//
// IP receives two event streams (crawl.Event from the Crawler, watch.Event
// from the Watcher) plus its own targeted-rescan feedback loop, serializes
// them onto a single dedicated goroutine, and applies them in batches:
// accumulate until either batchMaxEvents events or batchMaxWait has
// elapsed, then commit to MS, then commit to SI. Commits are ordered
// MS-then-SI, so any id visible through an SI snapshot is guaranteed
// present in MS.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/evfind/evfind/internal/crawl"
	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/internal/idhash"
	"github.com/evfind/evfind/internal/metastore"
	"github.com/evfind/evfind/internal/searchindex"
	"github.com/evfind/evfind/internal/watch"
	"github.com/evfind/evfind/pkg/fs"
)

// State is the overall index lifecycle state described in spec.md's state
// diagram: Empty -> Rebuilding -> Ready, with a terminal Error state
// reachable from Rebuilding on persistent storage failure.
type State int

const (
	StateEmpty State = iota
	StateRebuilding
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRebuilding:
		return "rebuilding"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	batchMaxEvents = 1024
	batchMaxWait   = 100 * time.Millisecond

	progressMinInterval = 100 * time.Millisecond

	opsChannelBuffer = 4096
)

// Status is returned by Pipeline.Status and mirrors get_index_status's
// contract.
type Status struct {
	State              State
	TotalFiles         uint64
	LastUpdated        time.Time
	IndexingInProgress bool
	Err                error
}

// Progress is emitted at most once per progressMinInterval while a build is
// in flight.
type Progress struct {
	Processed uint64
	Total     uint64
}

// Pipeline owns MS and SI for writes and runs as a single dedicated
// goroutine once Run is called.
type Pipeline struct {
	fsys    fs.FS
	ms      *metastore.Store
	si      *searchindex.Index
	crawler *crawl.Crawler
	logger  *slog.Logger

	ops chan any

	mu          sync.Mutex
	state       State
	lastErr     error
	lastUpdated time.Time
	inProgress  bool
	buildTotal  uint64

	progressMu sync.Mutex
	subs       map[int]chan Progress
	nextSub    int
}

// New creates a Pipeline. The Pipeline does not start processing until Run
// is called.
func New(fsys fs.FS, ms *metastore.Store, si *searchindex.Index, crawler *crawl.Crawler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	state := StateEmpty
	if ms.Count() > 0 {
		state = StateReady
	}

	return &Pipeline{
		fsys:    fsys,
		ms:      ms,
		si:      si,
		crawler: crawler,
		logger:  logger,
		ops:     make(chan any, opsChannelBuffer),
		state:   state,
		subs:    make(map[int]chan Progress),
	}
}

// Status reports the current index lifecycle state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		State:              p.state,
		TotalFiles:         p.ms.Count(),
		LastUpdated:        p.lastUpdated,
		IndexingInProgress: p.inProgress,
		Err:                p.lastErr,
	}
}

// Subscribe registers for Progress events. Callers must call the returned
// cancel function to stop receiving events and release the channel.
func (p *Pipeline) Subscribe() (<-chan Progress, func()) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()

	id := p.nextSub
	p.nextSub++

	ch := make(chan Progress, 32)
	p.subs[id] = ch

	cancel := func() {
		p.progressMu.Lock()
		defer p.progressMu.Unlock()

		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

func (p *Pipeline) broadcastProgress(ev Progress) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()

	for _, sub := range p.subs {
		select {
		case sub <- ev:
		default:
			// a slow subscriber misses an intermediate update; it will
			// observe the next one, and final state is always visible
			// through Status.
		}
	}
}

// Run processes watchEvents and any crawl fed in via BuildIndex or a
// targeted rescan, until ctx is canceled. Run is meant to be called once,
// from a single dedicated goroutine, for the lifetime of the Pipeline.
func (p *Pipeline) Run(ctx context.Context, watchEvents <-chan watch.Event) {
	go p.forwardWatch(ctx, watchEvents)

	var (
		batch        []writeOp
		lastProgress time.Time
	)

	flush := time.NewTicker(batchMaxWait)
	defer flush.Stop()

	commitIfDue := func(force bool) {
		if len(batch) == 0 {
			return
		}

		if !force && len(batch) < batchMaxEvents {
			return
		}

		p.commitBatch(batch)
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			commitIfDue(true)
			return

		case raw, ok := <-p.ops:
			if !ok {
				commitIfDue(true)
				return
			}

			switch ev := raw.(type) {
			case crawl.Discovered:
				batch = append(batch, writeOp{kind: opPut, entry: ev.Entry})

			case crawl.Progress:
				p.mu.Lock()
				p.buildTotal = ev.TotalEstimate
				p.mu.Unlock()

				p.maybeReportProgress(&lastProgress, uint64(len(batch)))

			case buildDone:
				commitIfDue(true)
				p.finishBuild(ev)

			case watch.Changed:
				if op, ok := p.resolveWatchOp(ev); ok {
					batch = append(batch, op)
				}

			case watch.Desynchronized:
				go p.rescan(ctx, ev.PathPrefix)

			case rescanResult:
				batch = append(batch, ev.reconcileDeletes(p.ms)...)
			}

			commitIfDue(false)

		case <-flush.C:
			commitIfDue(true)
			p.maybeReportProgress(&lastProgress, 0)
		}
	}
}

func (p *Pipeline) forwardWatch(ctx context.Context, watchEvents <-chan watch.Event) {
	if watchEvents == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watchEvents:
			if !ok {
				return
			}

			select {
			case p.ops <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) maybeReportProgress(last *time.Time, pending uint64) {
	if time.Since(*last) < progressMinInterval {
		return
	}

	*last = time.Now()

	p.mu.Lock()
	inProgress := p.inProgress
	total := p.buildTotal
	p.mu.Unlock()

	if !inProgress {
		return
	}

	p.broadcastProgress(Progress{Processed: p.ms.Count() + pending, Total: total})
}

type opKind int

const (
	opPut opKind = iota
	opDelete
)

type writeOp struct {
	kind  opKind
	id    idhash.ID
	entry entry.Entry
}

// buildDone marks the end of one BuildIndex crawl; seen holds every id
// that crawl (re)discovered, used for force-rebuild reconciliation.
type buildDone struct {
	force bool
	roots []string
	seen  map[idhash.ID]struct{}
	errs  []error
}

type rescanResult struct {
	prefix string
	seen   map[idhash.ID]struct{}
}

func (r rescanResult) reconcileDeletes(ms *metastore.Store) []writeOp {
	var ops []writeOp

	for _, id := range ms.IDsWithPathPrefix(r.prefix) {
		if _, ok := r.seen[id]; !ok {
			ops = append(ops, writeOp{kind: opDelete, id: id})
		}
	}

	return ops
}

// BuildIndex schedules a crawl of roots and feeds its results into the
// pipeline's single-writer apply loop. It returns as soon as the crawl is
// scheduled; completion is observable via Status and Subscribe, matching
// the Control Plane's non-blocking contract.
func (p *Pipeline) BuildIndex(ctx context.Context, roots []string, force bool) {
	p.mu.Lock()
	if p.state == StateRebuilding {
		p.mu.Unlock()
		return
	}

	p.state = StateRebuilding
	p.inProgress = true
	p.buildTotal = 0
	p.mu.Unlock()

	go func() {
		seen := make(map[idhash.ID]struct{})

		events := p.crawler.Crawl(ctx, roots, force)

		var errs []error

		for ev := range events {
			switch e := ev.(type) {
			case crawl.Discovered:
				seen[e.Entry.ID] = struct{}{}

				select {
				case p.ops <- e:
				case <-ctx.Done():
					return
				}

			case crawl.Progress:
				select {
				case p.ops <- e:
				case <-ctx.Done():
					return
				}

			case crawl.Done:
				errs = e.Errors
			}
		}

		done := buildDone{force: force, roots: roots, seen: seen, errs: errs}

		select {
		case p.ops <- done:
		case <-ctx.Done():
		}
	}()
}

func (p *Pipeline) finishBuild(done buildDone) {
	for _, err := range done.errs {
		p.logger.Warn("ingest: crawl reported a non-fatal error", "error", err)
	}

	if done.force {
		var deletes []writeOp

		for _, root := range done.roots {
			for _, id := range p.ms.IDsWithPathPrefix(root) {
				if _, ok := done.seen[id]; !ok {
					deletes = append(deletes, writeOp{kind: opDelete, id: id})
				}
			}
		}

		if len(deletes) > 0 {
			p.commitBatch(deletes)
		}
	}

	p.mu.Lock()
	p.inProgress = false

	if p.lastErr == nil {
		p.state = StateReady
	}
	p.mu.Unlock()

	p.broadcastProgress(Progress{Processed: p.ms.Count(), Total: p.ms.Count()})
}

// rescan runs a targeted crawl of prefix (in response to a Desynchronized
// notice) and feeds its results back through the normal apply path, plus a
// rescanResult so absent entries under prefix are reconciled away.
func (p *Pipeline) rescan(ctx context.Context, prefix string) {
	seen := make(map[idhash.ID]struct{})
	events := p.crawler.Crawl(ctx, []string{prefix}, false)

	for ev := range events {
		d, ok := ev.(crawl.Discovered)
		if !ok {
			continue
		}

		seen[d.Entry.ID] = struct{}{}

		select {
		case p.ops <- d:
		case <-ctx.Done():
			return
		}
	}

	select {
	case p.ops <- rescanResult{prefix: prefix, seen: seen}:
	case <-ctx.Done():
	}
}

// resolveWatchOp maps a WA event to a write operation, per spec.md's
// event-to-operation table. Create and Modify require a fresh stat;
// RenameFrom is treated as a delete of the old path (RenameTo supplies the
// create side independently, since ids are path-derived and WA does not
// guarantee the pair lands in the same batch).
func (p *Pipeline) resolveWatchOp(ev watch.Changed) (writeOp, bool) {
	switch ev.Kind {
	case watch.Delete, watch.RenameFrom:
		return writeOp{kind: opDelete, id: idhash.FromPath(ev.Path)}, true

	case watch.Create, watch.Modify, watch.RenameTo:
		info, err := p.fsys.Stat(ev.Path)
		if err != nil {
			if os.IsNotExist(err) {
				// a transient create/delete (or rename) pair; nothing to
				// apply.
				return writeOp{}, false
			}

			p.logger.Warn("ingest: stat failed", "path", ev.Path, "error", err)

			return writeOp{}, false
		}

		size := info.Size()
		if size < 0 {
			size = 0
		}

		e := entry.New(ev.Path, info.Name(), uint64(size), info.ModTime(), info.IsDir())

		if ev.Kind == watch.Modify {
			if existing, ok := p.ms.Get(e.ID); ok {
				if existing.Size == e.Size && existing.Modified.Equal(e.Modified) && existing.IsFolder == e.IsFolder {
					return writeOp{}, false
				}
			}
		}

		return writeOp{kind: opPut, entry: e}, true

	default:
		return writeOp{}, false
	}
}

// commitBatch applies ops to MS, then SI. A MS failure aborts the batch
// outright (no SI writes) and moves the index to the error state; SI's
// commit is an in-memory snapshot swap that cannot itself fail, so the
// MS-then-SI ordering here is sufficient to guarantee that any id visible
// through an SI snapshot is already present in MS.
func (p *Pipeline) commitBatch(ops []writeOp) {
	if len(ops) == 0 {
		return
	}

	writes := make([]metastore.Write, 0, len(ops))
	for _, op := range ops {
		switch op.kind {
		case opPut:
			writes = append(writes, metastore.Write{Op: metastore.OpPut, Entry: op.entry})
		case opDelete:
			writes = append(writes, metastore.Write{Op: metastore.OpDelete, ID: op.id})
		}
	}

	if err := p.ms.Batch(writes); err != nil {
		p.logger.Error("ingest: metastore commit failed", "error", err)
		p.setError(err)

		return
	}

	p.applySearchIndex(ops)
	p.si.Commit()
	p.setLastUpdated()
}

func (p *Pipeline) applySearchIndex(ops []writeOp) {
	for _, op := range ops {
		switch op.kind {
		case opPut:
			p.si.Insert(op.entry)
		case opDelete:
			p.si.Remove(op.id)
		}
	}
}

func (p *Pipeline) setLastUpdated() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastUpdated = time.Now()
}

func (p *Pipeline) setError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	p.state = StateError
	p.inProgress = false
}
