// Package engine implements the Control Plane (CP): the owner of the
// Crawler, Watcher, Ingest Pipeline, and Query Evaluator lifecycles, and
// the surface external callers (the CLI, or any future UI) actually
// invoke.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/evfind/evfind/internal/crawl"
	"github.com/evfind/evfind/internal/ingest"
	"github.com/evfind/evfind/internal/metastore"
	"github.com/evfind/evfind/internal/query"
	"github.com/evfind/evfind/internal/searchindex"
	"github.com/evfind/evfind/internal/watch"
	"github.com/evfind/evfind/pkg/fs"
)

// ErrAlreadyRunning is returned by Start if called more than once.
var ErrAlreadyRunning = errors.New("engine: already running")

// Options configures an Engine.
type Options struct {
	// DataDir holds the metadata store and search index segment on disk.
	DataDir string

	// Roots are the directories build_index crawls and the watcher
	// subscribes to.
	Roots []string

	// WatchDebounce overrides watch.DefaultDebounce, if non-zero.
	WatchDebounce time.Duration

	Logger *slog.Logger
}

// Status mirrors get_index_status's contract.
type Status struct {
	IsReady            bool
	TotalFiles         uint64
	LastUpdated        time.Time
	IndexingInProgress bool
	Err                error
}

// Engine is the Control Plane. It owns MS, SI, CR, WA, IP, and QE for the
// lifetime of the process.
type Engine struct {
	logger   *slog.Logger
	roots    []string
	indexDir string

	fsys fs.FS
	ms   *metastore.Store
	si   *searchindex.Index

	crawler   *crawl.Crawler
	watcher   *watch.Watcher
	pipeline  *ingest.Pipeline
	evaluator *query.Evaluator

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New opens (or creates) the on-disk stores under opts.DataDir and wires
// CR, WA, IP, and QE together, without starting any background work. Call
// Start to begin watching and accept BuildIndex calls.
func New(opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, errors.New("engine: DataDir is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsys := fs.NewReal()

	ms, err := metastore.Open(fsys, filepath.Join(opts.DataDir, "meta"))
	if err != nil {
		return nil, fmt.Errorf("engine: open metastore: %w", err)
	}

	indexDir := filepath.Join(opts.DataDir, "index")

	si, err := searchindex.Load(fsys, indexDir)
	if err != nil {
		_ = ms.Close()
		return nil, fmt.Errorf("engine: load search index: %w", err)
	}

	crawler := crawl.New(fsys, logger)

	var watchOpts []watch.Option
	if opts.WatchDebounce > 0 {
		watchOpts = append(watchOpts, watch.WithDebounce(opts.WatchDebounce))
	}

	watcher := watch.New(logger, watchOpts...)
	pipeline := ingest.New(fsys, ms, si, crawler, logger)
	evaluator := query.New(si, ms)

	return &Engine{
		logger:    logger,
		roots:     opts.Roots,
		indexDir:  indexDir,
		fsys:      fsys,
		ms:        ms,
		si:        si,
		crawler:   crawler,
		watcher:   watcher,
		pipeline:  pipeline,
		evaluator: evaluator,
	}, nil
}

// Start begins the Ingest Pipeline's writer goroutine and the Watcher's
// subscription to Roots. It does not itself trigger a crawl; call
// BuildIndex for that.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true

	watchEvents := e.watcher.Watch(runCtx, e.roots)

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.pipeline.Run(runCtx, watchEvents)
	}()

	return nil
}

// Close stops all background work and releases the on-disk stores. The
// current search index snapshot is persisted to disk before closing.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.started && e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()

	saveErr := searchindex.Save(e.fsys, e.indexDir, e.si.Current())
	closeErr := e.ms.Close()

	return errors.Join(saveErr, closeErr)
}

// BuildIndex schedules a crawl of roots (or e.roots, if roots is empty)
// and returns immediately; completion is observable via Status and
// Subscribe. If force is false and the index already has content, this is
// a no-op (matching build_index's "start CR only if index is Empty"
// clause for the non-forced case).
func (e *Engine) BuildIndex(ctx context.Context, roots []string, force bool) {
	if len(roots) == 0 {
		roots = e.roots
	}

	if !force {
		status := e.pipeline.Status()
		if status.State != ingest.StateEmpty {
			return
		}
	}

	e.pipeline.BuildIndex(ctx, roots, force)
}

// SearchFiles is a thin dispatch to the Query Evaluator.
func (e *Engine) SearchFiles(ctx context.Context, queryString string, useRegex bool, limit int) (query.Result, error) {
	return e.evaluator.Search(ctx, queryString, useRegex, limit)
}

// GetIndexStatus reports the current index state.
func (e *Engine) GetIndexStatus() Status {
	s := e.pipeline.Status()

	return Status{
		IsReady:            s.State == ingest.StateReady,
		TotalFiles:         s.TotalFiles,
		LastUpdated:        s.LastUpdated,
		IndexingInProgress: s.IndexingInProgress,
		Err:                s.Err,
	}
}

// SubscribeProgress forwards Ingest Pipeline progress events under the
// name index-progress, per spec.md's external interface.
func (e *Engine) SubscribeProgress() (<-chan ingest.Progress, func()) {
	return e.pipeline.Subscribe()
}
