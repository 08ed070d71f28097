// Package crawl implements the Crawler (CR): a recursive directory walker
// that emits Discovered entries, periodic Progress reports, and a final
// Done terminator to the ingest pipeline.
//
// Traversal is depth-first per root using an explicit stack rather than
// filepath.WalkDir, so cycle detection and progress cadence are under our
// direct control. Symlinks are never followed into a subtree (see
// DESIGN.md's Open Question decision); the (dev, ino) visited set exists
// to guard against the same directory being reachable twice through
// hardlinks or bind mounts.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/pkg/fs"
)

// OutputCapacity is the bounded capacity of the channel returned by Crawl,
// matching the concurrency model's suggested back-pressure bound.
const OutputCapacity = 8192

const (
	progressEveryN        = 1000
	progressEveryDuration = 250 * time.Millisecond
)

// ErrInvalidRoot reports a crawl root that does not exist or is not a
// directory. Callers should use errors.Is(err, ErrInvalidRoot).
var ErrInvalidRoot = errors.New("invalid crawl root")

// errIOSubtree tags a per-entry or per-directory I/O error that is logged
// and skipped rather than treated as fatal to the crawl.
var errIOSubtree = errors.New("crawl io error")

// Event is implemented by Discovered, Progress, and Done.
type Event interface {
	isCrawlEvent()
}

// Discovered reports one file or directory found during the crawl.
type Discovered struct {
	Entry entry.Entry
}

func (Discovered) isCrawlEvent() {}

// Progress reports crawl progress. TotalEstimate is monotonically
// non-decreasing and may be revised upward as more of the tree is seen.
type Progress struct {
	Processed     uint64
	TotalEstimate uint64
}

func (Progress) isCrawlEvent() {}

// Done terminates the crawl. Errors holds per-root or per-entry errors
// that were recorded but did not abort the crawl (permission errors on a
// subtree, I/O errors scoped to one root).
type Done struct {
	Total  uint64
	Errors []error
}

func (Done) isCrawlEvent() {}

// Crawler walks directory trees over an fs.FS.
type Crawler struct {
	fsys   fs.FS
	logger *slog.Logger
}

// New creates a Crawler using fsys for all filesystem access.
func New(fsys fs.FS, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Crawler{fsys: fsys, logger: logger}
}

// Crawl walks roots concurrently (one worker per root) and streams events
// to the returned channel, which is closed after the final Done event.
// force is accepted for symmetry with build_index's contract but does not
// change CR's own behavior: whether to discard prior state is the Ingest
// Pipeline's decision, not the Crawler's.
func (c *Crawler) Crawl(ctx context.Context, roots []string, force bool) <-chan Event {
	_ = force

	out := make(chan Event, OutputCapacity)

	state := &crawlState{
		fsys:    c.fsys,
		logger:  c.logger,
		out:     out,
		visited: make(map[visitKey]struct{}),
	}

	go func() {
		defer close(out)

		var wg sync.WaitGroup

		for _, root := range roots {
			wg.Add(1)

			go func(root string) {
				defer wg.Done()
				state.walkRoot(ctx, root)
			}(root)
		}

		wg.Wait()

		total := state.processed.Load()
		errs := state.takeErrors()

		select {
		case out <- Progress{Processed: total, TotalEstimate: total}:
		case <-ctx.Done():
		}

		select {
		case out <- Done{Total: total, Errors: errs}:
		case <-ctx.Done():
		}
	}()

	return out
}

type visitKey struct {
	dev uint64
	ino uint64
}

type crawlState struct {
	fsys   fs.FS
	logger *slog.Logger
	out    chan<- Event

	visitedMu sync.Mutex
	visited   map[visitKey]struct{}

	processed atomic.Uint64

	lastProgressMu sync.Mutex
	lastProgress   time.Time

	errMu sync.Mutex
	errs  []error
}

func (s *crawlState) takeErrors() []error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	errs := s.errs
	s.errs = nil

	return errs
}

func (s *crawlState) addError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	s.errs = append(s.errs, err)
}

func (s *crawlState) walkRoot(ctx context.Context, root string) {
	root = filepath.Clean(root)

	info, err := s.fsys.Stat(root)
	if err != nil {
		s.addError(fmt.Errorf("%w: %s: %v", ErrInvalidRoot, root, err))
		return
	}

	if !info.IsDir() {
		s.addError(fmt.Errorf("%w: %s: not a directory", ErrInvalidRoot, root))
		return
	}

	if !s.markVisited(root) {
		return
	}

	s.emitEntry(ctx, root, info)

	stack := []string{root}

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := s.fsys.ReadDir(dir)
		if err != nil {
			s.logger.Warn("crawl: skipping directory", "dir", dir, "error", err)
			s.addError(fmt.Errorf("%w: readdir %s: %v", errIOSubtree, dir, err))

			continue
		}

		for _, child := range children {
			childPath := filepath.Join(dir, child.Name())

			if child.Type()&os.ModeSymlink != 0 {
				// never followed into a subtree; record nothing, not even
				// as a plain file, since its target type is unknown
				// without a stat that follows the link. child.Type() comes
				// from the directory entry itself (lstat-like, does not
				// dereference), unlike s.fsys.Stat which would follow it.
				continue
			}

			childInfo, err := s.fsys.Stat(childPath)
			if err != nil {
				s.logger.Warn("crawl: skipping entry", "path", childPath, "error", err)
				s.addError(fmt.Errorf("%w: stat %s: %v", errIOSubtree, childPath, err))

				continue
			}

			if childInfo.IsDir() {
				if !s.markVisited(childPath) {
					continue
				}

				s.emitEntry(ctx, childPath, childInfo)
				stack = append(stack, childPath)

				continue
			}

			s.emitEntry(ctx, childPath, childInfo)
		}
	}
}

func (s *crawlState) markVisited(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		s.addError(fmt.Errorf("%w: stat %s: %v", errIOSubtree, path, err))
		return false
	}

	key := visitKey{dev: uint64(st.Dev), ino: st.Ino}

	s.visitedMu.Lock()
	defer s.visitedMu.Unlock()

	if _, ok := s.visited[key]; ok {
		return false
	}

	s.visited[key] = struct{}{}

	return true
}

func (s *crawlState) emitEntry(ctx context.Context, path string, info os.FileInfo) {
	name := filepath.Base(path)
	size := info.Size()

	if size < 0 {
		size = 0
	}

	e := entry.New(path, name, uint64(size), info.ModTime(), info.IsDir())

	select {
	case s.out <- Discovered{Entry: e}:
	case <-ctx.Done():
		return
	}

	processed := s.processed.Add(1)
	s.maybeEmitProgress(ctx, processed)
}

func (s *crawlState) maybeEmitProgress(ctx context.Context, processed uint64) {
	due := processed%progressEveryN == 0

	s.lastProgressMu.Lock()
	if !due && time.Since(s.lastProgress) >= progressEveryDuration {
		due = true
	}

	if due {
		s.lastProgress = time.Now()
	}
	s.lastProgressMu.Unlock()

	if !due {
		return
	}

	select {
	case s.out <- Progress{Processed: processed, TotalEstimate: processed}:
	case <-ctx.Done():
	}
}
