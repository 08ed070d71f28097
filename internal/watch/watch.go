// Package watch implements the Watcher (WA): a best-effort, fsnotify-backed
// subscription to OS-native filesystem notifications for a set of roots.
//
// WA coalesces duplicate rapid-fire events on the same path within a
// debounce window before forwarding, and is explicitly allowed to lose
// fidelity under heavy churn or watch-queue overflow: on overflow, or when
// a watched root disappears and later reappears, it emits Desynchronized
// for the affected prefix rather than pretending its view is complete. The
// Ingest Pipeline treats Desynchronized as a trigger for a targeted
// rescan, not as a fatal error.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxPending bounds how many distinct paths a watchSession will coalesce
// before collapsing everything under its root into a Desynchronized.
const maxPending = 4096

// DefaultDebounce is the coalescing window applied to duplicate events on
// the same path before they are forwarded.
const DefaultDebounce = 100 * time.Millisecond

// reconnectBackoffInitial and reconnectBackoffMax bound the retry delay
// used while a watched root is missing.
const (
	reconnectBackoffInitial = 50 * time.Millisecond
	reconnectBackoffMax     = 5 * time.Second
)

// rootPollInterval is how often a live session checks that its root still
// exists, to detect mount/unmount style loss that fsnotify itself may not
// surface as an error.
const rootPollInterval = 2 * time.Second

// ChangeKind classifies a Changed event.
type ChangeKind int

const (
	Create ChangeKind = iota
	Modify
	Delete
	RenameFrom
	RenameTo
)

func (k ChangeKind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	case RenameFrom:
		return "rename_from"
	case RenameTo:
		return "rename_to"
	default:
		return "unknown"
	}
}

// Event is implemented by Changed and Desynchronized.
type Event interface {
	isWatchEvent()
}

// Changed reports a single, debounced filesystem change.
type Changed struct {
	Path string
	Kind ChangeKind
}

func (Changed) isWatchEvent() {}

// Desynchronized reports that WA may have lost fidelity under PathPrefix:
// an fsnotify queue overflow, or a watched root going away and coming
// back. The Ingest Pipeline responds by scheduling a targeted rescan.
type Desynchronized struct {
	PathPrefix string
}

func (Desynchronized) isWatchEvent() {}

// Watcher subscribes to OS filesystem notifications for a set of roots.
type Watcher struct {
	logger   *slog.Logger
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a Watcher.
func New(logger *slog.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{logger: logger, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Watch subscribes to roots and streams coalesced events until ctx is
// canceled, at which point the returned channel is closed. Each root runs
// its own reconnect loop, so one root going away does not affect others.
func (w *Watcher) Watch(ctx context.Context, roots []string) <-chan Event {
	out := make(chan Event, maxPending)

	var wg sync.WaitGroup

	for _, root := range roots {
		wg.Add(1)

		go func(root string) {
			defer wg.Done()
			w.watchRootWithReconnect(ctx, root, out)
		}(root)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// watchRootWithReconnect keeps a root watched for as long as ctx is alive,
// re-establishing the subscription (with backoff) whenever it is lost, and
// emitting Desynchronized on every reconnect after the first.
func (w *Watcher) watchRootWithReconnect(ctx context.Context, root string, out chan<- Event) {
	backoff := reconnectBackoffInitial
	reconnecting := false

	for {
		if ctx.Err() != nil {
			return
		}

		session, err := newWatchSession(root, w.debounce)
		if err != nil {
			w.logger.Warn("watch: failed to subscribe", "root", root, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff = minDuration(backoff*2, reconnectBackoffMax)
			reconnecting = true

			continue
		}

		if reconnecting {
			select {
			case out <- Desynchronized{PathPrefix: root}:
			case <-ctx.Done():
				session.close()
				return
			}
		}

		backoff = reconnectBackoffInitial

		if !session.run(ctx, out) {
			session.close()
			return
		}

		session.close()
		reconnecting = true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}

	return b
}

type watchSession struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu        sync.Mutex
	pending   map[string]ChangeKind
	overflown bool
}

func newWatchSession(root string, debounce time.Duration) (*watchSession, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return &watchSession{
		root:     root,
		fsw:      fsw,
		debounce: debounce,
		pending:  make(map[string]ChangeKind),
	}, nil
}

func (s *watchSession) close() {
	s.fsw.Close()
}

// run drains fsnotify events, flushing coalesced Changed events every
// debounce interval and polling for root loss. It returns true if ctx
// ended the watch cleanly, false if the root was lost and a reconnect is
// warranted.
func (s *watchSession) run(ctx context.Context, out chan<- Event) bool {
	flush := time.NewTicker(s.debounce)
	defer flush.Stop()

	poll := time.NewTicker(rootPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return true

		case ev, ok := <-s.fsw.Events:
			if !ok {
				return false
			}

			s.recordEvent(ev)

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return false
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.mu.Lock()
				s.overflown = true
				s.pending = nil
				s.mu.Unlock()
			}

		case <-flush.C:
			if !s.emitPending(ctx, out) {
				return true
			}

		case <-poll.C:
			if _, err := os.Stat(s.root); err != nil {
				return false
			}
		}
	}
}

func (s *watchSession) recordEvent(ev fsnotify.Event) {
	kind := classify(ev.Op)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overflown {
		return
	}

	if len(s.pending) >= maxPending {
		s.overflown = true
		s.pending = nil

		return
	}

	s.pending[filepath.Clean(ev.Name)] = kind
}

// emitPending flushes coalesced events (or a single Desynchronized, if the
// session overflowed since the last flush) to out. It returns false if ctx
// ended the watch mid-flush.
func (s *watchSession) emitPending(ctx context.Context, out chan<- Event) bool {
	s.mu.Lock()
	pending := s.pending
	overflown := s.overflown
	s.pending = make(map[string]ChangeKind)
	s.overflown = false
	s.mu.Unlock()

	if overflown {
		select {
		case out <- Desynchronized{PathPrefix: s.root}:
		case <-ctx.Done():
			return false
		}

		return true
	}

	for path, kind := range pending {
		select {
		case out <- Changed{Path: path, Kind: kind}:
		case <-ctx.Done():
			return false
		}
	}

	return true
}

func classify(op fsnotify.Op) ChangeKind {
	switch {
	case op&fsnotify.Create != 0:
		return Create
	case op&fsnotify.Remove != 0:
		return Delete
	case op&fsnotify.Rename != 0:
		return RenameFrom
	case op&fsnotify.Write != 0, op&fsnotify.Chmod != 0:
		return Modify
	default:
		return Modify
	}
}
