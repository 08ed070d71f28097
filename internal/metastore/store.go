// Package metastore implements the Metadata Store (MS): a durable, keyed
// map from entry id to Entry record.
//
// The store is a single whole-snapshot file (entries.bin) plus a VERSION
// marker and a lock file, written via [fs.AtomicWriter] so that reopening
// after an abrupt termination always yields the state of the last
// successful commit (spec invariant: batch either fully succeeds and
// becomes visible, or fully fails leaving prior state). Cross-process
// single-writer exclusion is enforced by holding an [fs.Lock] for the
// lifetime of the Store.
package metastore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/internal/idhash"
	"github.com/evfind/evfind/pkg/fs"
)

// currentVersion is written to meta/VERSION on first create and checked on
// every open.
const currentVersion = 1

const (
	entriesFileName = "entries.bin"
	versionFileName = "VERSION"
	lockFileName    = ".lock"
)

// Store is the Metadata Store. It is safe for concurrent use by multiple
// goroutines within the process that opened it (writes serialize on an
// internal mutex); cross-process exclusion is enforced separately via a
// flock-based lock held for the Store's lifetime.
type Store struct {
	mu sync.RWMutex

	fsys   fs.FS
	writer *fs.AtomicWriter
	dir    string
	lock   *fs.Lock

	entries    map[idhash.ID]entry.Entry
	lastCommit time.Time
	hasCommit  bool

	closed bool
}

// Open opens (creating if necessary) the metadata store rooted at dir.
//
// Open acquires dir's write lock for the lifetime of the returned Store;
// callers must call Close to release it. A second Open of the same dir
// from elsewhere in the process (or another process) fails with ErrBusy
// until the first Store is closed.
func Open(fsys fs.FS, dir string) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("metastore: open: fs is nil")
	}

	if dir == "" {
		return nil, errors.New("metastore: open: dir is empty")
	}

	dir = filepath.Clean(dir)

	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("metastore: open: create dir: %w", err)
	}

	locker := fs.NewLocker(fsys)

	lock, err := locker.TryLock(filepath.Join(dir, lockFileName))
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("metastore: open: %w", ErrBusy)
		}

		return nil, fmt.Errorf("metastore: open: acquire lock: %w", err)
	}

	store := &Store{
		fsys:    fsys,
		writer:  fs.NewAtomicWriter(fsys),
		dir:     dir,
		lock:    lock,
		entries: make(map[idhash.ID]entry.Entry),
	}

	if err := store.checkVersion(); err != nil {
		_ = lock.Close()
		return nil, err
	}

	if err := store.load(); err != nil {
		_ = lock.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the store's write lock. The in-memory snapshot remains
// readable via accessor methods that do not require the lock, but further
// writes will fail once closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.lock.Close()
}

func (s *Store) versionPath() string {
	return filepath.Join(s.dir, versionFileName)
}

func (s *Store) entriesPath() string {
	return filepath.Join(s.dir, entriesFileName)
}

func (s *Store) checkVersion() error {
	data, err := s.fsys.ReadFile(s.versionPath())
	if errors.Is(err, os.ErrNotExist) {
		return s.writer.Write(s.versionPath(), bytes.NewReader([]byte(strconv.Itoa(currentVersion))), s.writer.DefaultOptions())
	}

	if err != nil {
		return fmt.Errorf("metastore: read VERSION: %w", err)
	}

	stored, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return fmt.Errorf("metastore: %w: unparseable VERSION %q", ErrIncompatible, data)
	}

	if stored != currentVersion {
		return fmt.Errorf("metastore: %w: on-disk version %d, want %d", ErrIncompatible, stored, currentVersion)
	}

	return nil
}

func (s *Store) load() error {
	data, err := s.fsys.ReadFile(s.entriesPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("metastore: read entries: %w", err)
	}

	r := bufio.NewReader(bytes.NewReader(data))

	for {
		e, err := entry.Decode(r)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("metastore: decode entries: %w", err)
		}

		s.entries[e.ID] = e
	}

	info, err := s.fsys.Stat(s.entriesPath())
	if err != nil {
		return fmt.Errorf("metastore: stat entries: %w", err)
	}

	s.lastCommit = info.ModTime()
	s.hasCommit = true

	return nil
}

// Get performs a point lookup.
func (s *Store) Get(id idhash.ID) (entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]

	return e, ok
}

// GetByPath performs a lookup by path, for callers that have not derived
// an id yet. It derives the id via idhash.FromPath and does the same
// point lookup as Get.
func (s *Store) GetByPath(path string) (entry.Entry, bool) {
	return s.Get(idhash.FromPath(path))
}

// IDsWithPathPrefix returns the ids of all live entries whose path is
// prefix or falls under it. It is used to reconcile a force rebuild or a
// targeted rescan against entries that a fresh crawl no longer discovers.
func (s *Store) IDsWithPathPrefix(prefix string) []idhash.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []idhash.ID

	for id, e := range s.entries {
		if e.Path == prefix || strings.HasPrefix(e.Path, prefix+string(filepath.Separator)) {
			ids = append(ids, id)
		}
	}

	return ids
}

// Count reports the number of live entries.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.entries))
}

// LastCommitTime reports the time of the last successful commit, if any.
func (s *Store) LastCommitTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastCommit, s.hasCommit
}

// Put upserts a single Entry, atomically.
func (s *Store) Put(e entry.Entry) error {
	return s.Batch([]Write{{Op: OpPut, Entry: e}})
}

// Delete removes id, idempotently.
func (s *Store) Delete(id idhash.ID) error {
	return s.Batch([]Write{{Op: OpDelete, ID: id}})
}

// OpKind discriminates a Write's kind.
type OpKind int

const (
	// OpPut upserts Write.Entry.
	OpPut OpKind = iota
	// OpDelete removes Write.ID.
	OpDelete
)

// Write is one put or delete to apply as part of a Batch.
type Write struct {
	Op    OpKind
	ID    idhash.ID
	Entry entry.Entry
}

// Batch applies writes atomically: either all of them become visible to
// subsequent Get/Count/snapshot calls and are durably committed, or none
// of them are (on error, the prior in-memory and on-disk state is left
// untouched).
func (s *Store) Batch(writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	next := make(map[idhash.ID]entry.Entry, len(s.entries))
	for k, v := range s.entries {
		next[k] = v
	}

	for _, w := range writes {
		switch w.Op {
		case OpPut:
			next[w.Entry.ID] = w.Entry
		case OpDelete:
			delete(next, w.ID)
		default:
			return fmt.Errorf("metastore: batch: unknown op %d", w.Op)
		}
	}

	var buf bytes.Buffer
	for _, e := range next {
		if err := entry.Encode(&buf, e); err != nil {
			return fmt.Errorf("metastore: batch: encode: %w", err)
		}
	}

	if err := s.writer.WriteWithDefaults(s.entriesPath(), bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("metastore: batch: commit: %w", err)
	}

	s.entries = next
	s.lastCommit = time.Now()
	s.hasCommit = true

	return nil
}
