// Package searchindex implements the Search Index (SI): an inverted index
// over tokenized entry names and paths, with immutable reader snapshots.
//
// Writers (the ingest pipeline) call Insert/Remove/Replace then Commit to
// publish a new snapshot. Readers call Current to acquire a snapshot and
// then Search against it; a snapshot they are holding remains valid even
// after a later Commit publishes a newer one (spec §4.2 concurrency
// contract).
package searchindex

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/internal/idhash"
)

// document is the side-table record kept per id: enough of the Entry to
// drive folder/regex/ordering without round-tripping through the metadata
// store on every query.
type document struct {
	Name      string
	Path      string
	NameLower string
	PathLower string
	IsFolder  bool
}

func newDocument(e entry.Entry) document {
	return document{
		Name:      e.Name,
		Path:      e.Path,
		NameLower: toLower(e.Name),
		PathLower: toLower(e.Path),
		IsFolder:  e.IsFolder,
	}
}

// Snapshot is an immutable, point-in-time view of the index. It is safe
// for concurrent reads by multiple goroutines and is never mutated after
// construction.
type Snapshot struct {
	// postings maps a name token to the sorted, deduplicated ids of
	// documents whose name tokenizes to include it.
	postings map[string][]idhash.ID

	// vocab is the sorted set of distinct tokens in postings, used to
	// resolve substring/prefix token queries against the (much smaller)
	// vocabulary instead of scanning every document.
	vocab []string

	// pathPostings and pathVocab mirror postings/vocab but are built from
	// Tokenize(d.PathLower), so a plain-token query can also resolve
	// against path components (directory names) rather than only the
	// final name, per the SI's two-field (name, path) contract.
	pathPostings map[string][]idhash.ID
	pathVocab    []string

	docs map[idhash.ID]document

	// committed is false only for the empty placeholder an Index holds
	// before its first Commit.
	committed bool
}

// emptySnapshot is the initial snapshot before any commit.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		postings:     make(map[string][]idhash.ID),
		pathPostings: make(map[string][]idhash.ID),
		docs:         make(map[idhash.ID]document),
	}
}

// Index is the writer side of the Search Index. A single Index is meant
// to be driven by one writer goroutine (the ingest pipeline); it stages
// Insert/Remove/Replace calls into a pending mutation set and only builds
// and publishes a new immutable Snapshot on Commit.
type Index struct {
	current atomic.Pointer[Snapshot]

	// pending holds the writes staged since the last commit, keyed by id;
	// Commit applies them on top of the current snapshot's documents.
	pending map[idhash.ID]*document // nil value = tombstoned (removed)
}

// New creates an empty Index. Until the first Commit, Current returns an
// empty snapshot whose Committed reports false.
func New() *Index {
	idx := &Index{
		pending: make(map[idhash.ID]*document),
	}
	idx.current.Store(emptySnapshot())

	return idx
}

// Current returns the most recently committed snapshot. Holding onto the
// returned value keeps it valid even across later commits.
func (idx *Index) Current() *Snapshot {
	return idx.current.Load()
}

// Committed reports whether s was published by Commit rather than being
// the placeholder an Index holds before its first commit.
func (s *Snapshot) Committed() bool {
	return s != nil && s.committed
}

// Insert stages e for addition. Equivalent to Replace for this index's
// purposes since both upsert by id.
func (idx *Index) Insert(e entry.Entry) {
	doc := newDocument(e)
	idx.pending[e.ID] = &doc
}

// Replace stages e to overwrite any existing document for e.ID.
func (idx *Index) Replace(e entry.Entry) {
	idx.Insert(e)
}

// Remove stages id for removal.
func (idx *Index) Remove(id idhash.ID) {
	idx.pending[id] = nil
}

// Commit builds a new Snapshot incorporating all staged writes since the
// last commit and publishes it atomically. Pending writes are cleared.
func (idx *Index) Commit() *Snapshot {
	base := idx.current.Load()

	docs := make(map[idhash.ID]document, len(base.docs)+len(idx.pending))
	for id, d := range base.docs {
		docs[id] = d
	}

	for id, d := range idx.pending {
		if d == nil {
			delete(docs, id)
			continue
		}

		docs[id] = *d
	}

	postings := make(map[string][]idhash.ID)
	pathPostings := make(map[string][]idhash.ID)

	for id, d := range docs {
		for _, tok := range uniqueTokens(Tokenize(d.NameLower)) {
			postings[tok] = append(postings[tok], id)
		}

		for _, tok := range uniqueTokens(Tokenize(d.PathLower)) {
			pathPostings[tok] = append(pathPostings[tok], id)
		}
	}

	vocab := make([]string, 0, len(postings))
	for tok, ids := range postings {
		sortIDs(ids)
		postings[tok] = ids
		vocab = append(vocab, tok)
	}
	sort.Strings(vocab)

	pathVocab := make([]string, 0, len(pathPostings))
	for tok, ids := range pathPostings {
		sortIDs(ids)
		pathPostings[tok] = ids
		pathVocab = append(pathVocab, tok)
	}
	sort.Strings(pathVocab)

	next := &Snapshot{
		postings:     postings,
		vocab:        vocab,
		pathPostings: pathPostings,
		pathVocab:    pathVocab,
		docs:         docs,
		committed:    true,
	}

	idx.current.Store(next)
	idx.pending = make(map[idhash.ID]*document)

	return next
}

func uniqueTokens(tokens []string) []string {
	if len(tokens) < 2 {
		return tokens
	}

	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]

	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}

		seen[t] = struct{}{}
		out = append(out, t)
	}

	return out
}

func sortIDs(ids []idhash.ID) {
	sort.Slice(ids, func(i, j int) bool {
		return idLess(ids[i], ids[j])
	})
}

func idLess(a, b idhash.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return false
}

func toLower(s string) string {
	return strings.ToLower(s)
}
