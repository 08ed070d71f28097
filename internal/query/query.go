// Package query implements the Query Evaluator (QE): parsing a search
// query string into a searchindex.Plan and executing it against the
// latest committed snapshot, hydrating hits through the Metadata Store.
package query

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/internal/metastore"
	"github.com/evfind/evfind/internal/searchindex"
)

// DefaultLimit and MaxLimit bound the number of hits a single search
// returns, per spec.md's search_files contract.
const (
	DefaultLimit = 1000
	MaxLimit     = 1000
)

// DefaultDeadline is the soft time budget for a single search, after which
// the scan may return a truncated result rather than run unbounded.
const DefaultDeadline = 1 * time.Second

// ErrIndexNotReady is returned when no SI snapshot has ever been
// committed.
var ErrIndexNotReady = errors.New("query: index not ready")

// ErrInvalidRegex is returned when a regex: field filter or a whole-query
// use_regex pattern fails to compile.
var ErrInvalidRegex = errors.New("query: invalid regex")

// Result is search_files's return shape.
type Result struct {
	Hits       []entry.Entry
	TotalFound int
	ElapsedMs  int64
	Truncated  bool
}

// Snapshotter is satisfied by *searchindex.Index: anything that can hand
// back its currently committed snapshot. A nil snapshot, or one whose
// Committed reports false, means "never committed".
type Snapshotter interface {
	Current() *searchindex.Snapshot
}

// Evaluator is the Query Evaluator.
type Evaluator struct {
	index    Snapshotter
	store    *metastore.Store
	deadline time.Duration
}

// New creates an Evaluator reading snapshots from index and hydrating
// hits through store.
func New(index Snapshotter, store *metastore.Store) *Evaluator {
	return &Evaluator{index: index, store: store, deadline: DefaultDeadline}
}

// SetDeadline overrides DefaultDeadline; intended for tests that need a
// short deadline to exercise truncation.
func (e *Evaluator) SetDeadline(d time.Duration) {
	e.deadline = d
}

// Search implements search_files: parse, validate, scan, hydrate.
func (e *Evaluator) Search(ctx context.Context, queryString string, useRegex bool, limit int) (Result, error) {
	snap := e.index.Current()
	if snap == nil || !snap.Committed() {
		return Result{}, ErrIndexNotReady
	}

	start := time.Now()

	plan, err := Parse(queryString, useRegex)
	if err != nil {
		return Result{}, err
	}

	if limit < 0 {
		limit = DefaultLimit
	}

	if limit > MaxLimit {
		limit = MaxLimit
	}

	scanCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	ids, total, truncated := snap.SearchContext(scanCtx, plan, limit)

	hits := make([]entry.Entry, 0, len(ids))

	for _, id := range ids {
		hit, ok := e.store.Get(id)
		if !ok {
			// tombstoned between the SI snapshot and hydration; drop
			// silently, per spec.md 4.6 step 5.
			continue
		}

		hits = append(hits, hit)
	}

	return Result{
		Hits:       hits,
		TotalFound: total,
		ElapsedMs:  time.Since(start).Milliseconds(),
		Truncated:  truncated,
	}, nil
}

// Parse translates a query string into a searchindex.Plan, per spec.md
// 4.6's grammar:
//
//	ext:<literal>      filename suffix equals "."+literal, case-insensitive
//	folder:<fragment>  substring match on path
//	regex:<pattern>    regex against name
//	plain tokens       substring match across name and path, implicit AND
//
// useRegex treats the entire query string as a regex over name, skipping
// field-prefix parsing entirely.
func Parse(queryString string, useRegex bool) (searchindex.Plan, error) {
	if useRegex {
		re, err := regexp.Compile(queryString)
		if err != nil {
			return searchindex.Plan{}, wrapInvalidRegex(err)
		}

		return searchindex.Plan{Regex: re}, nil
	}

	var plan searchindex.Plan

	for _, field := range strings.Fields(queryString) {
		switch {
		case strings.HasPrefix(field, "ext:"):
			plan.Ext = strings.TrimPrefix(field, "ext:")

		case strings.HasPrefix(field, "folder:"):
			plan.Folder = strings.TrimPrefix(field, "folder:")

		case strings.HasPrefix(field, "regex:"):
			pattern := strings.TrimPrefix(field, "regex:")

			re, err := regexp.Compile(pattern)
			if err != nil {
				return searchindex.Plan{}, wrapInvalidRegex(err)
			}

			plan.Regex = re

		default:
			plan.Tokens = append(plan.Tokens, searchindex.Tokenize(field)...)
		}
	}

	return plan, nil
}

func wrapInvalidRegex(err error) error {
	return errors.Join(ErrInvalidRegex, err)
}
