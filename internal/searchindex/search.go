package searchindex

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/evfind/evfind/internal/idhash"
)

// checkEvery is how many filter evaluations SearchContext performs
// between deadline checks, bounding how far a scan can overrun ctx's
// deadline once it starts.
const checkEvery = 2048

// Plan is a parsed query, built by internal/query and executed against a
// Snapshot. The zero Plan (all filters empty) matches nothing: Search
// returns no ids and a total of 0 without scanning.
type Plan struct {
	// Ext is the ext: filter: filename suffix equals "."+Ext, matched
	// case-insensitively. Empty means no ext filter.
	Ext string

	// Folder is the folder: filter: a substring match on path. Empty
	// means no folder filter.
	Folder string

	// Regex, if non-nil, is matched against the document name (regex:
	// field filter, or the whole query under use_regex).
	Regex *regexp.Regexp

	// Tokens are plain query tokens, combined with implicit AND:
	// substring match across name then path.
	Tokens []string
}

// IsEmpty reports whether the plan has no active filters, meaning the
// query evaluator should skip the scan entirely (spec boundary: empty
// query returns empty with total_found=0, no SI scan performed).
func (p Plan) IsEmpty() bool {
	return p.Ext == "" && p.Folder == "" && p.Regex == nil && len(p.Tokens) == 0
}

// Search executes plan against the snapshot and returns up to limit ids
// plus the total match count (which may exceed limit). Results are
// ordered deterministically: is_folder descending, then name
// case-insensitive lexicographic, then path.
func (s *Snapshot) Search(plan Plan, limit int) ([]idhash.ID, int) {
	if plan.IsEmpty() {
		return nil, 0
	}

	candidates := s.candidateIDs(plan)

	matches := make([]idhash.ID, 0, len(candidates))
	for id := range candidates {
		doc, ok := s.docs[id]
		if !ok {
			continue
		}

		if matchesFilters(doc, plan) {
			matches = append(matches, id)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return s.less(matches[i], matches[j])
	})

	total := len(matches)

	if limit < len(matches) {
		matches = matches[:limit]
	}

	return matches, total
}

// SearchContext behaves like Search but stops scanning once ctx is done,
// reporting truncated=true when the deadline cut the scan short. total
// reflects only the matches found before the deadline, so a truncated
// result's total is a lower bound, not the true match count.
func (s *Snapshot) SearchContext(ctx context.Context, plan Plan, limit int) (ids []idhash.ID, total int, truncated bool) {
	if plan.IsEmpty() {
		return nil, 0, false
	}

	candidates := s.candidateIDs(plan)

	matches := make([]idhash.ID, 0, len(candidates))

	var checked int

	for id := range candidates {
		checked++

		if checked%checkEvery == 0 && ctx.Err() != nil {
			truncated = true
			break
		}

		doc, ok := s.docs[id]
		if !ok {
			continue
		}

		if matchesFilters(doc, plan) {
			matches = append(matches, id)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return s.less(matches[i], matches[j])
	})

	total = len(matches)

	if limit < len(matches) {
		matches = matches[:limit]
	}

	return matches, total, truncated
}

// candidateIDs narrows the scan to a restricted set when plan.Tokens is
// non-empty (resolved via the vocabulary, typically far smaller than the
// document count); otherwise it returns every known id, relying on
// matchesFilters to do a full linear scan — acceptable per spec §4.2,
// which allows "a full-field linear scan restricted to a prefiltered
// candidate set" for regex/folder filters.
func (s *Snapshot) candidateIDs(plan Plan) map[idhash.ID]struct{} {
	if len(plan.Tokens) == 0 {
		all := make(map[idhash.ID]struct{}, len(s.docs))
		for id := range s.docs {
			all[id] = struct{}{}
		}

		return all
	}

	var result map[idhash.ID]struct{}

	for _, tok := range plan.Tokens {
		tokIDs := s.idsForTokenSubstring(tok)

		if result == nil {
			result = tokIDs
			continue
		}

		for id := range result {
			if _, ok := tokIDs[id]; !ok {
				delete(result, id)
			}
		}
	}

	return result
}

// idsForTokenSubstring finds every name or path vocabulary token
// containing fragment as a substring and unions their postings, so a
// plain token matching only a path component (e.g. a directory name)
// still narrows the candidate set instead of being excluded before
// matchesFilters ever sees it.
func (s *Snapshot) idsForTokenSubstring(fragment string) map[idhash.ID]struct{} {
	out := make(map[idhash.ID]struct{})

	for _, vocabTok := range s.vocab {
		if !strings.Contains(vocabTok, fragment) {
			continue
		}

		for _, id := range s.postings[vocabTok] {
			out[id] = struct{}{}
		}
	}

	for _, vocabTok := range s.pathVocab {
		if !strings.Contains(vocabTok, fragment) {
			continue
		}

		for _, id := range s.pathPostings[vocabTok] {
			out[id] = struct{}{}
		}
	}

	return out
}

func matchesFilters(doc document, plan Plan) bool {
	if plan.Ext != "" {
		suffix := "." + strings.ToLower(plan.Ext)
		if !strings.HasSuffix(doc.NameLower, suffix) {
			return false
		}
	}

	if plan.Folder != "" {
		if !strings.Contains(doc.PathLower, strings.ToLower(plan.Folder)) {
			return false
		}
	}

	if plan.Regex != nil {
		if !plan.Regex.MatchString(doc.Name) {
			return false
		}
	}

	for _, tok := range plan.Tokens {
		if !strings.Contains(doc.NameLower, tok) && !strings.Contains(doc.PathLower, tok) {
			return false
		}
	}

	return true
}

// less implements the default tie-break order: folders first, then name
// case-insensitive lexicographic, then path.
func (s *Snapshot) less(a, b idhash.ID) bool {
	da, aok := s.docs[a]
	db, bok := s.docs[b]

	if !aok || !bok {
		return idLess(a, b)
	}

	if da.IsFolder != db.IsFolder {
		return da.IsFolder
	}

	if da.NameLower != db.NameLower {
		return da.NameLower < db.NameLower
	}

	if da.Path != db.Path {
		return da.Path < db.Path
	}

	return idLess(a, b)
}

// DocByID exposes the indexed name/path/is_folder fields for id, for
// callers (tests, field-filter evaluation) that need them without a full
// metadata store round trip.
func (s *Snapshot) DocByID(id idhash.ID) (name, path string, isFolder bool, ok bool) {
	d, ok := s.docs[id]
	if !ok {
		return "", "", false, false
	}

	return d.Name, d.Path, d.IsFolder, true
}
