// Package entry defines the Entry record — the unit of indexing shared by
// the metadata store and the search index — and its binary encoding.
//
// Names and paths are case-preserved on disk. The search index lowercases
// tokens before indexing and querying (case-insensitive search); rename
// detection in the ingest pipeline compares path bytes directly
// (case-sensitive), so a path differing only in case is a distinct path.
package entry

import (
	"time"

	"github.com/evfind/evfind/internal/idhash"
)

// Entry is one indexed file or directory record.
type Entry struct {
	// ID is a stable identifier derived by hashing Path. It never changes
	// while Path is unchanged; a rename produces a new ID.
	ID idhash.ID

	// Name is the final path component, case-preserved.
	Name string

	// Path is absolute and normalized: no "..", no trailing separator
	// except for a root path, platform-native separator.
	Path string

	// Size is the byte count. Always 0 when IsFolder.
	Size uint64

	// Modified is the last modification time, at-least-second resolution.
	Modified time.Time

	// IsFolder reports whether this Entry is a directory.
	IsFolder bool
}

// New builds an Entry from its path and stat-derived attributes, deriving
// ID from path via idhash.
func New(path, name string, size uint64, modified time.Time, isFolder bool) Entry {
	if isFolder {
		size = 0
	}

	return Entry{
		ID:       idhash.FromPath(path),
		Name:     name,
		Path:     path,
		Size:     size,
		Modified: modified.Truncate(time.Second),
		IsFolder: isFolder,
	}
}
