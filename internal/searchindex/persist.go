package searchindex

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/evfind/evfind/internal/idhash"
	"github.com/evfind/evfind/pkg/fs"
)

// currentSegmentVersion is written to index/VERSION on first save and
// checked on every load.
const currentSegmentVersion = 1

const (
	segmentFileName = "segment.gob"
	versionFileName = "VERSION"
)

// ErrIncompatible reports an index/VERSION that does not match the
// version this build understands. Callers should use
// errors.Is(err, ErrIncompatible).
var ErrIncompatible = errors.New("searchindex incompatible version")

// ErrCorrupt reports a segment file that failed to decode.
// Callers should use errors.Is(err, ErrCorrupt).
var ErrCorrupt = errors.New("searchindex segment corrupt")

// segmentDoc is the gob-serializable form of a document; idhash.ID is a
// fixed-size array and gob-encodes directly, but the map key type must be
// named for gob's benefit, hence the parallel slice-of-pairs shape below.
type segmentDoc struct {
	ID     idhash.ID
	Name   string
	Path   string
	Folder bool
}

type segment struct {
	Docs []segmentDoc
}

// Save persists idx's current snapshot to dir, atomically, alongside a
// VERSION marker. Only the document side table is persisted; postings and
// vocabulary are cheap to rebuild from documents on Load, so persisting
// them would be redundant derived state.
func Save(fsys fs.FS, dir string, snap *Snapshot) error {
	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("searchindex: save: create dir: %w", err)
	}

	writer := fs.NewAtomicWriter(fsys)

	versionPath := filepath.Join(dir, versionFileName)
	if err := writer.Write(versionPath, bytes.NewReader([]byte(strconv.Itoa(currentSegmentVersion))), writer.DefaultOptions()); err != nil {
		return fmt.Errorf("searchindex: save: write VERSION: %w", err)
	}

	seg := segment{Docs: make([]segmentDoc, 0, len(snap.docs))}
	for id, d := range snap.docs {
		seg.Docs = append(seg.Docs, segmentDoc{ID: id, Name: d.Name, Path: d.Path, Folder: d.IsFolder})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(seg); err != nil {
		return fmt.Errorf("searchindex: save: encode: %w", err)
	}

	segmentPath := filepath.Join(dir, segmentFileName)
	if err := writer.Write(segmentPath, bytes.NewReader(buf.Bytes()), writer.DefaultOptions()); err != nil {
		return fmt.Errorf("searchindex: save: write segment: %w", err)
	}

	return nil
}

// Load rebuilds an Index from a previously Saved segment in dir. If dir
// has no segment file yet, Load returns a fresh empty Index and no error.
func Load(fsys fs.FS, dir string) (*Index, error) {
	versionPath := filepath.Join(dir, versionFileName)

	versionData, err := fsys.ReadFile(versionPath)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("searchindex: load: read VERSION: %w", err)
	}

	stored, err := strconv.Atoi(string(bytes.TrimSpace(versionData)))
	if err != nil {
		return nil, fmt.Errorf("searchindex: load: %w: unparseable VERSION %q", ErrIncompatible, versionData)
	}

	if stored != currentSegmentVersion {
		return nil, fmt.Errorf("searchindex: load: %w: on-disk version %d, want %d", ErrIncompatible, stored, currentSegmentVersion)
	}

	segmentPath := filepath.Join(dir, segmentFileName)

	data, err := fsys.ReadFile(segmentPath)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("searchindex: load: read segment: %w", err)
	}

	var seg segment
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&seg); err != nil {
		return nil, fmt.Errorf("searchindex: load: %w: %v", ErrCorrupt, err)
	}

	idx := New()

	for _, d := range seg.Docs {
		doc := document{
			Name:      d.Name,
			Path:      d.Path,
			NameLower: toLower(d.Name),
			PathLower: toLower(d.Path),
			IsFolder:  d.Folder,
		}
		idx.pending[d.ID] = &doc
	}

	idx.Commit()

	return idx, nil
}
