package entry

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// recordMagic tags each encoded record so a reader can detect gross
// corruption (e.g. reading from the wrong offset) before trusting lengths.
const recordMagic uint32 = 0x45564e31 // "EVN1"

// ErrRecordCorrupt indicates a record failed its magic or length checks.
// Callers should use errors.Is(err, ErrRecordCorrupt).
var ErrRecordCorrupt = errors.New("entry record corrupt")

// Encode appends the binary encoding of e to w.
//
// Layout: magic(4) name-len(2) name path-len(2) path size(8) modified(8)
// is_folder(1). id is not stored — it is always recomputed from path via
// idhash.FromPath, keeping a single source of truth for the id/path
// relationship (invariant 1 in the metadata store's contract).
func Encode(w io.Writer, e Entry) error {
	nameBytes := []byte(e.Name)
	pathBytes := []byte(e.Path)

	if len(nameBytes) > 0xFFFF {
		return fmt.Errorf("%w: name too long (%d bytes)", ErrRecordCorrupt, len(nameBytes))
	}

	if len(pathBytes) > 0xFFFF {
		return fmt.Errorf("%w: path too long (%d bytes)", ErrRecordCorrupt, len(pathBytes))
	}

	var header [4 + 2]byte
	binary.LittleEndian.PutUint32(header[0:4], recordMagic)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(nameBytes)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing entry header: %w", err)
	}

	if _, err := w.Write(nameBytes); err != nil {
		return fmt.Errorf("writing entry name: %w", err)
	}

	var pathLen [2]byte
	binary.LittleEndian.PutUint16(pathLen[:], uint16(len(pathBytes)))

	if _, err := w.Write(pathLen[:]); err != nil {
		return fmt.Errorf("writing entry path length: %w", err)
	}

	if _, err := w.Write(pathBytes); err != nil {
		return fmt.Errorf("writing entry path: %w", err)
	}

	var tail [8 + 8 + 1]byte
	binary.LittleEndian.PutUint64(tail[0:8], e.Size)
	binary.LittleEndian.PutUint64(tail[8:16], uint64(e.Modified.Unix()))

	if e.IsFolder {
		tail[16] = 1
	}

	if _, err := w.Write(tail[:]); err != nil {
		return fmt.Errorf("writing entry tail: %w", err)
	}

	return nil
}

// Decode reads one encoded Entry from r, as written by Encode.
//
// Returns io.EOF (unwrapped) when r is exhausted exactly at a record
// boundary, so callers can loop with `for { e, err := Decode(r); err ==
// io.EOF { break } }`.
func Decode(r *bufio.Reader) (Entry, error) {
	var header [4 + 2]byte

	_, err := io.ReadFull(r, header[:])
	if errors.Is(err, io.EOF) {
		return Entry{}, io.EOF
	}

	if err != nil {
		return Entry{}, fmt.Errorf("reading entry header: %w", err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != recordMagic {
		return Entry{}, fmt.Errorf("%w: bad magic %x", ErrRecordCorrupt, magic)
	}

	nameLen := binary.LittleEndian.Uint16(header[4:6])

	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return Entry{}, fmt.Errorf("%w: reading name: %v", ErrRecordCorrupt, err)
	}

	var pathLenBuf [2]byte
	if _, err := io.ReadFull(r, pathLenBuf[:]); err != nil {
		return Entry{}, fmt.Errorf("%w: reading path length: %v", ErrRecordCorrupt, err)
	}

	pathLen := binary.LittleEndian.Uint16(pathLenBuf[:])

	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return Entry{}, fmt.Errorf("%w: reading path: %v", ErrRecordCorrupt, err)
	}

	var tail [8 + 8 + 1]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return Entry{}, fmt.Errorf("%w: reading tail: %v", ErrRecordCorrupt, err)
	}

	size := binary.LittleEndian.Uint64(tail[0:8])
	modifiedUnix := int64(binary.LittleEndian.Uint64(tail[8:16]))
	isFolder := tail[16] != 0

	path := string(pathBytes)

	e := New(path, string(nameBytes), size, time.Unix(modifiedUnix, 0).UTC(), isFolder)

	return e, nil
}
