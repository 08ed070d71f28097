package searchindex_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/internal/searchindex"
	"github.com/evfind/evfind/pkg/fs"
)

func Test_Save_Load_Round_Trips(t *testing.T) {
	t.Parallel()

	realFS := fs.NewReal()
	dir := filepath.Join(t.TempDir(), "index")

	a := entry.New("/r/a.txt", "a.txt", 1, time.Now(), false)
	b := entry.New("/r/sub", "sub", 0, time.Now(), true)

	idx := searchindex.New()
	idx.Insert(a)
	idx.Insert(b)
	snap := idx.Commit()

	require.NoError(t, searchindex.Save(realFS, dir, snap))

	loaded, err := searchindex.Load(realFS, dir)
	require.NoError(t, err)

	ids, total := loaded.Current().Search(searchindex.Plan{Tokens: searchindex.Tokenize("txt")}, 10)
	require.Equal(t, 1, total)
	require.Equal(t, a.ID, ids[0])

	name, path, isFolder, ok := loaded.Current().DocByID(b.ID)
	require.True(t, ok)
	require.Equal(t, "sub", name)
	require.Equal(t, "/r/sub", path)
	require.True(t, isFolder)
}

func Test_Load_Missing_Segment_Returns_Empty_Index(t *testing.T) {
	t.Parallel()

	realFS := fs.NewReal()
	dir := filepath.Join(t.TempDir(), "index")

	idx, err := searchindex.Load(realFS, dir)
	require.NoError(t, err)

	ids, total := idx.Current().Search(searchindex.Plan{Tokens: []string{"anything"}}, 10)
	require.Equal(t, 0, total)
	require.Empty(t, ids)
}

func Test_Load_Incompatible_Version_Fails(t *testing.T) {
	t.Parallel()

	realFS := fs.NewReal()
	dir := filepath.Join(t.TempDir(), "index")

	idx := searchindex.New()
	idx.Insert(entry.New("/r/a.txt", "a.txt", 1, time.Now(), false))
	require.NoError(t, searchindex.Save(realFS, dir, idx.Commit()))

	require.NoError(t, realFS.WriteFile(filepath.Join(dir, "VERSION"), []byte("42"), 0o644))

	_, err := searchindex.Load(realFS, dir)
	require.ErrorIs(t, err, searchindex.ErrIncompatible)
}
