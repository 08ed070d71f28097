package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evfind/evfind/internal/engine"
)

func Test_BuildIndex_Then_SearchFiles_End_To_End(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	e, err := engine.New(engine.Options{
		DataDir: filepath.Join(t.TempDir(), "data"),
		Roots:   []string{root},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Close() }()

	e.BuildIndex(ctx, nil, false)

	require.Eventually(t, func() bool {
		return e.GetIndexStatus().IsReady
	}, 2*time.Second, 10*time.Millisecond)

	result, err := e.SearchFiles(ctx, "report", false, 10)
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalFound)
	require.Equal(t, "report.pdf", result.Hits[0].Name)
}

func Test_BuildIndex_NonForce_Is_NoOp_Once_Ready(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	e, err := engine.New(engine.Options{
		DataDir: filepath.Join(t.TempDir(), "data"),
		Roots:   []string{root},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Close() }()

	e.BuildIndex(ctx, nil, false)
	require.Eventually(t, func() bool { return e.GetIndexStatus().IsReady }, 2*time.Second, 10*time.Millisecond)

	before := e.GetIndexStatus().TotalFiles

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	e.BuildIndex(ctx, nil, false) // no-op: index is already Ready, not Empty

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, before, e.GetIndexStatus().TotalFiles)
}

func Test_Start_Twice_Fails(t *testing.T) {
	t.Parallel()

	e, err := engine.New(engine.Options{
		DataDir: filepath.Join(t.TempDir(), "data"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Close() }()

	require.ErrorIs(t, e.Start(ctx), engine.ErrAlreadyRunning)
}

func Test_SearchFiles_Before_Build_Is_IndexNotReady(t *testing.T) {
	t.Parallel()

	e, err := engine.New(engine.Options{
		DataDir: filepath.Join(t.TempDir(), "data"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Close() }()

	_, err = e.SearchFiles(ctx, "x", false, 10)
	require.Error(t, err)
}

func Test_Reopen_Persists_Index_Across_Close(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	dataDir := filepath.Join(t.TempDir(), "data")

	e1, err := engine.New(engine.Options{DataDir: dataDir, Roots: []string{root}})
	require.NoError(t, err)

	ctx1, cancel1 := context.WithCancel(context.Background())
	require.NoError(t, e1.Start(ctx1))

	e1.BuildIndex(ctx1, nil, false)
	require.Eventually(t, func() bool { return e1.GetIndexStatus().IsReady }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e1.Close())
	cancel1()

	e2, err := engine.New(engine.Options{DataDir: dataDir, Roots: []string{root}})
	require.NoError(t, err)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	require.NoError(t, e2.Start(ctx2))
	defer func() { _ = e2.Close() }()

	result, err := e2.SearchFiles(ctx2, "a.txt", false, 10)
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalFound)
}
