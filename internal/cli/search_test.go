package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedTwoFiles(t *testing.T, dir string) string {
	t.Helper()

	root := filepath.Join(dir, "files")
	require.NoError(t, os.MkdirAll(root, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.pdf"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	return root
}

func Test_Search_Without_Query_Or_Interactive_Is_An_Error(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := seedTwoFiles(t, dir)

	_, stderr, code := runEvfind(t, dir, "--root", root, "build")
	require.Equal(t, 0, code, stderr)

	_, stderr, code = runEvfind(t, dir, "--root", root, "search")
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr, "query argument required")
}

func Test_Search_Plain_Token_Finds_Matching_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := seedTwoFiles(t, dir)

	_, stderr, code := runEvfind(t, dir, "--root", root, "build")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := runEvfind(t, dir, "--root", root, "search", "report")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "[file]")
	require.Contains(t, stdout, "report.pdf")
	require.NotContains(t, stdout, "notes.txt")
	require.Contains(t, stdout, "1 shown, 1 total,")
}

func Test_Search_Ext_Field_Finds_Matching_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := seedTwoFiles(t, dir)

	_, stderr, code := runEvfind(t, dir, "--root", root, "build")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := runEvfind(t, dir, "--root", root, "search", "ext:txt")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "notes.txt")
	require.NotContains(t, stdout, "report.pdf")
}

func Test_Search_Regex_Flag_Matches_Whole_Name(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := seedTwoFiles(t, dir)

	_, stderr, code := runEvfind(t, dir, "--root", root, "build")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := runEvfind(t, dir, "--root", root, "search", "--regex", ".*\\.pdf")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "report.pdf")
	require.NotContains(t, stdout, "notes.txt")
}

func Test_Search_Limit_Caps_Shown_Count(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := seedTwoFiles(t, dir)

	_, stderr, code := runEvfind(t, dir, "--root", root, "build")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := runEvfind(t, dir, "--root", root, "search", "--limit", "1", "e")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "1 shown,")
}

func Test_Search_Invalid_Regex_Is_An_Error(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := seedTwoFiles(t, dir)

	_, stderr, code := runEvfind(t, dir, "--root", root, "build")
	require.Equal(t, 0, code, stderr)

	_, stderr, code = runEvfind(t, dir, "--root", root, "search", "--regex", "(")
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr, "invalid regex")
}

func Test_Search_Without_Roots_Configured_Is_An_Error(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, stderr, code := runEvfind(t, dir, "search", "anything")
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr, "roots")
}
