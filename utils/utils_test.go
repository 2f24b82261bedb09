package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteFileAtomicUnwritableDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := WriteFileAtomic(filepath.Join(blocker, "out.csv"), []byte("data"), 0644)
	require.Error(t, err)

	var ioErr *IOError
	assert.True(t, errors.As(err, &ioErr))
}

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("PM_TEST_VALUE", "")
	assert.Equal(t, "fallback", GetEnv("PM_TEST_VALUE", "fallback"))

	t.Setenv("PM_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("PM_TEST_VALUE", "fallback"))
}

func TestStageFileLeavesDestinationUntilCommit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "processed.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	staged, err := StageFile(path, []byte("new"), 0644)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	staged.Discard()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	staged, err = StageFile(path, []byte("new"), 0644)
	require.NoError(t, err)
	require.NoError(t, staged.Commit())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStageFileRejectsDirectoryDestination(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "processed.csv")
	require.NoError(t, os.Mkdir(path, 0755))

	_, err := StageFile(path, []byte("data"), 0644)
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "nothing is staged for a directory destination")
}

func TestJoinBaseName(t *testing.T) {
	t.Parallel()

	dir := filepath.Join("var", "reports")
	path, err := JoinBaseName(dir, "weekly.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "weekly.csv"), path)

	for _, name := range []string{"", " ", ".", "..", "../weekly.csv", "/tmp/weekly.csv", `..\weekly.csv`, "sub/weekly.csv"} {
		_, err := JoinBaseName(dir, name)
		assert.ErrorIs(t, err, ErrUnsafeName, name)
	}
}
