package machine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePutIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "machine_profiles"))
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "M1", []byte(`{"v":1}`)))
	require.NoError(t, store.Put(ctx, "M1", []byte(`{"v":2}`)))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "M1", records[0].Key)
	assert.Equal(t, `{"v":2}`, string(records[0].Data))
}

func TestFileStoreRejectsPathLikeKeys(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, store.Put(context.Background(), "../escape", []byte("{}")), ErrInvalidMachineID)
}

func TestFileStoreListSkipsForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".M1.json.123.tmp"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0755))
	require.NoError(t, store.Put(context.Background(), "M1", []byte("{}")))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "M1", records[0].Key)
}

func TestFileStoreReplaceAllSwapsPopulation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "machine_profiles")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "OLD", []byte("{}")))
	require.NoError(t, store.ReplaceAll(ctx, []StoredRecord{
		{Key: "A", Data: []byte(`{"a":1}`)},
		{Key: "B", Data: []byte(`{"b":1}`)},
	}))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Key)
	assert.Equal(t, "B", records[1].Key)

	siblings, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, siblings, 1, "staging and retired directories must be cleaned up")
}

func TestFileStoreReplaceAllFailureKeepsPreviousPopulation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "KEEP", []byte("{}")))

	err = store.ReplaceAll(ctx, []StoredRecord{
		{Key: "A", Data: []byte("{}")},
		{Key: "bad/key", Data: []byte("{}")},
	})
	require.Error(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "KEEP", records[0].Key)
}
