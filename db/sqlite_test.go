package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictive-maintenance/machine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "profiles.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorePutOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "M1", []byte("one")))
	require.NoError(t, store.Put(ctx, "M1", []byte("two")))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "two", string(records[0].Data))
}

func TestSQLiteStoreReplaceAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, "OLD", []byte("{}")))

	require.NoError(t, store.ReplaceAll(ctx, []machine.StoredRecord{
		{Key: "B", Data: []byte("b")},
		{Key: "A", Data: []byte("a")},
	}))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Key)
	assert.Equal(t, "B", records[1].Key)
}

func TestSQLiteStoreReplaceAllRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, "KEEP", []byte("{}")))

	err := store.ReplaceAll(ctx, []machine.StoredRecord{{Key: "A"}, {Key: "../bad"}})
	require.Error(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "KEEP", records[0].Key)
}

func TestSQLiteStoreBacksRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	registry := machine.NewRegistry(store, nil)
	_, err := registry.ReplaceAll(ctx, []machine.NewProfile{
		{ID: "M1", Type: "L", Features: map[string]any{"torque": 40.1}},
		{ID: "M2", Type: "H", Features: map[string]any{"torque": 55.0, "failure": 1}},
	})
	require.NoError(t, err)

	reloaded, err := machine.LoadRegistry(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2"}, reloaded.IDs(""))
	m2, _ := reloaded.Get("M2")
	assert.Equal(t, 55.0, m2.Features.Torque)
}
