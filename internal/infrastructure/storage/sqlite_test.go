package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/infrastructure/storage/storagetest"
	"CreatorScanner/internal/ports"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "tracking.db")
	store, err := Open(context.Background(), "sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(t *testing.T) ports.Store {
		return openSQLite(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openSQLite(t)
	require.NoError(t, Migrate(store.DB(), DialectSQLite, nil))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "mysql", "whatever", nil)
	require.Error(t, err)

	_, err = Open(context.Background(), "sqlite", "", nil)
	require.Error(t, err)
}

func TestWithPragmas(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"file:a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		withPragmas("file:a.db"))
	assert.Equal(t,
		"file:a.db?_pragma=busy_timeout(100)&_pragma=foreign_keys(1)",
		withPragmas("file:a.db?_pragma=busy_timeout(100)"))
}

func TestKnownNativeIDsChunksLargeInputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openSQLite(t)
	src, err := store.CreateSource(ctx, newSource("patreon", "bulk"))
	require.NoError(t, err)

	ids := make([]string, 0, knownIDsChunk*2+10)
	for i := range cap(ids) {
		ids = append(ids, nativeID(i))
	}
	for _, id := range []string{ids[0], ids[knownIDsChunk], ids[len(ids)-1]} {
		_, err := store.CreateItem(ctx, src.SourceID, id, "", testTime)
		require.NoError(t, err)
	}

	known, err := store.KnownNativeIDs(ctx, src.SourceID, ids)
	require.NoError(t, err)
	assert.Len(t, known, 3)
	assert.True(t, known[ids[knownIDsChunk]])
}
