package vmservice_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/vmservice"
)

func TestLineCacheStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.db")

	store, err := vmservice.OpenLineCacheStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("a.dart", []int{1, 2, 3}))
	require.NoError(t, store.Close())

	reopened, err := vmservice.OpenLineCacheStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	lines, found, err := reopened.Get("a.dart")
	require.NoError(t, err)
	require.True(t, found)
	sort.Ints(lines)
	require.Equal(t, []int{1, 2, 3}, lines)
}

func TestLineCacheStoreKeysListsEveryStoredScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.db")

	store, err := vmservice.OpenLineCacheStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("a.dart", []int{1}))
	require.NoError(t, store.Put("b.dart", []int{2}))

	keys, err := store.Keys()
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{"a.dart", "b.dart"}, keys)
}
