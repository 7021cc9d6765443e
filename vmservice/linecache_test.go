package vmservice_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trailofbits/dartcov/vmservice"
)

func TestMemoryLineCacheMergesAcrossUpdates(t *testing.T) {
	cache := vmservice.NewMemoryLineCache(nil)

	cache.Update("a.dart", []int{1, 2, 3})
	cache.Update("a.dart", []int{3, 4})

	lines, ok := cache.Lines("a.dart")
	assert.True(t, ok)
	sort.Ints(lines)
	assert.Equal(t, []int{1, 2, 3, 4}, lines)
}

func TestMemoryLineCacheMissForUnknownScript(t *testing.T) {
	cache := vmservice.NewMemoryLineCache(nil)
	_, ok := cache.Lines("unknown.dart")
	assert.False(t, ok)
}

func TestMemoryLineCacheKnownListsUpdatedScripts(t *testing.T) {
	cache := vmservice.NewMemoryLineCache(nil)

	cache.Update("a.dart", []int{1, 2})
	cache.Update("b.dart", []int{3})

	known := cache.Known()
	sort.Strings(known)
	assert.Equal(t, []string{"a.dart", "b.dart"}, known)
}
