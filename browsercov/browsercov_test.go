package browsercov_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/browsercov"
)

// fakeSourceMap is a minimal SourceMap whose Entries are supplied verbatim by the test.
type fakeSourceMap struct {
	entries []browsercov.MappingEntry
}

func (f fakeSourceMap) Entries() []browsercov.MappingEntry {
	return f.entries
}

func TestLowerSizeDescendingPrecedence(t *testing.T) {
	// S4: compiled source of 10 bytes, ranges (input order) [(0,10,true), (3,6,false)].
	// After size-desc sort the smaller range paints last, so offsets 3-5 are false, others true.
	script := browsercov.ScriptCoverage{
		Functions: [][]browsercov.Range{
			{
				{StartOffset: 0, EndOffset: 10, Count: 1},
				{StartOffset: 3, EndOffset: 6, Count: 0},
			},
		},
	}

	// One compiled line of 10 characters, each mapped 1:1 to a distinct source line so we can
	// observe the painted coverage per offset.
	compiledSource := "0123456789"
	entries := make([]browsercov.MappingEntry, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, browsercov.MappingEntry{
			CompiledLine: 0,
			CompiledCol:  i,
			SourceURL:    "a.dart",
			SourceLine:   i,
			SourceCol:    0,
		})
	}

	set, err := browsercov.Lower(script, browsercov.LowerOptions{
		ScriptID:       "script-1",
		CompiledSource: compiledSource,
		SourceMap:      fakeSourceMap{entries: entries},
	})
	require.NoError(t, err)

	lineHits := set["a.dart"].LineHits
	for offset := 0; offset < 10; offset++ {
		want := 1
		if offset >= 3 && offset < 6 {
			want = 0
		}
		assert.Equalf(t, want, lineHits[offset+1], "offset %d", offset)
	}
}

func TestLowerSkipsSDKSentinelSources(t *testing.T) {
	script := browsercov.ScriptCoverage{
		Functions: [][]browsercov.Range{{{StartOffset: 0, EndOffset: 1, Count: 1}}},
	}

	entries := []browsercov.MappingEntry{
		{CompiledLine: 0, CompiledCol: 0, SourceURL: "org-dartlang-sdk:/sdk/core.dart", SourceLine: 0},
	}

	set, err := browsercov.Lower(script, browsercov.LowerOptions{
		ScriptID:       "s",
		CompiledSource: "a",
		SourceMap:      fakeSourceMap{entries: entries},
	})
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestLowerLastWriteWinsOnSharedSourceLine(t *testing.T) {
	script := browsercov.ScriptCoverage{
		Functions: [][]browsercov.Range{
			{
				{StartOffset: 0, EndOffset: 1, Count: 1},
				{StartOffset: 1, EndOffset: 2, Count: 0},
			},
		},
	}

	entries := []browsercov.MappingEntry{
		{CompiledLine: 0, CompiledCol: 0, SourceURL: "a.dart", SourceLine: 4},
		{CompiledLine: 0, CompiledCol: 1, SourceURL: "a.dart", SourceLine: 4},
	}

	set, err := browsercov.Lower(script, browsercov.LowerOptions{
		ScriptID:       "s",
		CompiledSource: "ab",
		SourceMap:      fakeSourceMap{entries: entries},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, set["a.dart"].LineHits[5])
}

func TestLowerInvalidRangeFails(t *testing.T) {
	script := browsercov.ScriptCoverage{
		Functions: [][]browsercov.Range{{{StartOffset: 5, EndOffset: 2, Count: 1}}},
	}

	_, err := browsercov.Lower(script, browsercov.LowerOptions{
		ScriptID:       "s",
		CompiledSource: "abcdef",
		SourceMap:      fakeSourceMap{},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, browsercov.ErrInvalidCoverageEntry)
}
