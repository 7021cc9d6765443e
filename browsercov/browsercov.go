// Package browsercov lowers browser-style precise coverage (byte-offset ranges over a
// compiled script's text) into the canonical per-source-line hit map, via source-map
// resolution. The source-map parser, the compiled-source/source-map loaders, and the
// source-URL-to-URI resolution are all injected: this package only implements the
// flatten/paint/project/lower/aggregate pipeline.
package browsercov

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trailofbits/dartcov/hitmap"
	"github.com/trailofbits/dartcov/logging"
)

// browsercovLogger is the sub-logger used by this package.
var browsercovLogger = logging.GlobalLogger.NewSubLogger("service", logging.BROWSERCOV_SERVICE)

// ErrInvalidCoverageEntry is returned when a range's offsets are malformed (negative, or start
// after end).
var ErrInvalidCoverageEntry = errors.New("invalid coverage entry")

// DefaultSDKSentinelPrefix is the source-URL prefix used to recognize and skip runtime-SDK
// sources during lowering, unless LowerOptions overrides it.
const DefaultSDKSentinelPrefix = "org-dartlang-sdk:"

// Range is a single {startOffset, endOffset, count} byte range over a compiled script's text,
// as delivered by the browser's precise-coverage API. The range is half-open: [Start, End).
type Range struct {
	StartOffset int
	EndOffset   int
	Count       int
}

// CoverageInfo is a flattened Range with its count collapsed to a covered flag.
type CoverageInfo struct {
	StartOffset int
	EndOffset   int
	Covered     bool
}

// Position is a 1-based (line, column) pair in the compiled script's text.
type Position struct {
	Line   int
	Column int
}

// ScriptCoverage is one script's precise-coverage payload: a list of function entries, each a
// list of ranges over the compiled source.
type ScriptCoverage struct {
	Functions [][]Range
}

// MappingEntry is a single source-map entry: a compiled (line, column) position (0-based, per
// source-map convention) mapped to an original (sourceURL, line, column) position (also
// 0-based).
type MappingEntry struct {
	CompiledLine int
	CompiledCol  int
	SourceURL    string
	SourceLine   int
	SourceCol    int
}

// SourceMap exposes a parsed source map's mapping entries. Entries must be returned in the
// source map's natural iteration order (compiled line then column, ascending) so that
// last-write-wins aggregation (step 6) stays deterministic.
type SourceMap interface {
	Entries() []MappingEntry
}

// SourceURIResolver resolves a source-map source URL (plus the owning script id, for
// disambiguation) to an absolute source URI.
type SourceURIResolver func(sourceURL string, scriptID string) string

// LowerOptions bundles the per-script inputs and injected collaborators Lower needs.
type LowerOptions struct {
	// ScriptID identifies the compiled script, passed through to ResolveSourceURI.
	ScriptID string
	// CompiledSource is the compiled script's full text.
	CompiledSource string
	// SourceMap is the parsed source map for CompiledSource.
	SourceMap SourceMap
	// ResolveSourceURI converts a source-map source URL into an absolute source URI.
	ResolveSourceURI SourceURIResolver
	// SDKSentinelPrefix overrides DefaultSDKSentinelPrefix when non-empty.
	SDKSentinelPrefix string
}

// Lower runs the full byte-range-to-hit-map pipeline for one script: flatten, sort by size
// descending, paint, project to compiled-text positions, lower through the source map, and
// aggregate per source URI. A missing SourceMap or empty CompiledSource is not an error: the
// script simply contributes nothing.
func Lower(script ScriptCoverage, opts LowerOptions) (hitmap.CoverageMapSet, error) {
	if opts.SourceMap == nil || opts.CompiledSource == "" {
		return hitmap.NewCoverageMapSet(), nil
	}

	infos, err := flatten(script)
	if err != nil {
		return nil, err
	}

	sortBySizeDescending(infos)

	offsetCoverage := paint(infos, len(opts.CompiledSource))

	coveredPositions := project(opts.CompiledSource, offsetCoverage)

	sentinelPrefix := opts.SDKSentinelPrefix
	if sentinelPrefix == "" {
		sentinelPrefix = DefaultSDKSentinelPrefix
	}

	lineCoverage := lower(opts.SourceMap, coveredPositions, opts.ScriptID, opts.ResolveSourceURI, sentinelPrefix)

	return promote(lineCoverage), nil
}

// flatten collapses every function's ranges into a single list of CoverageInfo records.
func flatten(script ScriptCoverage) ([]CoverageInfo, error) {
	var infos []CoverageInfo

	for _, ranges := range script.Functions {
		for _, r := range ranges {
			if r.StartOffset < 0 || r.EndOffset < r.StartOffset {
				return nil, errors.Wrapf(ErrInvalidCoverageEntry, "range [%d, %d)", r.StartOffset, r.EndOffset)
			}

			infos = append(infos, CoverageInfo{
				StartOffset: r.StartOffset,
				EndOffset:   r.EndOffset,
				Covered:     r.Count > 0,
			})
		}
	}

	return infos, nil
}

// sortBySizeDescending stable-sorts infos by (EndOffset - StartOffset) descending, so that
// larger enclosing ranges paint first and smaller nested ranges overwrite them. Ties preserve
// input order.
func sortBySizeDescending(infos []CoverageInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		sizeI := infos[i].EndOffset - infos[i].StartOffset
		sizeJ := infos[j].EndOffset - infos[j].StartOffset
		return sizeI > sizeJ
	})
}

// paint applies infos, in order, onto a bool array of the given length: for each range, every
// offset in [start, end) is set to the range's covered flag. Smaller ranges painted later (per
// sortBySizeDescending) overwrite larger ones, so the most specific range wins per offset.
// Offsets outside [0, length) are clamped rather than failing: browser precise-coverage ranges
// are occasionally reported slightly past EOF for the script's trailing synthetic wrapper.
func paint(infos []CoverageInfo, length int) []bool {
	coverage := make([]bool, length)

	for _, info := range infos {
		start := info.StartOffset
		end := info.EndOffset
		if start < 0 {
			start = 0
		}
		if end > length {
			end = length
		}
		for i := start; i < end; i++ {
			coverage[i] = info.Covered
		}
	}

	return coverage
}

// project walks the compiled source, maintaining a 1-based (line, column) position, and
// returns the set of positions whose byte offset was painted covered.
func project(compiledSource string, offsetCoverage []bool) map[Position]bool {
	covered := make(map[Position]bool)

	line := 1
	column := 0

	for i := 0; i < len(compiledSource); i++ {
		column++

		if i < len(offsetCoverage) && offsetCoverage[i] {
			covered[Position{Line: line, Column: column}] = true
		}

		if compiledSource[i] == '\n' {
			line++
			column = 0
		}
	}

	return covered
}

// lower walks the source map's entries in order and aggregates a per-source-URI,
// per-source-line covered flag. Entries with no source URL, or whose source URL carries the
// SDK sentinel prefix, are skipped. The source-map's 0-based line/column are converted to the
// compiled-text's 1-based convention by adding 1 before the coveredPositions lookup; the
// recorded source line is likewise sourceLine+1. Iteration order determines the final value
// when multiple entries target the same source line (last write wins).
func lower(sm SourceMap, coveredPositions map[Position]bool, scriptID string, resolveURI SourceURIResolver, sentinelPrefix string) map[string]map[int]bool {
	aggregate := make(map[string]map[int]bool)

	for _, entry := range sm.Entries() {
		if entry.SourceURL == "" {
			continue
		}
		if strings.HasPrefix(entry.SourceURL, sentinelPrefix) {
			continue
		}

		uri := entry.SourceURL
		if resolveURI != nil {
			uri = resolveURI(entry.SourceURL, scriptID)
		}

		compiledKey := Position{Line: entry.CompiledLine + 1, Column: entry.CompiledCol + 1}
		sourceLine := entry.SourceLine + 1

		lines, ok := aggregate[uri]
		if !ok {
			lines = make(map[int]bool)
			aggregate[uri] = lines
		}

		lines[sourceLine] = coveredPositions[compiledKey]
	}

	return aggregate
}

// promote converts the boolean per-line coverage aggregate into the canonical hit-count form:
// 1 for covered, 0 for not covered.
func promote(lineCoverage map[string]map[int]bool) hitmap.CoverageMapSet {
	set := hitmap.NewCoverageMapSet()

	for uri, lines := range lineCoverage {
		hm := hitmap.New()
		for line, covered := range lines {
			if covered {
				hm.LineHits[line] = 1
			} else {
				hm.LineHits[line] = 0
			}
		}
		set[uri] = hm
	}

	return set
}
