// Package hitmap implements the canonical in-memory representation of per-file coverage
// (the "hit map" algebra): merge, ignore-directive masking, and JSON round-tripping. It is
// the common currency both the VM-Service collector and the browser-coverage lowering
// pipeline produce, and the report formatters consume.
package hitmap

import (
	"github.com/pkg/errors"
	"github.com/trailofbits/dartcov/logging"
)

// hitmapLogger is the sub-logger used by this package.
var hitmapLogger = logging.GlobalLogger.NewSubLogger("service", logging.HITMAP_SERVICE)

// ErrInconsistentFunctionName is returned by Merge when two hit maps disagree on the name of
// the function declared at the same line.
var ErrInconsistentFunctionName = errors.New("inconsistent function name for declaration line")

// HitMap is the canonical coverage record for a single source file.
//
// LineHits is required: a line present with count 0 means "known coverable, not executed";
// an absent line means "not known to be coverable". FuncHits/FuncNames/BranchHits are optional
// and present only when function or branch coverage was requested/collected.
type HitMap struct {
	// LineHits maps a 1-based line number to the number of times it was executed.
	LineHits map[int]int
	// FuncHits maps a function's declaration line to the number of times the function was
	// entered. Present iff function coverage was requested.
	FuncHits map[int]int
	// FuncNames maps a function's declaration line to its qualified name. Parallel to
	// FuncHits: every key in one is a key in the other.
	FuncNames map[int]string
	// BranchHits maps a line to its branch-execution count. Present iff branch coverage was
	// collected.
	BranchHits map[int]int
}

// New creates an empty HitMap with an initialized LineHits map.
func New() *HitMap {
	return &HitMap{LineHits: make(map[int]int)}
}

// CoverageMapSet maps an absolute source URI to its HitMap. A given URI appears at most once
// in any merged set.
type CoverageMapSet map[string]*HitMap

// NewCoverageMapSet creates an empty CoverageMapSet.
func NewCoverageMapSet() CoverageMapSet {
	return make(CoverageMapSet)
}

// GetOrCreate returns the HitMap for uri, creating and inserting an empty one if absent.
func (s CoverageMapSet) GetOrCreate(uri string) *HitMap {
	hm, ok := s[uri]
	if !ok {
		hm = New()
		s[uri] = hm
	}
	return hm
}

// Merge folds every (uri, HitMap) pair of from into into. If a URI is absent from into, the
// whole record is moved over; otherwise the two records are combined line-wise, with absent
// keys on either side treated as zero before summing. FuncNames are unioned; a collision on
// the same declaration line that disagrees on name fails with ErrInconsistentFunctionName.
func Merge(into, from CoverageMapSet) error {
	for uri, hm := range from {
		existing, ok := into[uri]
		if !ok {
			into[uri] = hm
			continue
		}

		if err := mergeHitMap(existing, hm); err != nil {
			return errors.Wrapf(err, "merging coverage for %q", uri)
		}
	}

	return nil
}

// mergeHitMap combines from into into in place.
func mergeHitMap(into, from *HitMap) error {
	addCounts(into.LineHits, from.LineHits)

	if len(from.FuncHits) > 0 || len(from.FuncNames) > 0 {
		if into.FuncHits == nil {
			into.FuncHits = make(map[int]int)
		}
		if into.FuncNames == nil {
			into.FuncNames = make(map[int]string)
		}

		addCounts(into.FuncHits, from.FuncHits)

		for line, name := range from.FuncNames {
			if existingName, ok := into.FuncNames[line]; ok && existingName != name {
				return errors.Wrapf(ErrInconsistentFunctionName, "line %d: %q vs %q", line, existingName, name)
			}
			into.FuncNames[line] = name
		}
	}

	if len(from.BranchHits) > 0 {
		if into.BranchHits == nil {
			into.BranchHits = make(map[int]int)
		}
		addCounts(into.BranchHits, from.BranchHits)
	}

	return nil
}

// addCounts sums from into into, treating an absent key on either side as zero.
func addCounts(into, from map[int]int) {
	for line, count := range from {
		into[line] += count
	}
}

// ApplyIgnores deletes every line in ignoredLines from LineHits, FuncHits, FuncNames, and
// BranchHits.
func ApplyIgnores(hm *HitMap, ignoredLines map[int]bool) {
	if len(ignoredLines) == 0 {
		return
	}

	deleteIgnoredCounts(hm.LineHits, ignoredLines)
	deleteIgnoredCounts(hm.FuncHits, ignoredLines)
	deleteIgnoredCounts(hm.BranchHits, ignoredLines)

	for line := range ignoredLines {
		delete(hm.FuncNames, line)
	}
}

func deleteIgnoredCounts(m map[int]int, ignoredLines map[int]bool) {
	for line := range ignoredLines {
		delete(m, line)
	}
}
