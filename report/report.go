// Package report formats a resolved hitmap.CoverageMapSet as LCOV or a pretty-printed,
// per-line annotated listing.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trailofbits/dartcov/hitmap"
	"github.com/trailofbits/dartcov/logging"
	"github.com/trailofbits/dartcov/source"
)

// reportLogger is the sub-logger used by this package.
var reportLogger = logging.GlobalLogger.NewSubLogger("service", logging.REPORT_SERVICE)

// ErrMissingFunctionCoverage is returned by WritePretty when reportFuncs is requested but a
// source's HitMap carries no FuncHits.
var ErrMissingFunctionCoverage = errors.New("function coverage requested but not present")

// Options configures report emission, shared between WriteLCOV and WritePretty.
type Options struct {
	// Resolver maps a coverage source URI to a filesystem path. Entries that don't resolve
	// are dropped.
	Resolver source.Resolver
	// Loader reads a resolved path's lines, required only by WritePretty.
	Loader source.Loader
	// ReportOn, if non-empty, restricts output to sources whose resolved path matches one of
	// these filters (a path or path prefix).
	ReportOn []string
	// BasePath, if set, relativizes each resolved path against it in SF: records.
	BasePath string
	// ReportFuncs requests function-coverage output; WritePretty fails with
	// ErrMissingFunctionCoverage if a source lacks it.
	ReportFuncs bool
}

// resolvedSource pairs a coverage source URI with its resolved filesystem path.
type resolvedSource struct {
	uri  string
	path string
	hm   *hitmap.HitMap
}

// resolveSources resolves and filters every source in set, returning them sorted by path for
// deterministic output order.
func resolveSources(set hitmap.CoverageMapSet, opts Options) []resolvedSource {
	var resolved []resolvedSource

	for uri, hm := range set {
		path, ok := opts.Resolver.Resolve(uri)
		if !ok {
			reportLogger.Info(fmt.Sprintf("dropping unresolved coverage source %q", uri))
			continue
		}
		if len(opts.ReportOn) > 0 && !matchesAny(path, opts.ReportOn) {
			continue
		}
		resolved = append(resolved, resolvedSource{uri: uri, path: path, hm: hm})
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].path < resolved[j].path })
	return resolved
}

func matchesAny(path string, filters []string) bool {
	for _, f := range filters {
		if strings.HasPrefix(path, f) {
			return true
		}
	}
	return false
}

func displayPath(path string, basePath string) string {
	if basePath == "" {
		return path
	}
	if rel, err := filepath.Rel(basePath, path); err == nil {
		return rel
	}
	return path
}

// WriteLCOV emits an LCOV tracefile for set to w, per Options.
func WriteLCOV(w io.Writer, set hitmap.CoverageMapSet, opts Options) error {
	for _, rs := range resolveSources(set, opts) {
		if err := writeLCOVRecord(w, rs, opts); err != nil {
			return err
		}
	}
	return nil
}

func writeLCOVRecord(w io.Writer, rs resolvedSource, opts Options) error {
	if _, err := fmt.Fprintf(w, "SF:%s\n", displayPath(rs.path, opts.BasePath)); err != nil {
		return err
	}

	hm := rs.hm
	if len(hm.FuncHits) > 0 && len(hm.FuncNames) > 0 {
		for _, line := range sortedIntKeys(hm.FuncNames) {
			if _, err := fmt.Fprintf(w, "FN:%d,%s\n", line, hm.FuncNames[line]); err != nil {
				return err
			}
		}
		for _, line := range sortedIntKeys(hm.FuncHits) {
			if count := hm.FuncHits[line]; count > 0 {
				if _, err := fmt.Fprintf(w, "FNDA:%d,%s\n", count, hm.FuncNames[line]); err != nil {
					return err
				}
			}
		}
		fnf := len(hm.FuncNames)
		fnh := countPositive(hm.FuncHits)
		if _, err := fmt.Fprintf(w, "FNF:%d\n", fnf); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "FNH:%d\n", fnh); err != nil {
			return err
		}
	}

	for _, line := range sortedIntKeys(hm.LineHits) {
		if _, err := fmt.Fprintf(w, "DA:%d,%d\n", line, hm.LineHits[line]); err != nil {
			return err
		}
	}

	lf := len(hm.LineHits)
	lh := countPositive(hm.LineHits)
	if _, err := fmt.Fprintf(w, "LF:%d\n", lf); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "LH:%d\n", lh); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "end_of_record"); err != nil {
		return err
	}

	return nil
}

// WritePretty emits a per-line annotated listing for set to w: a line's hit count, right-aligned
// (left-padded with spaces) to 7 characters, precedes a "|" and the line's source text, or 7
// spaces if the line has no recorded hit count.
func WritePretty(w io.Writer, set hitmap.CoverageMapSet, opts Options) error {
	for _, rs := range resolveSources(set, opts) {
		if opts.ReportFuncs && len(rs.hm.FuncHits) == 0 {
			return errors.Wrapf(ErrMissingFunctionCoverage, "source %s", rs.path)
		}

		lines, ok := opts.Loader.Load(rs.path)
		if !ok {
			reportLogger.Warn(fmt.Sprintf("could not load source for pretty-print: %s", rs.path))
			continue
		}

		if _, err := fmt.Fprintln(w, displayPath(rs.path, opts.BasePath)); err != nil {
			return err
		}

		for i, text := range lines {
			lineNumber := i + 1
			gutter := "       "
			if count, ok := rs.hm.LineHits[lineNumber]; ok {
				gutter = fmt.Sprintf("%7d", count)
			}
			if _, err := fmt.Fprintf(w, "%s|%s\n", gutter, text); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedIntKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func countPositive(m map[int]int) int {
	n := 0
	for _, v := range m {
		if v > 0 {
			n++
		}
	}
	return n
}
