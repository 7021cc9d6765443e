package report_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/hitmap"
	"github.com/trailofbits/dartcov/report"
	"github.com/trailofbits/dartcov/source"
)

func resolverFor(paths map[string]string) source.Resolver {
	return source.ResolverFunc(func(uri string) (string, bool) {
		p, ok := paths[uri]
		return p, ok
	})
}

// TestWriteLCOVGoldenOutput is scenario S6.
func TestWriteLCOVGoldenOutput(t *testing.T) {
	set := hitmap.NewCoverageMapSet()
	hm := set.GetOrCreate("package:app/file.dart")
	hm.LineHits = map[int]int{1: 1, 2: 0, 3: 2}

	var buf bytes.Buffer
	opts := report.Options{Resolver: resolverFor(map[string]string{
		"package:app/file.dart": "/abs/path/file.dart",
	})}

	require.NoError(t, report.WriteLCOV(&buf, set, opts))

	expected := "SF:/abs/path/file.dart\n" +
		"DA:1,1\n" +
		"DA:2,0\n" +
		"DA:3,2\n" +
		"LF:3\n" +
		"LH:2\n" +
		"end_of_record\n"
	assert.Equal(t, expected, buf.String())
}

func TestWriteLCOVIncludesFunctionRecordsWhenPresent(t *testing.T) {
	set := hitmap.NewCoverageMapSet()
	hm := set.GetOrCreate("package:app/file.dart")
	hm.LineHits = map[int]int{1: 1, 5: 0}
	hm.FuncNames = map[int]string{1: "main"}
	hm.FuncHits = map[int]int{1: 3}

	var buf bytes.Buffer
	opts := report.Options{Resolver: resolverFor(map[string]string{
		"package:app/file.dart": "/abs/path/file.dart",
	})}

	require.NoError(t, report.WriteLCOV(&buf, set, opts))
	out := buf.String()
	assert.Contains(t, out, "FN:1,main\n")
	assert.Contains(t, out, "FNDA:3,main\n")
	assert.Contains(t, out, "FNF:1\n")
	assert.Contains(t, out, "FNH:1\n")
}

func TestWriteLCOVDropsUnresolvedSources(t *testing.T) {
	set := hitmap.NewCoverageMapSet()
	set.GetOrCreate("package:app/missing.dart").LineHits = map[int]int{1: 1}

	var buf bytes.Buffer
	opts := report.Options{Resolver: resolverFor(map[string]string{})}
	require.NoError(t, report.WriteLCOV(&buf, set, opts))
	assert.Empty(t, buf.String())
}

func TestWritePrettyAnnotatesLines(t *testing.T) {
	set := hitmap.NewCoverageMapSet()
	hm := set.GetOrCreate("package:app/file.dart")
	hm.LineHits = map[int]int{1: 4, 2: 0}

	loader := source.LoaderFunc(func(path string) ([]string, bool) {
		return []string{"int main() {", "  return 0;", "}"}, true
	})

	var buf bytes.Buffer
	opts := report.Options{
		Resolver: resolverFor(map[string]string{"package:app/file.dart": "/abs/file.dart"}),
		Loader:   loader,
	}
	require.NoError(t, report.WritePretty(&buf, set, opts))

	out := buf.String()
	assert.Contains(t, out, "/abs/file.dart\n")
	assert.Contains(t, out, "      4|int main() {\n")
	assert.Contains(t, out, "      0|  return 0;\n")
	assert.Contains(t, out, "       |}\n")
}

func TestWritePrettyFailsOnMissingFunctionCoverage(t *testing.T) {
	set := hitmap.NewCoverageMapSet()
	set.GetOrCreate("package:app/file.dart").LineHits = map[int]int{1: 1}

	loader := source.LoaderFunc(func(path string) ([]string, bool) { return nil, true })
	opts := report.Options{
		Resolver:    resolverFor(map[string]string{"package:app/file.dart": "/abs/file.dart"}),
		Loader:      loader,
		ReportFuncs: true,
	}

	var buf bytes.Buffer
	err := report.WritePretty(&buf, set, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, report.ErrMissingFunctionCoverage)
}
