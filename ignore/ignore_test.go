package ignore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trailofbits/dartcov/ignore"
)

func lines(src string) []string {
	return strings.Split(src, "\n")
}

func TestScanLinesSingleLineMarker(t *testing.T) {
	// S1: 5 lines; line 2 contains `// coverage:ignore-line`.
	src := lines("a\n// coverage:ignore-line\nc\nd\ne")

	ignored := ignore.ScanLines(src)

	assert.Equal(t, ignore.LineSet{2: true}, ignored)
}

func TestScanLinesRegion(t *testing.T) {
	src := lines("a\n// coverage:ignore-start\nb\nc\n// coverage:ignore-end\nd")

	ignored := ignore.ScanLines(src)

	assert.Equal(t, ignore.LineSet{2: true, 3: true, 4: true, 5: true}, ignored)
	assert.NotContains(t, ignored, 1)
	assert.NotContains(t, ignored, 6)
}

func TestScanLinesUnterminatedRegionExtendsToEOF(t *testing.T) {
	src := lines("a\n// coverage:ignore-start\nb\nc")

	ignored := ignore.ScanLines(src)

	assert.Equal(t, ignore.LineSet{2: true, 3: true, 4: true}, ignored)
}

func TestScanLinesIgnoreLineInsideRegionIsRedundant(t *testing.T) {
	src := lines("// coverage:ignore-start\n// coverage:ignore-line\n// coverage:ignore-end")

	ignored := ignore.ScanLines(src)

	assert.Equal(t, ignore.LineSet{1: true, 2: true, 3: true}, ignored)
}
