// Package ignore scans source lines for in-source coverage-ignore directives: a single-line
// marker, and a paired region marker that brackets an inclusive range of lines.
package ignore

import "strings"

// Markers recognized anywhere in a line, purely textual (never interpreted differently inside
// string literals).
const (
	MarkerLine  = "coverage:ignore-line"
	MarkerStart = "coverage:ignore-start"
	MarkerEnd   = "coverage:ignore-end"
)

// LineSet is a set of 1-based line numbers to ignore. Membership, not insertion order, is what
// matters: duplicate ignore markers for the same line are meaningless.
type LineSet map[int]bool

// ScanLines walks lines (1-based, in order) and returns the set of lines that fall under an
// ignore directive: every line containing MarkerLine, plus every line within an inclusive
// MarkerStart...MarkerEnd region. A region with no closing MarkerEnd extends to the last line.
func ScanLines(lines []string) LineSet {
	ignored := make(LineSet)
	skipping := false

	for i, text := range lines {
		lineNumber := i + 1

		if !skipping {
			if strings.Contains(text, MarkerStart) {
				ignored[lineNumber] = true
				skipping = true
				continue
			}
			if strings.Contains(text, MarkerLine) {
				ignored[lineNumber] = true
			}
			continue
		}

		// skipping == true: every line in the region is ignored, including the one
		// carrying MarkerEnd itself.
		ignored[lineNumber] = true
		if strings.Contains(text, MarkerEnd) {
			skipping = false
		}
	}

	return ignored
}
