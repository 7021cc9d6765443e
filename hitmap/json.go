package hitmap

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/trailofbits/dartcov/source"
)

// documentType is the "type" discriminator used on the on-disk coverage document.
const documentType = "CodeCoverage"

// scriptRef mirrors the VM-service-style script reference embedded in each coverage entry.
// It is round-tripped verbatim but otherwise unused by this package.
type scriptRef struct {
	Type    string `json:"type"`
	FixedID bool   `json:"fixedId"`
	ID      string `json:"id"`
	URI     string `json:"uri"`
	Kind    string `json:"_kind"`
}

// entry is a single source's coverage record in the on-disk JSON format.
type entry struct {
	Source     string    `json:"source"`
	Script     scriptRef `json:"script,omitempty"`
	Hits       []any     `json:"hits"`
	FuncHits   []any     `json:"funcHits,omitempty"`
	FuncNames  []any     `json:"funcNames,omitempty"`
	BranchHits []any     `json:"branchHits,omitempty"`
}

// document is the top-level on-disk JSON shape.
type document struct {
	Type     string  `json:"type"`
	Coverage []entry `json:"coverage"`
}

// FromJSON parses the on-disk coverage document produced by ToJSON (or a VM-service-style
// script coverage dump). Entries whose source does not resolve via resolver are dropped
// (UnresolvedSource); pass a nil resolver to accept every entry's source verbatim.
func FromJSON(data []byte, resolver source.Resolver) (CoverageMapSet, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing coverage JSON")
	}

	result := NewCoverageMapSet()

	for _, e := range doc.Coverage {
		if resolver != nil {
			if _, ok := resolver.Resolve(e.Source); !ok {
				continue
			}
		}

		hm := New()

		lineHits, err := decodeFlatCounts(e.Hits)
		if err != nil {
			return nil, errors.Wrapf(err, "source %q: decoding hits", e.Source)
		}
		hm.LineHits = lineHits

		if len(e.FuncHits) > 0 {
			funcHits, err := decodeFlatCounts(e.FuncHits)
			if err != nil {
				return nil, errors.Wrapf(err, "source %q: decoding funcHits", e.Source)
			}
			hm.FuncHits = funcHits
		}

		if len(e.FuncNames) > 0 {
			funcNames, err := decodeFlatNames(e.FuncNames)
			if err != nil {
				return nil, errors.Wrapf(err, "source %q: decoding funcNames", e.Source)
			}
			hm.FuncNames = funcNames
		}

		if len(e.BranchHits) > 0 {
			branchHits, err := decodeFlatCounts(e.BranchHits)
			if err != nil {
				return nil, errors.Wrapf(err, "source %q: decoding branchHits", e.Source)
			}
			hm.BranchHits = branchHits
		}

		result[e.Source] = hm
	}

	return result, nil
}

// decodeFlatCounts decodes a flat alternating [key, count, key, count, ...] array, where each
// key is either a JSON number (a single line) or a string "a-b" (a closed range expanded to
// lines a..b, each receiving the same count). Counts for the same line within one array
// accumulate via addition.
func decodeFlatCounts(raw []any) (map[int]int, error) {
	if len(raw)%2 != 0 {
		return nil, errors.New("flat array has an odd number of elements")
	}

	result := make(map[int]int, len(raw)/2)

	for i := 0; i < len(raw); i += 2 {
		count, err := asInt(raw[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "count at index %d", i+1)
		}

		lines, err := expandKey(raw[i])
		if err != nil {
			return nil, errors.Wrapf(err, "key at index %d", i)
		}

		for _, line := range lines {
			result[line] += count
		}
	}

	return result, nil
}

// decodeFlatNames decodes a flat alternating [line, name, line, name, ...] array into a
// line->name map. Unlike decodeFlatCounts, names are not summed; a later entry for the same
// line simply replaces the earlier one.
func decodeFlatNames(raw []any) (map[int]string, error) {
	if len(raw)%2 != 0 {
		return nil, errors.New("flat array has an odd number of elements")
	}

	result := make(map[int]string, len(raw)/2)

	for i := 0; i < len(raw); i += 2 {
		line, err := asInt(raw[i])
		if err != nil {
			return nil, errors.Wrapf(err, "line at index %d", i)
		}

		name, ok := raw[i+1].(string)
		if !ok {
			return nil, errors.Errorf("name at index %d is not a string", i+1)
		}

		result[line] = name
	}

	return result, nil
}

// expandKey expands a single flat-array key into the lines it denotes: a bare number is one
// line, a string "a-b" is the closed range a..b.
func expandKey(key any) ([]int, error) {
	switch k := key.(type) {
	case float64:
		return []int{int(k)}, nil
	case string:
		parts := strings.SplitN(k, "-", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("range key %q is not of the form \"a-b\"", k)
		}

		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, errors.Wrapf(err, "range key %q start", k)
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, errors.Wrapf(err, "range key %q end", k)
		}
		if end < start {
			return nil, errors.Errorf("range key %q has end before start", k)
		}

		lines := make([]int, 0, end-start+1)
		for line := start; line <= end; line++ {
			lines = append(lines, line)
		}
		return lines, nil
	default:
		return nil, errors.Errorf("key %v is neither a number nor a range string", key)
	}
}

// asInt converts a decoded JSON number (float64) to an int.
func asInt(v any) (int, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Errorf("%v is not a number", v)
	}
	return int(f), nil
}

// ToJSON serializes set into the on-disk coverage document format. Line keys within each
// entry are emitted in single-line form (no ranges), sorted ascending, for determinism.
func ToJSON(set CoverageMapSet) ([]byte, error) {
	doc := document{Type: documentType}

	uris := maps.Keys(set)
	slices.Sort(uris)

	for _, uri := range uris {
		doc.Coverage = append(doc.Coverage, hitMapToEntry(uri, set[uri]))
	}

	return json.MarshalIndent(doc, "", "  ")
}

// ToScriptCoverageJSON serializes a single URI/lineHits pair into the same entry format ToJSON
// uses, without requiring a full CoverageMapSet. It is the inverse of treating one entry of
// FromJSON's input in isolation.
func ToScriptCoverageJSON(uri string, lineHits map[int]int) ([]byte, error) {
	e := hitMapToEntry(uri, &HitMap{LineHits: lineHits})
	return json.MarshalIndent(e, "", "  ")
}

// hitMapToEntry converts a HitMap into its on-disk entry representation.
func hitMapToEntry(uri string, hm *HitMap) entry {
	e := entry{
		Source: uri,
		Script: scriptRef{
			Type:    "@Script",
			FixedID: true,
			ID:      fmt.Sprintf("libraries/%s", uri),
			URI:     uri,
			Kind:    "library",
		},
		Hits: flattenCounts(hm.LineHits),
	}

	if len(hm.FuncHits) > 0 {
		e.FuncHits = flattenCounts(hm.FuncHits)
	}
	if len(hm.FuncNames) > 0 {
		e.FuncNames = flattenNames(hm.FuncNames)
	}
	if len(hm.BranchHits) > 0 {
		e.BranchHits = flattenCounts(hm.BranchHits)
	}

	return e
}

// flattenCounts emits a line->count map as a flat [line, count, ...] array, sorted by line
// ascending, with single-line keys only.
func flattenCounts(m map[int]int) []any {
	lines := sortedKeys(m)
	flat := make([]any, 0, len(lines)*2)
	for _, line := range lines {
		flat = append(flat, float64(line), float64(m[line]))
	}
	return flat
}

// flattenNames emits a line->name map as a flat [line, name, ...] array, sorted by line
// ascending.
func flattenNames(m map[int]string) []any {
	lines := sortedKeys(m)
	flat := make([]any, 0, len(lines)*2)
	for _, line := range lines {
		flat = append(flat, float64(line), m[line])
	}
	return flat
}

// sortedKeys returns the keys of an int-keyed map in ascending order.
func sortedKeys[V any](m map[int]V) []int {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
