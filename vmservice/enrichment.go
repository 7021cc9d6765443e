package vmservice

import (
	"context"
	"strconv"
)

// functionEnrichment holds the function-coverage data (funcNames per source, keyed by
// declaration line) computed once per isolate and reused across every source-report range for
// that isolate.
type functionEnrichment struct {
	namesByScript map[string]map[int]string
}

// funcEntry is one non-abstract, non-implicit function discovered while walking a library's
// (and its classes') function lists.
type funcEntry struct {
	name       string
	kind       string
	ownerClass string
	scriptID   string
	tokenPos   int
}

// buildFunctionEnrichment walks isolate.Libraries, loading each library (and its classes') function
// lists exactly once, resolving each function's declaration line via its script's token-position
// table, and building a scriptURI -> line -> qualified-name map.
func (c *Collector) buildFunctionEnrichment(ctx context.Context, isolateID string, isolate Isolate) (*functionEnrichment, error) {
	scripts, err := c.service.GetScripts(ctx, isolateID)
	if err != nil {
		if isSentinel(err) {
			return &functionEnrichment{namesByScript: map[string]map[int]string{}}, nil
		}
		return nil, err
	}
	scriptURIByID := make(map[string]string, len(scripts))
	for _, s := range scripts {
		scriptURIByID[s.ID] = s.URI
	}

	result := &functionEnrichment{namesByScript: map[string]map[int]string{}}
	tokenTables := map[string][]any{}

	for _, lib := range isolate.Libraries {
		entries, err := c.loadLibraryFunctions(ctx, isolateID, lib.ID)
		if err != nil {
			if isSentinel(err) {
				continue
			}
			return nil, err
		}

		for _, fn := range entries {
			table, ok := tokenTables[fn.scriptID]
			if !ok {
				obj, err := c.service.GetObject(ctx, isolateID, fn.scriptID)
				if err != nil {
					if isSentinel(err) {
						continue
					}
					return nil, err
				}
				table = obj.FieldSlice("tokenPosTable")
				tokenTables[fn.scriptID] = table
			}

			line, found := searchTokenPosTable(table, fn.tokenPos)
			if !found {
				continue
			}

			uri, ok := scriptURIByID[fn.scriptID]
			if !ok {
				continue
			}

			name := fn.name
			if fn.ownerClass != "" && name != "" {
				name = fn.ownerClass + "." + name
			} else if name == "" {
				name = fn.kind + ":" + strconv.Itoa(fn.tokenPos)
			}

			if result.namesByScript[uri] == nil {
				result.namesByScript[uri] = map[int]string{}
			}
			result.namesByScript[uri][line] = name
		}
	}

	return result, nil
}

// loadLibraryFunctions enumerates a library's top-level functions and all of its classes'
// functions, fetching each function's full Object to read its abstract/implicit/location fields
// (a FuncRef alone carries only id/name/owner).
func (c *Collector) loadLibraryFunctions(ctx context.Context, isolateID, libraryID string) ([]funcEntry, error) {
	libObj, err := c.service.GetObject(ctx, isolateID, libraryID)
	if err != nil {
		return nil, err
	}

	var entries []funcEntry

	for _, ref := range libObj.FieldSlice("functions") {
		m, ok := ref.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		entry, ok, err := c.loadFunctionDetail(ctx, isolateID, id, "")
		if err != nil {
			if isSentinel(err) {
				continue
			}
			return nil, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}

	for _, ref := range libObj.FieldSlice("classes") {
		m, ok := ref.(map[string]any)
		if !ok {
			continue
		}
		classID, _ := m["id"].(string)
		classObj, err := c.service.GetObject(ctx, isolateID, classID)
		if err != nil {
			if isSentinel(err) {
				continue
			}
			return nil, err
		}
		className := classObj.FieldString("name")

		for _, fref := range classObj.FieldSlice("functions") {
			fm, ok := fref.(map[string]any)
			if !ok {
				continue
			}
			fid, _ := fm["id"].(string)
			entry, ok, err := c.loadFunctionDetail(ctx, isolateID, fid, className)
			if err != nil {
				if isSentinel(err) {
					continue
				}
				return nil, err
			}
			if ok {
				entries = append(entries, entry)
			}
		}
	}

	return entries, nil
}

// loadFunctionDetail fetches one function's full Object and extracts the fields needed to
// locate its declaration line. ok is false for abstract or implicit functions, which the spec
// excludes from function coverage entirely.
func (c *Collector) loadFunctionDetail(ctx context.Context, isolateID, functionID, ownerClass string) (funcEntry, bool, error) {
	if functionID == "" {
		return funcEntry{}, false, nil
	}

	obj, err := c.service.GetObject(ctx, isolateID, functionID)
	if err != nil {
		return funcEntry{}, false, err
	}

	if obj.FieldBool("abstract") || obj.FieldBool("implicit") {
		return funcEntry{}, false, nil
	}

	entry := funcEntry{
		name:       obj.FieldString("name"),
		kind:       obj.FieldString("kind"),
		ownerClass: ownerClass,
	}

	loc := obj.FieldObject("location")
	if loc != nil {
		if script, ok := loc["script"].(map[string]any); ok {
			entry.scriptID, _ = script["id"].(string)
		}
		if tp, ok := loc["tokenPos"].(float64); ok {
			entry.tokenPos = int(tp)
		}
	}

	if entry.scriptID == "" {
		return funcEntry{}, false, nil
	}

	return entry, true, nil
}

// searchTokenPosTable binary-searches a script's tokenPosTable (rows of [line, tokenPos, col,
// tokenPos, col, ...] sorted by line, each row's index-1 element being that row's minimum token
// position) for tokenPos, returning the owning line. Returns (0, false) if no row's odd-index
// entries contain an exact match.
func searchTokenPosTable(table []any, tokenPos int) (int, bool) {
	lo, hi := 0, len(table)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		row, ok := table[mid].([]any)
		if !ok || len(row) < 2 {
			return 0, false
		}

		if asInt(row[1]) > tokenPos {
			hi = mid - 1
			continue
		}

		if line, found := scanRow(row, tokenPos); found {
			return line, true
		}
		lo = mid + 1
	}
	return 0, false
}

// scanRow checks a tokenPosTable row's odd-index entries for an exact tokenPos match.
func scanRow(row []any, tokenPos int) (int, bool) {
	for i := 1; i < len(row); i += 2 {
		if asInt(row[i]) == tokenPos {
			return asInt(row[0]), true
		}
	}
	return 0, false
}

// asInt converts a decoded JSON number (float64) or int to an int, defaulting to 0 for any
// other type.
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
