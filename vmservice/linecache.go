package vmservice

import "sync"

// MemoryLineCache is the in-memory CoverableLineCache used during a single Collect call. It
// optionally wraps a LineCacheStore so accumulated lines survive across process invocations;
// without a store it still de-duplicates within a single run.
type MemoryLineCache struct {
	mu    sync.Mutex
	lines map[string]map[int]bool
	store *LineCacheStore
}

// NewMemoryLineCache creates a MemoryLineCache. store may be nil for a purely in-process cache.
func NewMemoryLineCache(store *LineCacheStore) *MemoryLineCache {
	return &MemoryLineCache{
		lines: make(map[string]map[int]bool),
		store: store,
	}
}

// Lines implements CoverableLineCache, lazily loading scriptURI's set from the backing store
// (if any) on first access.
func (c *MemoryLineCache) Lines(scriptURI string) ([]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.lines[scriptURI]
	if !ok && c.store != nil {
		if stored, found, err := c.store.Get(scriptURI); err == nil && found {
			set = toLineSet(stored)
			c.lines[scriptURI] = set
			ok = true
		} else if err != nil {
			vmserviceLogger.Warn("error reading coverable-line cache: " + err.Error())
		}
	}
	if !ok {
		return nil, false
	}

	out := make([]int, 0, len(set))
	for line := range set {
		out = append(out, line)
	}
	return out, true
}

// Update implements CoverableLineCache, merging lines into scriptURI's set and, if a backing
// store is attached, persisting the merged set.
func (c *MemoryLineCache) Update(scriptURI string, lines []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.lines[scriptURI]
	if !ok {
		set = make(map[int]bool)
		c.lines[scriptURI] = set
	}
	for _, line := range lines {
		set[line] = true
	}

	if c.store != nil {
		merged := make([]int, 0, len(set))
		for line := range set {
			merged = append(merged, line)
		}
		if err := c.store.Put(scriptURI, merged); err != nil {
			vmserviceLogger.Warn("error writing coverable-line cache: " + err.Error())
		}
	}
}

// Known implements CoverableLineCache, returning every script URI this cache (in-memory or
// backing store) has a line set for, fed to getSourceReport's librariesAlreadyCompiled parameter.
func (c *MemoryLineCache) Known() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(c.lines))
	for uri := range c.lines {
		seen[uri] = true
	}
	if c.store != nil {
		if keys, err := c.store.Keys(); err == nil {
			for _, uri := range keys {
				seen[uri] = true
			}
		} else {
			vmserviceLogger.Warn("error listing coverable-line cache: " + err.Error())
		}
	}

	out := make([]string, 0, len(seen))
	for uri := range seen {
		out = append(out, uri)
	}
	return out
}

func toLineSet(lines []int) map[int]bool {
	set := make(map[int]bool, len(lines))
	for _, l := range lines {
		set[l] = true
	}
	return set
}
