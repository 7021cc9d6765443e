package vmservice

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trailofbits/dartcov/events"
	"github.com/trailofbits/dartcov/hitmap"
)

// waitPollInterval is how often loadIsolates re-polls isolate pause state while waiting for pause.
const waitPollInterval = 200 * time.Millisecond

// pausedKinds is the set of pauseEvent.kind values that count as "paused" for loadIsolates' pause wait.
var pausedKinds = map[string]bool{
	PauseStart:       true,
	PauseException:   true,
	PauseExit:        true,
	PauseInterrupted: true,
	PauseBreakpoint:  true,
}

// CoverableLineCache is the on-disk record of lines a script is known to contain, used to seed
// zero-hit entries for lines a single collection run's source report didn't touch (e.g. because
// the isolate never loaded that script this run) and to grow as new lines are observed.
type CoverableLineCache interface {
	Lines(scriptURI string) ([]int, bool)
	Update(scriptURI string, lines []int)
	// Known returns every URI with a cached line set, fed to getSourceReport's
	// librariesAlreadyCompiled parameter so the VM service can skip recompiling them.
	Known() []string
}

// CollectOptions configures one Collector.Collect call.
type CollectOptions struct {
	// WaitForPause, if set, blocks collection until every isolate reaches a pause state.
	WaitForPause bool
	// PauseTimeout bounds WaitForPause; ignored when WaitForPause is false.
	PauseTimeout time.Duration
	// IsolateIDs, if non-empty, restricts collection to these isolates (after group dedup).
	IsolateIDs []string
	// Scope restricts collection to package: URIs whose first path segment is a member.
	// Empty means collect everything.
	Scope []string
	// IncludeBranchCoverage requests BranchCoverage reports when the VM service supports it.
	IncludeBranchCoverage bool
	// IncludeDart includes dart: (SDK) scripts, which are skipped by default.
	IncludeDart bool
	// IncludeFunctionCoverage walks the library/class/function graph to populate FuncHits/FuncNames.
	IncludeFunctionCoverage bool
	// ResumeAfter resumes every isolate that isn't already running once collection completes.
	ResumeAfter bool
}

// Collector drives a VmService through one coverage collection pass.
type Collector struct {
	service   VmService
	caps      Capabilities
	lineCache CoverableLineCache

	// IsolateProcessed is published once per isolate whose source report has been merged into
	// the running result. CollectionCompleted is published once, after every selected isolate
	// has been processed. Callers (e.g. the CLI) may Subscribe to either for progress reporting;
	// neither is required for correct operation.
	IsolateProcessed  events.EventEmitter[IsolateProcessedEvent]
	CollectionCompleted events.EventEmitter[CollectionCompletedEvent]
}

// NewCollector builds a Collector over an already-connected VmService, with capability flags
// already derived from that service's getVersion() response.
func NewCollector(service VmService, caps Capabilities) *Collector {
	return &Collector{service: service, caps: caps}
}

// SetLineCache attaches an on-disk coverable-line cache. Passing nil disables it.
func (c *Collector) SetLineCache(cache CoverableLineCache) {
	c.lineCache = cache
}

// Collect runs the full collection sequence: optional pause-wait, isolate-group dedup,
// per-isolate source-report fetch and processing, optional resume, and an always-run dispose.
func (c *Collector) Collect(ctx context.Context, opts CollectOptions) (hitmap.CoverageMapSet, error) {
	defer func() {
		if err := c.service.Dispose(); err != nil {
			vmserviceLogger.Warn(fmt.Sprintf("error disposing VM service connection: %v", err))
		}
	}()

	result := hitmap.NewCoverageMapSet()

	vm, err := c.service.GetVM(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getVM")
	}
	if len(vm.IsolateRefs) == 0 {
		return nil, ErrNoIsolates
	}

	isolates, err := c.loadIsolates(ctx, vm.IsolateRefs, opts)
	if err != nil {
		return nil, err
	}

	var groupMembership map[string]string
	if !c.caps.FastIsoGroups {
		groupMembership = c.loadGroupMembership(ctx, vm.IsolateGroupRefs)
	}

	selected := c.selectIsolates(vm.IsolateRefs, isolates, groupMembership)
	allowList := toSet(opts.IsolateIDs)

	var collectErrs []error
	processed := 0
	for _, ref := range selected {
		if len(allowList) > 0 && !allowList[ref.ID] {
			continue
		}

		isolate := isolates[ref.ID]
		if err := c.collectIsolate(ctx, ref.ID, isolate, opts, result); err != nil {
			if isSentinel(err) {
				continue
			}
			collectErrs = append(collectErrs, err)
			continue
		}
		c.IsolateProcessed.Publish(IsolateProcessedEvent{IsolateID: ref.ID})
		processed++
	}

	c.CollectionCompleted.Publish(CollectionCompletedEvent{
		IsolatesProcessed: processed,
		SourcesCovered:    len(result),
	})

	if opts.ResumeAfter {
		c.resumeAll(ctx, isolates)
	}

	if len(collectErrs) > 0 {
		return result, stderrors.Join(collectErrs...)
	}
	return result, nil
}

// loadIsolates fetches the full Isolate object for every ref, optionally polling until every
// one reports a paused state.
func (c *Collector) loadIsolates(ctx context.Context, refs []IsolateRef, opts CollectOptions) (map[string]Isolate, error) {
	if !opts.WaitForPause {
		isolates := make(map[string]Isolate, len(refs))
		for _, ref := range refs {
			iso, err := c.service.GetIsolate(ctx, ref.ID)
			if err != nil {
				if isSentinel(err) {
					continue
				}
				return nil, errors.Wrapf(err, "getIsolate(%s)", ref.ID)
			}
			isolates[ref.ID] = iso
		}
		return isolates, nil
	}

	deadline := time.Now().Add(opts.PauseTimeout)
	for {
		isolates := make(map[string]Isolate, len(refs))
		allPaused := true
		for _, ref := range refs {
			iso, err := c.service.GetIsolate(ctx, ref.ID)
			if err != nil {
				if isSentinel(err) {
					continue
				}
				return nil, errors.Wrapf(err, "getIsolate(%s)", ref.ID)
			}
			isolates[ref.ID] = iso
			if !pausedKinds[iso.PauseEvent.Kind] {
				allPaused = false
			}
		}

		if allPaused {
			return isolates, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrPauseTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

// loadGroupMembership fetches every isolate group named in groupRefs and returns the
// isolateID -> groupID mapping read off each group's isolate list. This is the fallback path
// selectIsolates uses when the VM service predates fastIsoGroups and IsolateRef.IsolateGroupID
// is never populated.
func (c *Collector) loadGroupMembership(ctx context.Context, groupRefs []IsolateGroupRef) map[string]string {
	membership := make(map[string]string, len(groupRefs))
	for _, ref := range groupRefs {
		group, err := c.service.GetIsolateGroup(ctx, ref.ID)
		if err != nil {
			vmserviceLogger.Warn(fmt.Sprintf("getIsolateGroup(%s) failed, isolates in this group may be double-counted: %v", ref.ID, err))
			continue
		}
		for _, isoRef := range group.IsolateRefs {
			membership[isoRef.ID] = group.ID
		}
	}
	return membership
}

// selectIsolates applies isolate-group deduplication: at most one isolate per group is visited,
// since program counters (and therefore coverage) are shared within a group. Isolates lacking a
// resolvable group are always visited.
func (c *Collector) selectIsolates(refs []IsolateRef, isolates map[string]Isolate, groupMembership map[string]string) []IsolateRef {
	covered := make(map[string]bool)
	selected := make([]IsolateRef, 0, len(refs))

	for _, ref := range refs {
		groupID := ""
		switch {
		case c.caps.FastIsoGroups && ref.IsolateGroupID != "":
			groupID = ref.IsolateGroupID
		case groupMembership[ref.ID] != "":
			groupID = groupMembership[ref.ID]
		case isolates[ref.ID].IsolateGroupID != "":
			// Last-resort fallback for a VM service that leaves isolateGroupId off both the ref
			// and the fetched IsolateGroup's isolate list, but still populates it on the full
			// isolate object.
			groupID = isolates[ref.ID].IsolateGroupID
		}

		if groupID == "" {
			selected = append(selected, ref)
			continue
		}
		if covered[groupID] {
			continue
		}
		covered[groupID] = true
		selected = append(selected, ref)
	}

	return selected
}

// collectIsolate fetches and processes one isolate's source report(s), merging results into set.
func (c *Collector) collectIsolate(ctx context.Context, isolateID string, isolate Isolate, opts CollectOptions, set hitmap.CoverageMapSet) error {
	kinds := []string{ReportCoverage}
	if opts.IncludeBranchCoverage && c.caps.BranchCoverageSupported {
		kinds = append(kinds, ReportBranchCoverage)
	}

	var enrichment *functionEnrichment
	if opts.IncludeFunctionCoverage {
		e, err := c.buildFunctionEnrichment(ctx, isolateID, isolate)
		if err != nil && !isSentinel(err) {
			return err
		}
		enrichment = e
	}

	librariesAlreadyCompiled := []string(nil)
	if c.lineCache != nil && c.caps.LineCacheSupported {
		librariesAlreadyCompiled = c.lineCache.Known()
	}

	if len(opts.Scope) > 0 && !c.caps.LibraryFilters {
		scripts, err := c.service.GetScripts(ctx, isolateID)
		if err != nil {
			return errors.Wrapf(err, "getScripts(%s)", isolateID)
		}
		for _, script := range scripts {
			if !includesScript(opts.Scope, script.URI) {
				continue
			}
			report, err := c.service.GetSourceReport(ctx, isolateID, kinds, SourceReportOptions{
				ScriptID:    script.ID,
				ReportLines: true,
			})
			if err != nil {
				if isSentinel(err) {
					continue
				}
				return errors.Wrapf(err, "getSourceReport(%s, scriptId=%s)", isolateID, script.ID)
			}
			c.processSourceReport(report, opts, enrichment, set)
		}
		return nil
	}

	var libraryFilters []string
	for _, s := range opts.Scope {
		libraryFilters = append(libraryFilters, "package:"+s+"/")
	}

	report, err := c.service.GetSourceReport(ctx, isolateID, kinds, SourceReportOptions{
		ReportLines:              true,
		LibraryFilters:           libraryFilters,
		LibrariesAlreadyCompiled: librariesAlreadyCompiled,
	})
	if err != nil {
		if isSentinel(err) {
			return nil
		}
		return errors.Wrapf(err, "getSourceReport(%s)", isolateID)
	}
	c.processSourceReport(report, opts, enrichment, set)
	return nil
}

// includesScript implements the scope filter: empty scope is a wildcard; otherwise the URI must
// use the package: scheme and its first path segment must be a member of scope.
func includesScript(scope []string, uri string) bool {
	if len(scope) == 0 {
		return true
	}

	const prefix = "package:"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return false
	}
	rest := uri[len(prefix):]
	segment := rest
	for i, r := range rest {
		if r == '/' {
			segment = rest[:i]
			break
		}
	}

	for _, s := range scope {
		if s == segment {
			return true
		}
	}
	return false
}

// processSourceReport applies one getSourceReport response's ranges into set, honoring the
// scope filter (re-checked per range), evaluate:/dart: skipping, and the coverable-line cache.
func (c *Collector) processSourceReport(report SourceReport, opts CollectOptions, enrichment *functionEnrichment, set hitmap.CoverageMapSet) {
	for _, r := range report.Ranges {
		if !includesScript(opts.Scope, r.ScriptURI) {
			continue
		}
		if hasScheme(r.ScriptURI, "evaluate") {
			continue
		}
		if !opts.IncludeDart && hasScheme(r.ScriptURI, "dart") {
			continue
		}

		hits := set.GetOrCreate(r.ScriptURI)

		var cachedLines []int
		if c.lineCache != nil {
			cachedLines, _ = c.lineCache.Lines(r.ScriptURI)
			for _, line := range cachedLines {
				if _, ok := hits.LineHits[line]; !ok {
					hits.LineHits[line] = 0
				}
			}
		}

		var seen []int
		if r.Coverage != nil {
			for _, line := range r.Coverage.Hits {
				hits.LineHits[line]++
				seen = append(seen, line)
			}
			for _, line := range r.Coverage.Misses {
				if _, ok := hits.LineHits[line]; !ok {
					hits.LineHits[line] = 0
				}
				seen = append(seen, line)
			}
		}
		if r.BranchCoverage != nil {
			if hits.BranchHits == nil {
				hits.BranchHits = make(map[int]int)
			}
			for _, line := range r.BranchCoverage.Hits {
				hits.BranchHits[line]++
			}
			for _, line := range r.BranchCoverage.Misses {
				if _, ok := hits.BranchHits[line]; !ok {
					hits.BranchHits[line] = 0
				}
			}
		}

		if c.lineCache != nil && len(seen) > 0 {
			c.lineCache.Update(r.ScriptURI, seen)
		}

		if enrichment != nil {
			if names, ok := enrichment.namesByScript[r.ScriptURI]; ok {
				if hits.FuncNames == nil {
					hits.FuncNames = make(map[int]string)
				}
				if hits.FuncHits == nil {
					hits.FuncHits = make(map[int]int)
				}
				for line, name := range names {
					hits.FuncNames[line] = name
					if _, ok := hits.FuncHits[line]; !ok {
						hits.FuncHits[line] = 0
					}
				}
				if r.Coverage != nil {
					for _, line := range r.Coverage.Hits {
						if _, ok := names[line]; ok {
							hits.FuncHits[line]++
						}
					}
				}
			}
		}
	}
}

// hasScheme reports whether uri begins with scheme + ":".
func hasScheme(uri, scheme string) bool {
	prefix := scheme + ":"
	return len(uri) >= len(prefix) && uri[:len(prefix)] == prefix
}

// resumeAll resumes every isolate not already running, concurrently, swallowing errors.
func (c *Collector) resumeAll(ctx context.Context, isolates map[string]Isolate) {
	g, gctx := errgroup.WithContext(ctx)
	for id, iso := range isolates {
		if iso.PauseEvent.Kind == Resume {
			continue
		}
		id := id
		g.Go(func() error {
			if err := c.service.Resume(gctx, id); err != nil {
				vmserviceLogger.Warn(fmt.Sprintf("resume(%s) failed: %v", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
