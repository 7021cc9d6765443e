package vmservice

import "github.com/trailofbits/dartcov/utils"

// wire* types mirror the raw JSON shapes the VM Service actually sends. They exist only at the
// transport boundary; everywhere else the collector works with the tagged records in types.go.

type wireVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

type wireIsolateRef struct {
	ID             string `json:"id"`
	IsolateGroupID string `json:"isolateGroupId"`
}

type wireLibraryRef struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type wirePauseEvent struct {
	Kind string `json:"kind"`
}

type wireIsolate struct {
	ID             string           `json:"id"`
	IsolateGroupID string           `json:"isolateGroupId"`
	PauseEvent     wirePauseEvent   `json:"pauseEvent"`
	Libraries      []wireLibraryRef `json:"libraries"`
}

type wireIsolateGroup struct {
	ID        string           `json:"id"`
	Isolates  []wireIsolateRef `json:"isolates"`
}

type wireIsolateGroupRef struct {
	ID string `json:"id"`
}

type wireVM struct {
	IsolateRefs      []wireIsolateRef      `json:"isolates"`
	IsolateGroupRefs []wireIsolateGroupRef `json:"isolateGroups"`
}

type wireScriptRef struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type wireScriptList struct {
	Scripts []wireScriptRef `json:"scripts"`
}

type wireRangeCoverage struct {
	Hits   []int `json:"hits"`
	Misses []int `json:"misses"`
}

type wireRange struct {
	ScriptIndex    int                `json:"scriptIndex"`
	Compiled       bool               `json:"compiled"`
	Coverage       *wireRangeCoverage `json:"coverage"`
	BranchCoverage *wireRangeCoverage `json:"branchCoverage"`
}

type wireSourceReport struct {
	Ranges  []wireRange     `json:"ranges"`
	Scripts []wireScriptRef `json:"scripts"`
}

func (w wireIsolateRef) toIsolateRef() IsolateRef {
	return IsolateRef{ID: w.ID, IsolateGroupID: w.IsolateGroupID}
}

func (w wireLibraryRef) toLibraryRef() LibraryRef {
	return LibraryRef{ID: w.ID, URI: w.URI}
}

func (w wireScriptRef) toScriptRef() ScriptRef {
	return ScriptRef{ID: w.ID, URI: w.URI}
}

func (w wireIsolate) toIsolate() Isolate {
	return Isolate{
		ID:             w.ID,
		IsolateGroupID: w.IsolateGroupID,
		PauseEvent:     PauseEvent{Kind: w.PauseEvent.Kind},
		Libraries:      utils.SliceSelect(w.Libraries, wireLibraryRef.toLibraryRef),
	}
}

func (w wireIsolateGroup) toIsolateGroup() IsolateGroup {
	return IsolateGroup{ID: w.ID, IsolateRefs: utils.SliceSelect(w.Isolates, wireIsolateRef.toIsolateRef)}
}

func (w wireIsolateGroupRef) toIsolateGroupRef() IsolateGroupRef {
	return IsolateGroupRef{ID: w.ID}
}

func (w wireVM) toVM() VM {
	return VM{
		IsolateRefs:      utils.SliceSelect(w.IsolateRefs, wireIsolateRef.toIsolateRef),
		IsolateGroupRefs: utils.SliceSelect(w.IsolateGroupRefs, wireIsolateGroupRef.toIsolateGroupRef),
	}
}

func (w wireRangeCoverage) toRangeCoverage() *RangeCoverage {
	return &RangeCoverage{Hits: w.Hits, Misses: w.Misses}
}

// toSourceReport resolves each range's scriptIndex against the report's parallel scripts
// array, so downstream code works with a URI directly instead of an index.
func (w wireSourceReport) toSourceReport() SourceReport {
	report := SourceReport{Ranges: make([]SourceReportRange, 0, len(w.Ranges))}

	for _, r := range w.Ranges {
		var scriptURI string
		if r.ScriptIndex >= 0 && r.ScriptIndex < len(w.Scripts) {
			scriptURI = w.Scripts[r.ScriptIndex].URI
		}

		out := SourceReportRange{ScriptURI: scriptURI, Compiled: r.Compiled}
		if r.Coverage != nil {
			out.Coverage = r.Coverage.toRangeCoverage()
		}
		if r.BranchCoverage != nil {
			out.BranchCoverage = r.BranchCoverage.toRangeCoverage()
		}
		report.Ranges = append(report.Ranges, out)
	}

	return report
}
