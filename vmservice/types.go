package vmservice

import (
	"context"

	"github.com/trailofbits/dartcov/utils"
)

// Pause event kinds. All but Resume qualify as "paused" for the pause wait in loadIsolates;
// Resume marks an isolate that is running.
const (
	PauseStart       = "PauseStart"
	PauseException   = "PauseException"
	PauseExit        = "PauseExit"
	PauseInterrupted = "PauseInterrupted"
	PauseBreakpoint  = "PauseBreakpoint"
	Resume           = "Resume"
)

// Source report kinds requestable from getSourceReport.
const (
	ReportCoverage       = "Coverage"
	ReportBranchCoverage = "BranchCoverage"
)

// IsolateRef is a lightweight reference to an isolate, as returned in a VM's isolate list.
type IsolateRef struct {
	ID string
	// IsolateGroupID is only populated directly when the VM service supports fastIsoGroups;
	// otherwise the collector resolves group membership itself by fetching every group named in
	// VM.IsolateGroupRefs via getIsolateGroup.
	IsolateGroupID string
}

// PauseEvent describes an isolate's current pause state.
type PauseEvent struct {
	Kind string
}

// Isolate is the full isolate object returned by getIsolate.
type Isolate struct {
	ID             string
	IsolateGroupID string
	PauseEvent     PauseEvent
	// Libraries enumerates the isolate's top-level libraries, the entry point for
	// function-coverage enrichment's library/class/function graph walk.
	Libraries []LibraryRef
}

// IsolateGroup is the full isolate-group object returned by getIsolateGroup.
type IsolateGroup struct {
	ID          string
	IsolateRefs []IsolateRef
}

// VM is the top-level VM object returned by getVM.
type VM struct {
	IsolateRefs []IsolateRef
	// IsolateGroupRefs enumerates every isolate group known to the VM. It is only consulted when
	// the VM service predates fastIsoGroups: loadGroupMembership then fetches each one via
	// getIsolateGroup to build the isolateID -> groupID map that selectIsolates uses.
	IsolateGroupRefs []IsolateGroupRef
}

// IsolateGroupRef is a lightweight reference to an isolate group, as enumerated on a VM.
type IsolateGroupRef struct {
	ID string
}

// ScriptRef is a lightweight reference to a loaded script.
type ScriptRef struct {
	ID  string
	URI string
}

// RangeCoverage is the hit/miss line sets for one source-report range.
type RangeCoverage struct {
	Hits   []int
	Misses []int
}

// SourceReportRange is one entry of a getSourceReport response. ScriptURI is carried directly
// on the range as a convenience over the raw VM-service shape (which indexes into a parallel
// scripts array); the transport-layer client is responsible for resolving that index before
// handing ranges to the collector.
type SourceReportRange struct {
	ScriptURI      string
	Compiled       bool
	Coverage       *RangeCoverage
	BranchCoverage *RangeCoverage
}

// SourceReport is the decoded response of getSourceReport.
type SourceReport struct {
	Ranges []SourceReportRange
}

// SourceReportOptions configures a getSourceReport call.
type SourceReportOptions struct {
	ForceCompile             bool
	ScriptID                 string
	ReportLines              bool
	LibraryFilters           []string
	LibrariesAlreadyCompiled []string
}

// LibraryRef is a lightweight reference to a library, as enumerated off an Isolate.
type LibraryRef struct {
	ID  string
	URI string
}

// ClassRef is a lightweight reference to a class, as enumerated off a Library.
type ClassRef struct {
	ID   string
	Name string
}

// FunctionRef describes one function or method declaration, as enumerated off a Library or
// Class Object's "functions" field.
type FunctionRef struct {
	ID         string
	Name       string
	Kind       string
	IsAbstract bool
	IsImplicit bool
	// ScriptID identifies the script the function's declaration line should be resolved
	// against (via that script's token-position table).
	ScriptID string
	// TokenPos is the function's declaration token position within ScriptID.
	TokenPos int
}

// Object is a loosely typed VM-service object returned by getObject: library, class, function,
// or script payloads all arrive this way, distinguished by Type. Raw holds the decoded JSON
// tree; FieldString/FieldSlice are thin "peek" helpers (per the dynamic-JSON-tree design note)
// so callers don't need a bespoke struct per RPC response shape.
type Object struct {
	Type string
	Raw  map[string]any
}

// FieldString returns Raw[key] cast to a string, or "" if absent or of another type.
func (o Object) FieldString(key string) string {
	if v := utils.MapFetchCasted[string, string](o.Raw, key); v != nil {
		return *v
	}
	return ""
}

// FieldBool returns Raw[key] cast to a bool, or false if absent or of another type.
func (o Object) FieldBool(key string) bool {
	if v := utils.MapFetchCasted[string, bool](o.Raw, key); v != nil {
		return *v
	}
	return false
}

// FieldSlice returns Raw[key] cast to a []any, or nil if absent or of another type.
func (o Object) FieldSlice(key string) []any {
	if v := utils.MapFetchCasted[string, []any](o.Raw, key); v != nil {
		return *v
	}
	return nil
}

// FieldObject returns Raw[key] cast to a map[string]any, or nil if absent or of another type.
func (o Object) FieldObject(key string) map[string]any {
	if v := utils.MapFetchCasted[string, map[string]any](o.Raw, key); v != nil {
		return *v
	}
	return nil
}

// VmService is the RPC surface the collector drives. Implementations are transport-specific
// (the concrete Client uses a websocket); the collector itself is transport-agnostic.
type VmService interface {
	GetVersion(ctx context.Context) (string, error)
	GetVM(ctx context.Context) (VM, error)
	GetIsolate(ctx context.Context, isolateID string) (Isolate, error)
	GetIsolateGroup(ctx context.Context, groupID string) (IsolateGroup, error)
	GetScripts(ctx context.Context, isolateID string) ([]ScriptRef, error)
	GetObject(ctx context.Context, isolateID, objectID string) (Object, error)
	GetSourceReport(ctx context.Context, isolateID string, kinds []string, opts SourceReportOptions) (SourceReport, error)
	Resume(ctx context.Context, isolateID string) error
	Dispose() error
}
