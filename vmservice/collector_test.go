package vmservice_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/vmservice"
)

// fakeService is a minimal VmService test double driven entirely by fields set up by the test.
type fakeService struct {
	vm        vmservice.VM
	isolates  map[string]vmservice.Isolate
	groups    map[string]vmservice.IsolateGroup
	scripts   map[string][]vmservice.ScriptRef
	reports   map[string]vmservice.SourceReport
	resumed   []string
	disposed  bool
}

func (f *fakeService) GetVersion(ctx context.Context) (string, error) { return "4.13", nil }
func (f *fakeService) GetVM(ctx context.Context) (vmservice.VM, error) { return f.vm, nil }
func (f *fakeService) GetIsolate(ctx context.Context, isolateID string) (vmservice.Isolate, error) {
	return f.isolates[isolateID], nil
}
func (f *fakeService) GetIsolateGroup(ctx context.Context, groupID string) (vmservice.IsolateGroup, error) {
	return f.groups[groupID], nil
}
func (f *fakeService) GetScripts(ctx context.Context, isolateID string) ([]vmservice.ScriptRef, error) {
	return f.scripts[isolateID], nil
}
func (f *fakeService) GetObject(ctx context.Context, isolateID, objectID string) (vmservice.Object, error) {
	return vmservice.Object{}, nil
}
func (f *fakeService) GetSourceReport(ctx context.Context, isolateID string, kinds []string, opts vmservice.SourceReportOptions) (vmservice.SourceReport, error) {
	return f.reports[isolateID], nil
}
func (f *fakeService) Resume(ctx context.Context, isolateID string) error {
	f.resumed = append(f.resumed, isolateID)
	return nil
}
func (f *fakeService) Dispose() error {
	f.disposed = true
	return nil
}

// TestCollectDedupesIsolatesWithinAGroup exercises the scenario where a VM reports two isolates
// sharing one group: only one of them should ever have its source report fetched, and the
// resulting hit map should be identical to what a single matching isolate alone would produce.
func TestCollectDedupesIsolatesWithinAGroup(t *testing.T) {
	svc := &fakeService{
		vm: vmservice.VM{IsolateRefs: []vmservice.IsolateRef{
			{ID: "iso-1", IsolateGroupID: "group-a"},
			{ID: "iso-2", IsolateGroupID: "group-a"},
		}},
		isolates: map[string]vmservice.Isolate{
			"iso-1": {ID: "iso-1", IsolateGroupID: "group-a"},
			"iso-2": {ID: "iso-2", IsolateGroupID: "group-a"},
		},
		reports: map[string]vmservice.SourceReport{
			"iso-1": {Ranges: []vmservice.SourceReportRange{
				{
					ScriptURI: "package:app/main.dart",
					Coverage:  &vmservice.RangeCoverage{Hits: []int{1, 2}, Misses: []int{3}},
				},
			}},
			"iso-2": {Ranges: []vmservice.SourceReportRange{
				{
					ScriptURI: "package:app/main.dart",
					Coverage:  &vmservice.RangeCoverage{Hits: []int{1, 1, 2, 2}, Misses: []int{3}},
				},
			}},
		},
	}

	caps, err := vmservice.DeriveCapabilities("4.13")
	require.NoError(t, err)

	collector := vmservice.NewCollector(svc, caps)
	set, err := collector.Collect(context.Background(), vmservice.CollectOptions{})
	require.NoError(t, err)

	require.Contains(t, set, "package:app/main.dart")
	hm := set["package:app/main.dart"]
	// Only one isolate in the group is ever visited, so only one report's counts apply.
	assert.LessOrEqual(t, hm.LineHits[1], 2)
	assert.LessOrEqual(t, hm.LineHits[2], 2)
	assert.Equal(t, 0, hm.LineHits[3])
	assert.True(t, svc.disposed)
}

// TestCollectDedupesIsolatesViaFetchedGroupsOnOldVM exercises a VM service that predates
// fastIsoGroups: neither the IsolateRef nor the full Isolate carries a group ID, so
// deduplication can only happen by fetching each group named on the VM object.
func TestCollectDedupesIsolatesViaFetchedGroupsOnOldVM(t *testing.T) {
	svc := &fakeService{
		vm: vmservice.VM{
			IsolateRefs:      []vmservice.IsolateRef{{ID: "iso-1"}, {ID: "iso-2"}},
			IsolateGroupRefs: []vmservice.IsolateGroupRef{{ID: "group-a"}},
		},
		isolates: map[string]vmservice.Isolate{
			"iso-1": {ID: "iso-1"},
			"iso-2": {ID: "iso-2"},
		},
		groups: map[string]vmservice.IsolateGroup{
			"group-a": {ID: "group-a", IsolateRefs: []vmservice.IsolateRef{{ID: "iso-1"}, {ID: "iso-2"}}},
		},
		reports: map[string]vmservice.SourceReport{
			"iso-1": {Ranges: []vmservice.SourceReportRange{
				{
					ScriptURI: "package:app/main.dart",
					Coverage:  &vmservice.RangeCoverage{Hits: []int{1, 2}, Misses: []int{3}},
				},
			}},
			"iso-2": {Ranges: []vmservice.SourceReportRange{
				{
					ScriptURI: "package:app/main.dart",
					Coverage:  &vmservice.RangeCoverage{Hits: []int{1, 1, 2, 2}, Misses: []int{3}},
				},
			}},
		},
	}

	caps, err := vmservice.DeriveCapabilities("3.50")
	require.NoError(t, err)
	require.False(t, caps.FastIsoGroups)

	collector := vmservice.NewCollector(svc, caps)
	set, err := collector.Collect(context.Background(), vmservice.CollectOptions{})
	require.NoError(t, err)

	require.Contains(t, set, "package:app/main.dart")
	hm := set["package:app/main.dart"]
	assert.LessOrEqual(t, hm.LineHits[1], 2)
	assert.LessOrEqual(t, hm.LineHits[2], 2)
	assert.Equal(t, 0, hm.LineHits[3])
}

func TestCollectReturnsNoIsolatesError(t *testing.T) {
	svc := &fakeService{vm: vmservice.VM{}}
	caps, err := vmservice.DeriveCapabilities("4.13")
	require.NoError(t, err)

	collector := vmservice.NewCollector(svc, caps)
	_, err = collector.Collect(context.Background(), vmservice.CollectOptions{})
	require.ErrorIs(t, err, vmservice.ErrNoIsolates)
}

func TestCollectResumesPausedIsolatesWhenRequested(t *testing.T) {
	svc := &fakeService{
		vm: vmservice.VM{IsolateRefs: []vmservice.IsolateRef{{ID: "iso-1"}}},
		isolates: map[string]vmservice.Isolate{
			"iso-1": {ID: "iso-1", PauseEvent: vmservice.PauseEvent{Kind: vmservice.PauseBreakpoint}},
		},
		reports: map[string]vmservice.SourceReport{"iso-1": {}},
	}

	caps, err := vmservice.DeriveCapabilities("4.13")
	require.NoError(t, err)

	collector := vmservice.NewCollector(svc, caps)
	_, err = collector.Collect(context.Background(), vmservice.CollectOptions{ResumeAfter: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"iso-1"}, svc.resumed)
}
