package vmservice_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/vmservice"
)

func TestCollectorPublishesIsolateProcessedAndCompletedEvents(t *testing.T) {
	svc := &fakeService{
		vm: vmservice.VM{IsolateRefs: []vmservice.IsolateRef{{ID: "iso-1"}}},
		isolates: map[string]vmservice.Isolate{
			"iso-1": {ID: "iso-1"},
		},
		reports: map[string]vmservice.SourceReport{
			"iso-1": {Ranges: []vmservice.SourceReportRange{
				{ScriptURI: "package:app/main.dart", Coverage: &vmservice.RangeCoverage{Hits: []int{1}}},
			}},
		},
	}

	caps, err := vmservice.DeriveCapabilities("4.13")
	require.NoError(t, err)

	collector := vmservice.NewCollector(svc, caps)

	var processed []string
	var completed *vmservice.CollectionCompletedEvent
	collector.IsolateProcessed.Subscribe(func(e vmservice.IsolateProcessedEvent) {
		processed = append(processed, e.IsolateID)
	})
	collector.CollectionCompleted.Subscribe(func(e vmservice.CollectionCompletedEvent) {
		completed = &e
	})

	_, err = collector.Collect(context.Background(), vmservice.CollectOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"iso-1"}, processed)
	require.NotNil(t, completed)
	assert.Equal(t, 1, completed.IsolatesProcessed)
	assert.Equal(t, 1, completed.SourcesCovered)
}
