package vmservice

import "github.com/trailofbits/dartcov/events"

// IsolateProcessedEvent is published after one selected isolate's source report has been fetched
// and merged into the running result, whether or not it contributed any new coverage.
type IsolateProcessedEvent struct {
	IsolateID string
}

// CollectionCompletedEvent is published once Collect has processed every selected isolate,
// before the resume/dispose cleanup runs.
type CollectionCompletedEvent struct {
	IsolatesProcessed int
	SourcesCovered    int
}
