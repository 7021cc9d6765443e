package vmservice

import "github.com/pkg/errors"

// ErrConnectTimeout is returned by Connect when the retry loop exhausts its timeout without a
// successful connection.
var ErrConnectTimeout = errors.New("timed out connecting to VM service")

// ErrPauseTimeout is returned by Collect (from the pause wait in loadIsolates) when the timeout
// elapses before every isolate reaches a pause state.
var ErrPauseTimeout = errors.New("timed out waiting for isolates to pause")

// ErrNoIsolates is returned by Collect when the VM reports zero isolates.
var ErrNoIsolates = errors.New("no isolates")

// isSentinel reports whether err represents a VM-service Sentinel response (a reference to an
// isolate or object that has gone away mid-collection). Such errors are swallowed by the
// collector: the isolate or script in question is skipped, and collection continues.
func isSentinel(err error) bool {
	var sentinel *SentinelError
	return errors.As(err, &sentinel)
}

// SentinelError wraps a VM-service Sentinel response, e.g. a reference to a disposed isolate.
type SentinelError struct {
	// Kind is the sentinel's reported kind, e.g. "Collected", "Expired", "Free".
	Kind string
}

// Error implements the error interface.
func (e *SentinelError) Error() string {
	return "sentinel: " + e.Kind
}
