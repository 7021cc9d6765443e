package vmservice

import (
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"

	"github.com/trailofbits/dartcov/logging"
)

// vmserviceLogger is the sub-logger used by this package.
var vmserviceLogger = logging.GlobalLogger.NewSubLogger("service", logging.VM_SERVICE_SERVICE)

// Capabilities is the immutable feature-flag record derived once from getVersion() at session
// start and threaded through every RPC-issuing call, rather than re-queried per call.
type Capabilities struct {
	// BranchCoverageSupported gates requesting BranchCoverage in source reports.
	BranchCoverageSupported bool
	// LibraryFilters gates scoping via getSourceReport's libraryFilters parameter instead of
	// the slower per-script fallback path.
	LibraryFilters bool
	// FastIsoGroups gates reading isolateGroupId directly off an IsolateRef instead of
	// fetching every isolate group to build the map.
	FastIsoGroups bool
	// LineCacheSupported gates including librariesAlreadyCompiled in source-report requests.
	LineCacheSupported bool
}

// Minimum VM Service (major, minor) versions for each feature flag.
const (
	minBranchCoverage = "3.56.0"
	minLibraryFilters = "3.57.0"
	minFastIsoGroups  = "3.61.0"
	minLineCache      = "4.13.0"
)

// DeriveCapabilities parses a "major.minor" VM Service version string and compares it against
// the feature-flag thresholds. A malformed version string fails closed: every flag is false.
func DeriveCapabilities(versionString string) (Capabilities, error) {
	v, err := semver.NewVersion(normalizeVersion(versionString))
	if err != nil {
		return Capabilities{}, errors.Wrapf(err, "parsing VM service version %q", versionString)
	}

	caps := Capabilities{
		BranchCoverageSupported: atLeast(v, minBranchCoverage),
		LibraryFilters:          atLeast(v, minLibraryFilters),
		FastIsoGroups:           atLeast(v, minFastIsoGroups),
		LineCacheSupported:      atLeast(v, minLineCache),
	}

	if !caps.BranchCoverageSupported {
		vmserviceLogger.Warn(fmt.Sprintf("VM service %s predates branch coverage support (%s); branch coverage will be disabled", versionString, minBranchCoverage))
	}
	if !caps.LibraryFilters {
		vmserviceLogger.Warn(fmt.Sprintf("VM service %s predates libraryFilters (%s); falling back to per-script scoping", versionString, minLibraryFilters))
	}

	return caps, nil
}

// atLeast reports whether v is greater than or equal to the dotted "major.minor.patch"
// threshold. The threshold is a compile-time constant, so a parse failure indicates a bug in
// this package rather than bad input.
func atLeast(v *semver.Version, threshold string) bool {
	min, err := semver.NewVersion(threshold)
	if err != nil {
		panic(fmt.Sprintf("vmservice: invalid capability threshold %q: %v", threshold, err))
	}
	return !v.LessThan(min)
}

// normalizeVersion pads a bare "major.minor" version (as returned by getVersion()) with a
// ".0" patch component so semver.NewVersion accepts it.
func normalizeVersion(v string) string {
	dots := 0
	for _, r := range v {
		if r == '.' {
			dots++
		}
	}
	if dots < 2 {
		return v + ".0"
	}
	return v
}
