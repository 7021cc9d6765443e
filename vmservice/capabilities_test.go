package vmservice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/vmservice"
)

func TestDeriveCapabilitiesAllSupported(t *testing.T) {
	caps, err := vmservice.DeriveCapabilities("4.13")
	require.NoError(t, err)
	assert.True(t, caps.BranchCoverageSupported)
	assert.True(t, caps.LibraryFilters)
	assert.True(t, caps.FastIsoGroups)
	assert.True(t, caps.LineCacheSupported)
}

func TestDeriveCapabilitiesBelowAllThresholds(t *testing.T) {
	caps, err := vmservice.DeriveCapabilities("3.0")
	require.NoError(t, err)
	assert.False(t, caps.BranchCoverageSupported)
	assert.False(t, caps.LibraryFilters)
	assert.False(t, caps.FastIsoGroups)
	assert.False(t, caps.LineCacheSupported)
}

func TestDeriveCapabilitiesPartialSupport(t *testing.T) {
	// Between libraryFilters (3.57) and fastIsoGroups (3.61).
	caps, err := vmservice.DeriveCapabilities("3.58")
	require.NoError(t, err)
	assert.True(t, caps.BranchCoverageSupported)
	assert.True(t, caps.LibraryFilters)
	assert.False(t, caps.FastIsoGroups)
	assert.False(t, caps.LineCacheSupported)
}

func TestDeriveCapabilitiesRejectsMalformedVersion(t *testing.T) {
	_, err := vmservice.DeriveCapabilities("not-a-version")
	require.Error(t, err)
}
