package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceKeyIdentity(t *testing.T) {
	k1 := newResourceKey("alpha", statusInFlight)
	k2 := newResourceKey("alpha", statusInFlight)

	assert.Equal(t, "alpha", k1.Category())
	assert.NotEqual(t, k1.ID(), k2.ID(), "two keys sharing a category must be distinct instances")
}

func TestResourceKeyCASTransitions(t *testing.T) {
	k := newResourceKey("alpha", statusIdle)

	require.True(t, k.cas(statusIdle, statusInFlight))
	assert.Equal(t, statusInFlight, k.loadStatus())

	// A stale CAS against the wrong "from" state must fail without
	// mutating status.
	assert.False(t, k.cas(statusIdle, statusRetired))
	assert.Equal(t, statusInFlight, k.loadStatus())

	require.True(t, k.cas(statusInFlight, statusRetired))
	require.True(t, k.cas(statusRetired, statusDead))
	assert.Equal(t, statusDead, k.loadStatus())

	// DEAD is terminal: no transition out of it ever succeeds.
	assert.False(t, k.cas(statusDead, statusIdle))
}

func TestStatusStringer(t *testing.T) {
	assert.Equal(t, "IDLE", statusIdle.String())
	assert.Equal(t, "IN_FLIGHT", statusInFlight.String())
	assert.Equal(t, "RETIRED", statusRetired.String())
	assert.Equal(t, "DEAD", statusDead.String())
}
