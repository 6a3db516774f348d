package ohdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingCacheProtectProtocol(t *testing.T) {
	tc := NewTrackingCache()

	hdl, err := tc.Protect(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100), hdl.Address())

	_, err = tc.Protect(0x100)
	assert.Error(t, err, "single protector per entry")

	require.NoError(t, tc.Unprotect(hdl, true))
	assert.True(t, tc.IsDirty(0x100))
	assert.Error(t, tc.Unprotect(hdl, false), "already released")

	hdl, err = tc.Protect(0x100)
	require.NoError(t, err)
	require.NoError(t, tc.Unprotect(hdl, false))
}

func TestTrackingCachePinBalance(t *testing.T) {
	tc := NewTrackingCache()
	require.NoError(t, tc.Pin(0x200))
	require.NoError(t, tc.Pin(0x200))
	require.NoError(t, tc.Unpin(0x200))
	require.NoError(t, tc.Unpin(0x200))
	assert.Error(t, tc.Unpin(0x200), "unbalanced unpin")
}

func TestTrackingCacheDependencyGraph(t *testing.T) {
	tc := NewTrackingCache()

	assert.Error(t, tc.RegisterFlushDependency(0x10, 0x10), "self dependency")
	require.NoError(t, tc.RegisterFlushDependency(0x20, 0x10))
	assert.Error(t, tc.RegisterFlushDependency(0x20, 0x10), "duplicate edge")
	assert.Equal(t, []uint64{0x10}, tc.Parents(0x20))

	assert.Error(t, tc.UnregisterFlushDependency(0x30, 0x10), "unknown edge")
	require.NoError(t, tc.UnregisterFlushDependency(0x20, 0x10))
	assert.Empty(t, tc.Parents(0x20))
}

func TestTrackingCacheFlushOrder(t *testing.T) {
	tc := NewTrackingCache()
	// 0x30 depends on 0x20, which depends on 0x10: children flush first.
	require.NoError(t, tc.RegisterFlushDependency(0x20, 0x10))
	require.NoError(t, tc.RegisterFlushDependency(0x30, 0x20))

	order, err := tc.FlushOrder()
	require.NoError(t, err)
	require.Equal(t, []uint64{0x30, 0x20, 0x10}, order)
}

func TestTrackingCacheFlushOrderCycle(t *testing.T) {
	tc := NewTrackingCache()
	require.NoError(t, tc.RegisterFlushDependency(0x20, 0x10))
	require.NoError(t, tc.RegisterFlushDependency(0x10, 0x20))

	_, err := tc.FlushOrder()
	assert.ErrorContains(t, err, "cycle")
}
