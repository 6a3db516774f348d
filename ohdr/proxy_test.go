package ohdr

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSWMRFlushDependencies(t *testing.T) {
	tc := NewTrackingCache()
	ms := NewMemStore()
	h, err := Create(ms, tc, WithSWMRWrite())
	require.NoError(t, err)

	_, err = ms.Alloc(64) // force a continuation chunk
	require.NoError(t, err)
	cIdx, err := h.Append(comment(pattern(40)), 0)
	require.NoError(t, err)
	require.Equal(t, 2, h.NumChunks())

	chunk1, err := h.ChunkAddress(1)
	require.NoError(t, err)
	parent, err := h.FlushDependencyParent(1)
	require.NoError(t, err)
	assert.Equal(t, h.Address(), parent, "continuation in chunk 0 parents on the header")
	assert.Equal(t, []uint64{h.Address()}, tc.Parents(chunk1))

	// Null the chunk 1 payload so the next chunk's continuation slot lands
	// there, chaining the dependency through chunk 1's proxy.
	require.NoError(t, h.Remove(cIdx))
	_, err = ms.Alloc(32)
	require.NoError(t, err)
	_, err = h.Append(comment(pattern(60)), 0)
	require.NoError(t, err)
	require.Equal(t, 3, h.NumChunks())

	chunk2, err := h.ChunkAddress(2)
	require.NoError(t, err)
	parent, err = h.FlushDependencyParent(2)
	require.NoError(t, err)
	assert.Equal(t, chunk1, parent, "continuation in chunk 1 parents on that chunk's proxy")

	order, err := tc.FlushOrder()
	require.NoError(t, err)
	i0 := slices.Index(order, h.Address())
	i1 := slices.Index(order, chunk1)
	i2 := slices.Index(order, chunk2)
	assert.Less(t, i1, i0, "chunk 1 flushes before the header")
	assert.Less(t, i2, i1, "chunk 2 flushes before chunk 1")

	require.NoError(t, h.Flush())
	require.NoError(t, h.Release())
	assert.Empty(t, tc.Parents(chunk1), "release tears the graph down")
	assert.Empty(t, tc.Parents(chunk2))
}

func TestSWMRDepsRebuiltOnOpen(t *testing.T) {
	tc := NewTrackingCache()
	ms := NewMemStore()
	h, err := Create(ms, tc, WithSWMRWrite())
	require.NoError(t, err)
	_, err = ms.Alloc(64)
	require.NoError(t, err)
	_, err = h.Append(comment(pattern(40)), 0)
	require.NoError(t, err)
	require.NoError(t, h.Flush())
	require.NoError(t, h.Release())

	g, err := Open(ms, tc, h.Address(), WithSWMRWrite())
	require.NoError(t, err)
	chunk1, err := g.ChunkAddress(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{g.Address()}, tc.Parents(chunk1))
	require.NoError(t, g.Release())
	assert.Empty(t, tc.Parents(chunk1))
}

func TestNonSWMRRegistersNothing(t *testing.T) {
	tc := NewTrackingCache()
	ms := NewMemStore()
	h, err := Create(ms, tc)
	require.NoError(t, err)
	_, err = ms.Alloc(64)
	require.NoError(t, err)
	_, err = h.Append(comment(pattern(40)), 0)
	require.NoError(t, err)

	chunk1, err := h.ChunkAddress(1)
	require.NoError(t, err)
	assert.Empty(t, tc.Parents(chunk1))
	parent, err := h.FlushDependencyParent(1)
	require.NoError(t, err)
	assert.Equal(t, UndefinedAddr, parent)
	require.NoError(t, h.Release())
}
