package ohdr

import (
	"errors"
	"fmt"
)

// Flush-dependency tracking. Every chunk beyond chunk 0 has a cache proxy
// whose flush-dependency parent is either the object header itself (when the
// continuation message pointing at the chunk lives in chunk 0) or the proxy
// of the chunk holding that continuation message. The cache flushes children
// before parents, so a reader under SWMR can never observe a continuation
// pointer to a chunk that is not yet durable.
//
// The tracker performs no I/O; it only maintains edges in the external
// cache's graph.

// registerChunkDeps registers the flush-dependency edge for the given chunk
// and pins its cache entry. A no-op outside SWMR-write mode and for chunk 0,
// whose cache entry is the header itself.
func (h *Header) registerChunkDeps(ci int) error {
	if !h.swmr || ci == 0 {
		return nil
	}
	c := &h.chunks[ci]
	parent := h.addr
	if c.contChunk != 0 {
		parent = h.chunks[c.contChunk].addr
	}
	if err := h.cache.Pin(c.addr); err != nil {
		return fmt.Errorf("pinning chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	if err := h.cache.RegisterFlushDependency(c.addr, parent); err != nil {
		return fmt.Errorf("registering flush dependency of chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	c.fdParent = parent
	h.log.Debug("registered flush dependency",
		"chunk", ci, "addr", c.addr, "parent", parent)
	return nil
}

// unregisterChunkDeps tears down the chunk's flush-dependency edge and pin.
func (h *Header) unregisterChunkDeps(ci int) error {
	if !h.swmr || ci == 0 {
		return nil
	}
	c := &h.chunks[ci]
	if c.fdParent == UndefinedAddr {
		return nil
	}
	if err := h.cache.UnregisterFlushDependency(c.addr, c.fdParent); err != nil {
		return fmt.Errorf("unregistering flush dependency of chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	c.fdParent = UndefinedAddr
	if err := h.cache.Unpin(c.addr); err != nil {
		return fmt.Errorf("unpinning chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	return nil
}

// releaseAllDeps tears down every registered edge, keeping the first error.
func (h *Header) releaseAllDeps() error {
	var firstErr error
	for ci := len(h.chunks) - 1; ci >= 1; ci-- {
		if err := h.unregisterChunkDeps(ci); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FlushDependencyParent returns the registered flush-dependency parent
// address of the given chunk, or UndefinedAddr if none is registered.
func (h *Header) FlushDependencyParent(ci int) (uint64, error) {
	if ci < 1 || ci >= len(h.chunks) {
		return UndefinedAddr, errors.New("chunk index out of range")
	}
	return h.chunks[ci].fdParent, nil
}
