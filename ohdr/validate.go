package ohdr

import (
	"fmt"
	"sort"
)

// Validate checks the header's structural invariants: every chunk byte is
// covered by exactly one slot, the framing, or the gap; every chunk beyond 0
// is targeted by exactly one continuation message held in a lower chunk; and
// creation indices are unique when tracked.
func (h *Header) Validate() error {
	for ci := range h.chunks {
		if err := h.validateChunk(ci); err != nil {
			return err
		}
	}
	if err := h.validateContinuations(); err != nil {
		return err
	}
	if h.trackCreationOrder() {
		seen := make(map[uint16]int, len(h.msgs))
		for i := range h.msgs {
			m := &h.msgs[i]
			if m.IsNull() || m.typ == TypeContinuation {
				continue
			}
			if prev, dup := seen[m.creationIndex]; dup {
				return fmt.Errorf("%w: messages %d and %d share creation index %d",
					ErrMalformedHeader, prev, i, m.creationIndex)
			}
			seen[m.creationIndex] = i
		}
	}
	return nil
}

func (h *Header) validateChunk(ci int) error {
	c := &h.chunks[ci]
	if c.size != len(c.image) {
		return fmt.Errorf("%w: chunk %d image size %d does not match recorded size %d",
			ErrMalformedHeader, ci, len(c.image), c.size)
	}
	if h.version == Version1 && c.gap != 0 {
		return fmt.Errorf("%w: chunk %d carries a gap in a version 1 header", ErrMalformedHeader, ci)
	}
	if c.gap >= h.messagePrefixSize() && c.gap != 0 {
		return fmt.Errorf("%w: chunk %d gap of %d could hold a message prefix", ErrMalformedHeader, ci, c.gap)
	}

	var slots []int
	for i := range h.msgs {
		if h.msgs[i].chunkIndex == ci {
			slots = append(slots, i)
		}
	}
	sort.Slice(slots, func(a, b int) bool {
		return h.msgs[slots[a]].offset < h.msgs[slots[b]].offset
	})

	cursor := c.dataStart(h, ci)
	for _, i := range slots {
		m := &h.msgs[i]
		if m.prefixOffset(h) != cursor {
			return fmt.Errorf("%w: chunk %d has a hole before message %d (offset %d, expected %d)",
				ErrMalformedHeader, ci, i, m.prefixOffset(h), cursor)
		}
		cursor = m.offset + m.rawSize
	}
	if cursor+c.gap != c.dataEnd(h) {
		return fmt.Errorf("%w: chunk %d messages end at %d, data region ends at %d with gap %d",
			ErrMalformedHeader, ci, cursor, c.dataEnd(h), c.gap)
	}
	return nil
}

func (h *Header) validateContinuations() error {
	targets := make(map[uint64]int, len(h.chunks))
	for ci := 1; ci < len(h.chunks); ci++ {
		targets[h.chunks[ci].addr] = ci
	}
	pointed := make(map[int]int, len(targets))
	for i := range h.msgs {
		m := &h.msgs[i]
		if m.typ != TypeContinuation {
			continue
		}
		cont, ok := m.native.(*Continuation)
		if !ok {
			return fmt.Errorf("%w: continuation message %d has no decoded pointer", ErrMalformedHeader, i)
		}
		ci, ok := targets[cont.Addr]
		if !ok {
			return fmt.Errorf("%w: continuation message %d points at unknown address 0x%x",
				ErrDanglingContinuation, i, cont.Addr)
		}
		if prev, dup := pointed[ci]; dup {
			return fmt.Errorf("%w: messages %d and %d both point at chunk %d",
				ErrDuplicateChunkTarget, prev, i, ci)
		}
		if m.chunkIndex >= ci {
			return fmt.Errorf("%w: continuation to chunk %d held in chunk %d",
				ErrMalformedHeader, ci, m.chunkIndex)
		}
		if cont.Length != uint64(h.chunks[ci].size) {
			return fmt.Errorf("%w: continuation to chunk %d records length %d, chunk is %d",
				ErrMalformedHeader, ci, cont.Length, h.chunks[ci].size)
		}
		if h.chunks[ci].contChunk != m.chunkIndex {
			return fmt.Errorf("%w: chunk %d records owner %d, continuation lives in chunk %d",
				ErrMalformedHeader, ci, h.chunks[ci].contChunk, m.chunkIndex)
		}
		pointed[ci] = i
	}
	for ci := 1; ci < len(h.chunks); ci++ {
		if _, ok := pointed[ci]; !ok {
			return fmt.Errorf("%w: chunk %d has no continuation pointing at it", ErrMalformedHeader, ci)
		}
	}
	return nil
}
