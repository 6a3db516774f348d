package ohdr

import (
	"fmt"
	"sort"
)

// Condense reclaims dead space: adjacent null messages merge, a trailing
// gap folds into a preceding null, chunks beyond 0 that hold nothing but
// null messages are freed, and chunks beyond 0 ending in a null shrink in
// place. Chunk 0 is never freed or shrunk.
//
// Condense deletes message table entries, so indices obtained before the
// call are invalid afterwards. It is idempotent: a second call with no
// intervening mutation changes nothing.
func (h *Header) Condense() error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	dead := make([]bool, len(h.msgs))

	// Freeing a chunk nulls a continuation slot elsewhere, which may open new
	// merge or shrink opportunities, so the passes repeat until settled.
	for {
		changed := false
		for ci := range h.chunks {
			merged, err := h.mergeNulls(ci, dead)
			if err != nil {
				return err
			}
			changed = changed || merged
		}
		for ci := len(h.chunks) - 1; ci >= 1; ci-- {
			if h.chunkAllNull(ci, dead) {
				if err := h.freeChunk(ci, dead); err != nil {
					return err
				}
				changed = true
				continue
			}
			shrunk, err := h.shrinkChunk(ci, dead)
			if err != nil {
				return err
			}
			changed = changed || shrunk
		}
		if !changed {
			break
		}
	}

	removed := 0
	kept := h.msgs[:0]
	for i := range h.msgs {
		if dead[i] {
			removed++
			continue
		}
		kept = append(kept, h.msgs[i])
	}
	h.msgs = kept
	if removed > 0 {
		h.markChunkDirty(0)
		h.Touch()
	}
	h.log.Debug("condensed header",
		"removedSlots", removed, "chunks", len(h.chunks), "messages", len(h.msgs))
	return nil
}

// chunkSlots returns the live slot indices of a chunk ordered by offset.
func (h *Header) chunkSlots(ci int, dead []bool) []int {
	var slots []int
	for i := range h.msgs {
		if !dead[i] && h.msgs[i].chunkIndex == ci {
			slots = append(slots, i)
		}
	}
	sort.Slice(slots, func(a, b int) bool {
		return h.msgs[slots[a]].offset < h.msgs[slots[b]].offset
	})
	return slots
}

// mergeNulls coalesces physically adjacent null slots within a chunk and
// folds a trailing gap into a final null slot.
func (h *Header) mergeNulls(ci int, dead []bool) (bool, error) {
	c := &h.chunks[ci]
	prefixSz := h.messagePrefixSize()
	slots := h.chunkSlots(ci, dead)
	changed := false

	for si := 0; si+1 < len(slots); si++ {
		cur := &h.msgs[slots[si]]
		next := &h.msgs[slots[si+1]]
		if !cur.IsNull() || !next.IsNull() {
			continue
		}
		if next.prefixOffset(h) != cur.offset+cur.rawSize {
			continue
		}
		if cur.rawSize+prefixSz+next.rawSize > maxMessageSize {
			continue
		}
		cur.rawSize += prefixSz + next.rawSize
		dead[slots[si+1]] = true
		slots = append(slots[:si+1], slots[si+2:]...)
		if err := h.writeMessagePrefix(cur); err != nil {
			return false, err
		}
		if err := h.writeMessageBody(cur, nil); err != nil {
			return false, err
		}
		changed = true
		si--
	}

	if c.gap > 0 && len(slots) > 0 {
		last := &h.msgs[slots[len(slots)-1]]
		if last.IsNull() && last.offset+last.rawSize == c.dataEnd(h)-c.gap &&
			last.rawSize+c.gap <= maxMessageSize {
			last.rawSize += c.gap
			c.gap = 0
			if err := h.writeMessagePrefix(last); err != nil {
				return false, err
			}
			if err := h.writeMessageBody(last, nil); err != nil {
				return false, err
			}
			changed = true
		}
	}
	if changed {
		h.markChunkDirty(ci)
	}
	return changed, nil
}

// chunkAllNull reports whether every live slot of the chunk is null.
func (h *Header) chunkAllNull(ci int, dead []bool) bool {
	for i := range h.msgs {
		if dead[i] || h.msgs[i].chunkIndex != ci {
			continue
		}
		if !h.msgs[i].IsNull() {
			return false
		}
	}
	return true
}

// freeChunk releases an all-null chunk back to the store, nulls the
// continuation message that pointed at it, and renumbers the chunks above.
func (h *Header) freeChunk(ci int, dead []bool) error {
	c := &h.chunks[ci]

	contIdx := -1
	for i := range h.msgs {
		m := &h.msgs[i]
		if dead[i] || m.typ != TypeContinuation {
			continue
		}
		if cont, ok := m.native.(*Continuation); ok && cont.Addr == c.addr {
			contIdx = i
			break
		}
	}
	if contIdx < 0 {
		return fmt.Errorf("%w: no continuation message points at chunk %d", ErrMalformedHeader, ci)
	}

	cm := &h.msgs[contIdx]
	cm.typ = TypeNil
	cm.class = nil
	cm.flags = 0
	cm.creationIndex = 0
	cm.native = nil
	cm.dirty = false
	if err := h.writeMessagePrefix(cm); err != nil {
		return err
	}
	if err := h.writeMessageBody(cm, nil); err != nil {
		return err
	}
	h.markChunkDirty(cm.chunkIndex)

	for i := range h.msgs {
		if !dead[i] && h.msgs[i].chunkIndex == ci {
			dead[i] = true
		}
	}
	if err := h.unregisterChunkDeps(ci); err != nil {
		return err
	}
	if err := h.store.Free(c.addr, c.size); err != nil {
		return fmt.Errorf("freeing chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	h.log.Debug("freed chunk", "chunk", ci, "addr", c.addr, "size", c.size)

	h.chunks = append(h.chunks[:ci], h.chunks[ci+1:]...)
	for i := range h.msgs {
		if !dead[i] && h.msgs[i].chunkIndex > ci {
			h.msgs[i].chunkIndex--
		}
	}
	for k := range h.chunks {
		if h.chunks[k].contChunk > ci {
			h.chunks[k].contChunk--
		}
	}
	return nil
}

// shrinkChunk releases the trailing null of a chunk beyond 0 back to the
// store and updates the continuation pointer's stored length. The chunk
// keeps at least the minimum message-data size.
func (h *Header) shrinkChunk(ci int, dead []bool) (bool, error) {
	c := &h.chunks[ci]
	slots := h.chunkSlots(ci, dead)
	if len(slots) < 2 || c.gap != 0 {
		return false, nil
	}
	lastIdx := slots[len(slots)-1]
	last := &h.msgs[lastIdx]
	if !last.IsNull() || last.offset+last.rawSize != c.dataEnd(h) {
		return false, nil
	}

	prefixSz := h.messagePrefixSize()
	delta := prefixSz + last.rawSize
	dataSize := c.size - h.chunkPrefixSize(ci) - h.chunkSuffixSize()
	if dataSize-delta < minChunkData {
		return false, nil
	}

	newSize := c.size - delta
	if err := h.store.Free(c.addr+uint64(newSize), delta); err != nil {
		return false, fmt.Errorf("shrinking chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	img := make([]byte, newSize)
	copy(img, c.image)
	c.image = img
	c.size = newSize
	dead[lastIdx] = true
	h.markChunkDirty(ci)
	if err := h.updateContinuationLength(ci); err != nil {
		return false, err
	}
	h.log.Debug("shrank chunk", "chunk", ci, "delta", delta, "size", c.size)
	return true, nil
}
