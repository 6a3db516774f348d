package ohdr

import (
	"fmt"
)

// Space management within the header. New messages claim the best-fitting
// null slot; when none fits, the last chunk is grown in place; when the
// store cannot grow it, a new chunk is allocated and linked in with a
// continuation message. All strategies leave every byte of every chunk
// accounted for by a message slot, the chunk framing, or the gap.

// allocSpace finds or creates a null slot whose payload span holds at least
// need bytes (after version alignment) and returns its table index. The
// returned slot is still a null message; the caller converts it.
func (h *Header) allocSpace(need int) (int, error) {
	need = h.align(need)
	if need > maxMessageSize {
		return 0, fmt.Errorf("%w: slot of %d bytes overflows the 16-bit size field",
			ErrAllocationFailure, need)
	}

	if j := h.bestFitNull(need); j >= 0 {
		if err := h.splitNull(j, need); err != nil {
			return 0, err
		}
		return j, nil
	}
	if j, ok, err := h.tryExtendLast(need); err != nil {
		return 0, err
	} else if ok {
		return j, nil
	}
	j, err := h.allocChunk(need)
	if err != nil {
		return 0, err
	}
	if err := h.splitNull(j, need); err != nil {
		return 0, err
	}
	return j, nil
}

// bestFitNull returns the index of the smallest null slot with a payload
// span of at least need bytes, breaking ties by lowest chunk then lowest
// offset. Returns -1 when none fits.
func (h *Header) bestFitNull(need int) int {
	best := -1
	for i := range h.msgs {
		m := &h.msgs[i]
		if !m.IsNull() || m.rawSize < need {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := &h.msgs[best]
		switch {
		case m.rawSize < b.rawSize:
			best = i
		case m.rawSize == b.rawSize && m.chunkIndex < b.chunkIndex:
			best = i
		case m.rawSize == b.rawSize && m.chunkIndex == b.chunkIndex && m.offset < b.offset:
			best = i
		}
	}
	return best
}

// splitNull shrinks the null slot at j to exactly need payload bytes,
// appending a new null entry for the remainder. When the remainder cannot
// hold a message prefix it stays absorbed in slot j, which then carries a
// few bytes of padding.
func (h *Header) splitNull(j, need int) error {
	m := &h.msgs[j]
	rem := m.rawSize - need
	prefixSz := h.messagePrefixSize()
	if rem < prefixSz {
		return nil
	}
	tail := Message{
		typ:        TypeNil,
		chunkIndex: m.chunkIndex,
		offset:     m.offset + need + prefixSz,
		rawSize:    rem - prefixSz,
	}
	m.rawSize = need
	h.msgs = append(h.msgs, tail)
	if err := h.writeMessagePrefix(&h.msgs[len(h.msgs)-1]); err != nil {
		return err
	}
	if err := h.writeMessagePrefix(&h.msgs[j]); err != nil {
		return err
	}
	h.markChunkDirty(h.msgs[j].chunkIndex)
	return nil
}

// tryExtendLast grows the last chunk in place so a new slot of need payload
// bytes fits at its end. Any gap is consumed by the new slot. Reports false
// when the store cannot extend the block or the chunk-0 size field cannot
// express the larger size.
func (h *Header) tryExtendLast(need int) (int, bool, error) {
	ci := len(h.chunks) - 1
	c := &h.chunks[ci]
	prefixSz := h.messagePrefixSize()
	// The gap is always smaller than a prefix, so extra is positive.
	extra := prefixSz + need - c.gap

	if ci == 0 {
		dataSize := c.size - h.headerPrefixSize() - h.chunkSuffixSize() + extra
		if h.version == Version2 && chunk0FieldFor(dataSize) != h.flags&FlagChunk0SizeMask {
			return 0, false, nil
		}
		if h.version == Version1 && uint64(dataSize) > 0xFFFFFFFF {
			return 0, false, nil
		}
	}

	ok, err := h.store.Extend(c.addr, c.size, extra)
	if err != nil {
		return 0, false, fmt.Errorf("extending chunk %d at 0x%x: %w", ci, c.addr, err)
	}
	if !ok {
		return 0, false, nil
	}

	newImage := make([]byte, c.size+extra)
	copy(newImage, c.image)
	slotPrefix := c.dataEnd(h) - c.gap
	c.image = newImage
	c.size += extra
	c.gap = 0

	j := len(h.msgs)
	h.msgs = append(h.msgs, Message{
		typ:        TypeNil,
		chunkIndex: ci,
		offset:     slotPrefix + prefixSz,
		rawSize:    need,
	})
	if err := h.writeMessagePrefix(&h.msgs[j]); err != nil {
		return 0, false, err
	}
	if ci > 0 {
		if err := h.updateContinuationLength(ci); err != nil {
			return 0, false, err
		}
	}
	h.markChunkDirty(ci)
	h.log.Debug("extended chunk", "chunk", ci, "extra", extra, "size", c.size)
	return j, true, nil
}

// updateContinuationLength rewrites the continuation message pointing at the
// given chunk so its stored length matches the chunk's current size.
func (h *Header) updateContinuationLength(ci int) error {
	c := &h.chunks[ci]
	for i := range h.msgs {
		m := &h.msgs[i]
		if m.typ != TypeContinuation {
			continue
		}
		cont, ok := m.native.(*Continuation)
		if !ok || cont.Addr != c.addr {
			continue
		}
		cont.Length = uint64(c.size)
		body, err := h.encodeContinuation(cont)
		if err != nil {
			return err
		}
		if err := h.writeMessageBody(m, body); err != nil {
			return err
		}
		h.markChunkDirty(m.chunkIndex)
		return nil
	}
	return fmt.Errorf("%w: no continuation message points at chunk %d", ErrMalformedHeader, ci)
}

// allocChunk allocates a fresh chunk big enough for a slot of need payload
// bytes and links it in with a continuation message placed in an existing
// chunk. Returns the index of the new chunk's covering null slot. The
// continuation slot is reserved before the chunk is allocated, so a header
// with no room for the pointer fails cleanly.
func (h *Header) allocChunk(need int) (int, error) {
	prefixSz := h.messagePrefixSize()
	contNeed := h.align(h.sizes.OffsetSize + h.sizes.LengthSize)

	cj := h.bestFitNull(contNeed)
	if cj < 0 {
		j, ok, err := h.tryExtendLast(contNeed)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: no slot for a continuation message", ErrAllocationFailure)
		}
		cj = j
	} else if err := h.splitNull(cj, contNeed); err != nil {
		return 0, err
	}

	dataSize := h.align(prefixSz + need)
	if dataSize < minChunkData {
		dataSize = h.align(minChunkData)
	}
	ci := len(h.chunks)
	size := h.chunkPrefixSize(ci) + dataSize + h.chunkSuffixSize()

	addr, err := h.store.Alloc(size)
	if err != nil {
		return 0, fmt.Errorf("%w: chunk of %d bytes: %v", ErrAllocationFailure, size, err)
	}
	if err := h.checkAddr(addr, size); err != nil {
		h.store.Free(addr, size)
		return 0, err
	}

	image := make([]byte, size)
	if h.version == Version2 {
		copy(image, magicChunk)
	}
	h.chunks = append(h.chunks, chunk{
		addr:      addr,
		size:      size,
		image:     image,
		dirty:     true,
		contChunk: h.msgs[cj].chunkIndex,
		fdParent:  UndefinedAddr,
	})

	j := len(h.msgs)
	h.msgs = append(h.msgs, Message{
		typ:        TypeNil,
		chunkIndex: ci,
		offset:     h.chunkPrefixSize(ci) + prefixSz,
		rawSize:    dataSize - prefixSz,
	})
	if err := h.writeMessagePrefix(&h.msgs[j]); err != nil {
		return 0, err
	}
	h.markChunkDirty(ci)

	// Fill the reserved slot with the continuation pointer.
	cont := &Continuation{Addr: addr, Length: uint64(size)}
	class, _ := h.reg.Lookup(TypeContinuation)
	cm := &h.msgs[cj]
	cm.typ = TypeContinuation
	cm.class = class
	cm.flags = 0
	cm.native = cont
	cm.dirty = false
	if err := h.writeMessagePrefix(cm); err != nil {
		return 0, err
	}
	body, err := h.encodeContinuation(cont)
	if err != nil {
		return 0, err
	}
	if err := h.writeMessageBody(cm, body); err != nil {
		return 0, err
	}
	h.markChunkDirty(cm.chunkIndex)

	if err := h.registerChunkDeps(ci); err != nil {
		return 0, err
	}
	h.log.Debug("allocated chunk",
		"chunk", ci, "addr", addr, "size", size, "continuationIn", cm.chunkIndex)
	return j, nil
}

func (h *Header) encodeContinuation(c *Continuation) ([]byte, error) {
	if class, ok := h.reg.Lookup(TypeContinuation); ok {
		return h.encodeNative(class, c)
	}
	return nil, fmt.Errorf("%w: continuation class missing from registry", ErrUnknownMessageType)
}
