package ohdr

import (
	"fmt"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Serialization. Chunk images are kept current by the mutation paths, so
// encoding a chunk only rewrites the prefix fields, re-encodes natives
// modified through their pointers, zeroes dead regions, and reseals the
// checksum.

func (h *Header) encodeChunk(ci int) error {
	c := &h.chunks[ci]

	if ci == 0 {
		if err := h.encodePrefix(); err != nil {
			return err
		}
	} else if h.version == Version2 {
		copy(c.image[:len(magicChunk)], magicChunk)
	}

	for i := range h.msgs {
		m := &h.msgs[i]
		if m.chunkIndex != ci {
			continue
		}
		if err := h.writeMessagePrefix(m); err != nil {
			return err
		}
		switch {
		case m.IsNull():
			clear(c.image[m.offset : m.offset+m.rawSize])
		case m.dirty && m.native != nil:
			body, err := h.encodeNative(m.class, m.native)
			if err != nil {
				return fmt.Errorf("re-encoding message %d: %w", i, err)
			}
			if h.align(len(body)) > m.rawSize {
				return fmt.Errorf("%w: message %d grew past its slot", ErrInvalidMutation, i)
			}
			if err := h.writeMessageBody(m, body); err != nil {
				return err
			}
			m.dirty = false
		}
	}

	end := c.dataEnd(h)
	if c.gap > 0 {
		clear(c.image[end-c.gap : end])
	}
	if h.version == Version2 {
		sum := binary.Lookup3(c.image[:c.size-checksumSize])
		w := binary.NewWriter(c.image, h.sizes)
		w.Seek(c.size - checksumSize)
		if err := w.WriteUint32(sum); err != nil {
			return err
		}
	}
	return nil
}

func (h *Header) encodePrefix() error {
	c := &h.chunks[0]
	w := binary.NewWriter(c.image, h.sizes)
	dataSize := c.size - h.headerPrefixSize() - h.chunkSuffixSize()

	if h.version == Version1 {
		if len(h.msgs) > int(^uint16(0)) {
			return fmt.Errorf("%w: too many messages for a version 1 header", ErrInvalidMutation)
		}
		if err := w.WriteUint8(Version1); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
		if err := w.WriteUint16(uint16(len(h.msgs))); err != nil {
			return err
		}
		if err := w.WriteUint32(h.nlink); err != nil {
			return err
		}
		if err := w.WriteUint32(uint32(dataSize)); err != nil {
			return err
		}
		return w.Zero(4)
	}

	if err := w.WriteBytes(magicHeader); err != nil {
		return err
	}
	if err := w.WriteUint8(Version2); err != nil {
		return err
	}
	if err := w.WriteUint8(h.flags); err != nil {
		return err
	}
	if h.storeTimes() {
		for _, t := range [4]uint32{h.atime, h.mtime, h.ctime, h.btime} {
			if err := w.WriteUint32(t); err != nil {
				return err
			}
		}
	}
	if h.flags&FlagStorePhaseChange != 0 {
		if err := w.WriteUint16(h.maxCompact); err != nil {
			return err
		}
		if err := w.WriteUint16(h.minDense); err != nil {
			return err
		}
	}
	return w.WriteUintN(uint64(dataSize), h.chunk0FieldSize())
}

// Flush serializes and writes every dirty chunk, children before parents so
// that continuation pointers never reach the file ahead of their targets.
func (h *Header) Flush() error {
	for ci := len(h.chunks) - 1; ci >= 0; ci-- {
		c := &h.chunks[ci]
		if !c.dirty {
			continue
		}
		if err := h.encodeChunk(ci); err != nil {
			return err
		}
		if err := h.checkAddr(c.addr, c.size); err != nil {
			return err
		}
		if err := h.store.Write(c.addr, c.image); err != nil {
			return fmt.Errorf("writing chunk %d at 0x%x: %w", ci, c.addr, err)
		}
		c.dirty = false
		h.log.Debug("flushed chunk", "chunk", ci, "addr", c.addr, "size", c.size)
	}
	return nil
}
