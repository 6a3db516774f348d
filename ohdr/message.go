package ohdr

import (
	"fmt"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Message is one slot in the header's message table. The slot records where
// the message's raw bytes live (owning chunk, byte range) and owns the
// lazily materialized native form. Raw bytes are always a view into the
// owning chunk's image, never an independent buffer.
type Message struct {
	typ   MessageType
	class *MessageClass // nil for null slots and unrecognized types
	flags uint8

	creationIndex uint16

	chunkIndex int
	offset     int // body offset within the chunk image
	rawSize    int

	native Native

	sharedRef SharedRef
	hasShared bool

	// dirty means the native form has been mutated since it was last encoded
	// into the chunk image; the raw bytes are authoritative only when clean.
	dirty bool
}

// Type returns the message's type id.
func (m *Message) Type() MessageType { return m.typ }

// Flags returns the message's flag bits.
func (m *Message) Flags() uint8 { return m.flags }

// CreationIndex returns the message's creation index. It is meaningful only
// when the header tracks creation order.
func (m *Message) CreationIndex() uint16 { return m.creationIndex }

// ChunkIndex returns the index of the chunk holding the message's bytes.
func (m *Message) ChunkIndex() int { return m.chunkIndex }

// RawSize returns the size of the message's raw payload span.
func (m *Message) RawSize() int { return m.rawSize }

// IsNull reports whether the slot is a reclaimable null placeholder.
func (m *Message) IsNull() bool { return m.typ == TypeNil }

// IsUnknown reports whether the message's type was not in the registry when
// it was decoded. Unknown messages carry their payload opaquely and cannot
// be modified.
func (m *Message) IsUnknown() bool { return m.typ != TypeNil && m.class == nil }

// SharedRef returns the message's shared-table reference, if it has one.
func (m *Message) SharedRef() (SharedRef, bool) { return m.sharedRef, m.hasShared }

// span returns the total bytes the slot occupies: prefix plus raw payload.
func (m *Message) span(h *Header) int {
	return h.messagePrefixSize() + m.rawSize
}

// prefixOffset returns the offset of the slot's message prefix within its
// chunk image.
func (m *Message) prefixOffset(h *Header) int {
	return m.offset - h.messagePrefixSize()
}

// raw returns the slot's payload bytes within the owning chunk image.
func (h *Header) raw(m *Message) []byte {
	c := &h.chunks[m.chunkIndex]
	return c.image[m.offset : m.offset+m.rawSize]
}

// writeMessagePrefix rewrites the slot's prefix into the owning chunk image.
func (h *Header) writeMessagePrefix(m *Message) error {
	if m.rawSize > maxMessageSize {
		return fmt.Errorf("%w: slot of %d bytes overflows the 16-bit size field",
			ErrAllocationFailure, m.rawSize)
	}
	c := &h.chunks[m.chunkIndex]
	w := binary.NewWriter(c.image, h.sizes)
	w.Seek(m.prefixOffset(h))

	if h.version == Version1 {
		if err := w.WriteUint16(uint16(m.typ)); err != nil {
			return err
		}
		if err := w.WriteUint16(uint16(m.rawSize)); err != nil {
			return err
		}
		if err := w.WriteUint8(m.flags); err != nil {
			return err
		}
		return w.Zero(3)
	}

	if m.typ > 0xFF {
		return fmt.Errorf("%w: type 0x%04x does not fit a version 2 prefix",
			ErrMalformedHeader, uint16(m.typ))
	}
	if err := w.WriteUint8(uint8(m.typ)); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(m.rawSize)); err != nil {
		return err
	}
	if err := w.WriteUint8(m.flags); err != nil {
		return err
	}
	if h.trackCreationOrder() {
		return w.WriteUint16(m.creationIndex)
	}
	return nil
}

// writeMessageBody writes payload bytes into the slot's span, zero-padding
// up to the raw size. The payload must fit.
func (h *Header) writeMessageBody(m *Message, body []byte) error {
	if len(body) > m.rawSize {
		return fmt.Errorf("%w: encoded size %d exceeds slot capacity %d",
			ErrAllocationFailure, len(body), m.rawSize)
	}
	c := &h.chunks[m.chunkIndex]
	copy(c.image[m.offset:], body)
	clear(c.image[m.offset+len(body) : m.offset+m.rawSize])
	h.markChunkDirty(m.chunkIndex)
	return nil
}

// Native returns the message's decoded form, materializing it on first
// access. Repeated calls return the same owned instance until the slot is
// rewritten or the header is released. Null slots have no native form.
func (h *Header) Native(index int) (Native, error) {
	if index < 0 || index >= len(h.msgs) {
		return nil, fmt.Errorf("%w: message index %d out of range", ErrInvalidMutation, index)
	}
	m := &h.msgs[index]
	if m.IsNull() {
		return nil, fmt.Errorf("%w: message %d is a null placeholder", ErrInvalidMutation, index)
	}
	if m.native != nil {
		return m.native, nil
	}

	raw := h.raw(m)
	if m.class == nil {
		// Forward-compatibility fallback: unrecognized payloads are carried
		// verbatim.
		data := make([]byte, len(raw))
		copy(data, raw)
		m.native = &Opaque{Kind: m.typ, Data: data}
		return m.native, nil
	}

	ctx := h.codecContext()
	native, err := m.class.Decode(raw, ctx)
	if err != nil {
		return nil, fmt.Errorf("decoding %s message %d: %w", m.class.Name, index, err)
	}
	m.native = native
	return native, nil
}

// Message returns the slot at the given table index.
func (h *Header) Message(index int) (*Message, error) {
	if index < 0 || index >= len(h.msgs) {
		return nil, fmt.Errorf("%w: message index %d out of range", ErrInvalidMutation, index)
	}
	return &h.msgs[index], nil
}

func (h *Header) codecContext() *Context {
	return &Context{Version: h.version, HeaderFlags: h.flags, Sizes: h.sizes}
}

// encodeNative runs a class encoder and enforces the 16-bit body size limit.
func (h *Header) encodeNative(class *MessageClass, native Native) ([]byte, error) {
	body, err := class.Encode(native, h.codecContext())
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", class.Name, err)
	}
	if len(body) > maxMessageSize {
		return nil, fmt.Errorf("%w: %s message body is %d bytes, limit %d",
			ErrAllocationFailure, class.Name, len(body), maxMessageSize)
	}
	return body, nil
}
