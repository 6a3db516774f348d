package ohdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

func registryWithout(t *testing.T, drop MessageType) *Registry {
	t.Helper()
	var classes []*MessageClass
	for _, c := range CoreClasses() {
		if c.ID != drop {
			classes = append(classes, c)
		}
	}
	reg, err := NewRegistry(classes...)
	require.NoError(t, err)
	return reg
}

func TestOpenChecksumMismatch(t *testing.T) {
	h, ms := newTestHeader(t)
	_, err := h.Append(&ModTime{Seconds: 1}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Flush())
	require.NoError(t, h.Release())

	// Flip one byte in the message data region of chunk 0.
	b, err := ms.Read(h.Address()+35, 1)
	require.NoError(t, err)
	require.NoError(t, ms.Write(h.Address()+35, []byte{b[0] ^ 0xFF}))

	_, err = Open(ms, NopCache{}, h.Address())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestOpenBadAddress(t *testing.T) {
	ms := NewMemStore()
	_, err := Open(ms, NopCache{}, 8)
	assert.ErrorIs(t, err, ErrMalformedHeader, "nothing written at the address")
}

// writeV1Image assembles a version 1 header image by hand. The message list
// is given as raw slot bytes; the prefix fields are derived.
func writeV1Image(t *testing.T, ms *MemStore, addr uint64, nmsgs int, data []byte) {
	t.Helper()
	img := make([]byte, 16+len(data))
	w := binary.NewWriter(img, binary.DefaultSizes())
	require.NoError(t, w.WriteUint8(Version1))
	require.NoError(t, w.WriteUint8(0))
	require.NoError(t, w.WriteUint16(uint16(nmsgs)))
	require.NoError(t, w.WriteUint32(1))
	require.NoError(t, w.WriteUint32(uint32(len(data))))
	require.NoError(t, w.Zero(4))
	copy(img[16:], data)
	require.NoError(t, ms.Write(addr, img))
}

// v1Slot serializes one version 1 message slot: 8-byte prefix plus body
// padded to rawSize.
func v1Slot(t *testing.T, typ MessageType, rawSize int, body []byte) []byte {
	t.Helper()
	out := make([]byte, 8+rawSize)
	w := binary.NewWriter(out, binary.DefaultSizes())
	require.NoError(t, w.WriteUint16(uint16(typ)))
	require.NoError(t, w.WriteUint16(uint16(rawSize)))
	require.NoError(t, w.Zero(4))
	copy(out[8:], body)
	return out
}

func v1Cont(t *testing.T, target, length uint64) []byte {
	t.Helper()
	body := make([]byte, 16)
	w := binary.NewWriter(body, binary.DefaultSizes())
	require.NoError(t, w.WriteOffset(target))
	require.NoError(t, w.WriteLength(length))
	return v1Slot(t, TypeContinuation, 16, body)
}

func TestOpenDanglingContinuation(t *testing.T) {
	ms := NewMemStore()
	// One continuation pointing far past the end of the store.
	data := v1Cont(t, 0xFFFF, 24)
	writeV1Image(t, ms, 8, 1, data)

	_, err := Open(ms, NopCache{}, 8)
	assert.ErrorIs(t, err, ErrDanglingContinuation)
}

func TestOpenDuplicateChunkTarget(t *testing.T) {
	ms := NewMemStore()
	// Two continuations claiming the same chunk at 72.
	data := append(v1Cont(t, 72, 24), v1Cont(t, 72, 24)...)
	writeV1Image(t, ms, 8, 3, data)
	require.NoError(t, ms.Write(72, v1Slot(t, TypeNil, 16, nil)))

	_, err := Open(ms, NopCache{}, 8)
	assert.ErrorIs(t, err, ErrDuplicateChunkTarget)
}

func TestOpenV1StrayBytes(t *testing.T) {
	ms := NewMemStore()
	// The single null slot covers 24 of 32 data bytes; the message count
	// runs out with 8 bytes unaccounted for.
	data := make([]byte, 32)
	copy(data, v1Slot(t, TypeNil, 16, nil))
	writeV1Image(t, ms, 8, 1, data)

	_, err := Open(ms, NopCache{}, 8)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestUnknownMessagePolicies(t *testing.T) {
	build := func(t *testing.T, flags uint8) (*MemStore, uint64) {
		h, ms := newTestHeader(t)
		_, err := h.Append(comment(pattern(10)), flags)
		require.NoError(t, err)
		require.NoError(t, h.Flush())
		require.NoError(t, h.Release())
		return ms, h.Address()
	}

	t.Run("fail always", func(t *testing.T) {
		ms, addr := build(t, MsgFlagFailIfUnknownAlways)
		reg := registryWithout(t, TypeObjectComment)
		_, err := Open(ms, NopCache{}, addr, WithRegistry(reg))
		assert.ErrorIs(t, err, ErrUnknownMessageType)
		_, err = Open(ms, NopCache{}, addr, WithRegistry(reg), WithReadOnly())
		assert.ErrorIs(t, err, ErrUnknownMessageType, "read-only does not relax the always rule")
	})

	t.Run("fail if writable", func(t *testing.T) {
		ms, addr := build(t, MsgFlagFailIfUnknownWrite)
		reg := registryWithout(t, TypeObjectComment)
		_, err := Open(ms, NopCache{}, addr, WithRegistry(reg))
		assert.ErrorIs(t, err, ErrUnknownMessageType)

		g, err := Open(ms, NopCache{}, addr, WithRegistry(reg), WithReadOnly())
		require.NoError(t, err)
		idx := -1
		for i, m := range g.Messages(TypeAny) {
			if m.IsUnknown() {
				idx = i
			}
		}
		require.GreaterOrEqual(t, idx, 0)
		n, err := g.Native(idx)
		require.NoError(t, err)
		assert.Equal(t, pattern(10), n.(*Opaque).Data, "unknown payload carried verbatim")
		require.NoError(t, g.Release())
	})

	t.Run("mark if unknown", func(t *testing.T) {
		ms, addr := build(t, MsgFlagMarkIfUnknown)
		reg := registryWithout(t, TypeObjectComment)

		g, err := Open(ms, NopCache{}, addr, WithRegistry(reg))
		require.NoError(t, err)
		marked := 0
		for _, m := range g.Messages(TypeAny) {
			if m.Flags()&MsgFlagWasUnknown != 0 {
				marked++
			}
		}
		assert.Equal(t, 1, marked)
		require.NoError(t, g.Flush())
		require.NoError(t, g.Release())

		// The mark persists and is visible to an implementation that does
		// understand the type.
		full := reopen(t, ms, addr)
		n, ok, err := full.First(TypeObjectComment)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, pattern(10), n.(*Opaque).Data)
		for _, m := range full.Messages(TypeObjectComment) {
			assert.NotZero(t, m.Flags()&MsgFlagWasUnknown)
		}
		require.NoError(t, full.Release())
	})
}

func TestOpenRejectsUnknownFlagBits(t *testing.T) {
	h, ms := newTestHeader(t)
	require.NoError(t, h.Flush())
	require.NoError(t, h.Release())

	// Set a reserved flag bit directly in the serialized prefix.
	b, err := ms.Read(h.Address()+5, 1)
	require.NoError(t, err)
	require.NoError(t, ms.Write(h.Address()+5, []byte{b[0] | 0x40}))

	_, err = Open(ms, NopCache{}, h.Address())
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
