package ohdr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

func TestAlignOld(t *testing.T) {
	cases := map[int]int{0: 0, 1: 8, 7: 8, 8: 8, 9: 16, 22: 24}
	for in, want := range cases {
		assert.Equal(t, want, alignOld(in), "alignOld(%d)", in)
	}
}

func TestHeaderPrefixSizeV1(t *testing.T) {
	h := &Header{version: Version1, sizes: binary.DefaultSizes()}
	assert.Equal(t, 16, h.headerPrefixSize())
	assert.Equal(t, 8, h.messagePrefixSize())
	assert.Equal(t, 0, h.chunkPrefixSize(1))
	assert.Equal(t, 0, h.chunkSuffixSize())
	assert.Equal(t, 4, h.chunk0FieldSize())
}

func TestHeaderPrefixSizeV2(t *testing.T) {
	tests := []struct {
		name       string
		flags      uint8
		wantPrefix int
		wantMsg    int
	}{
		{"bare", 0x00, 4 + 1 + 1 + 1, 4},
		{"times", FlagStoreTimes, 4 + 1 + 1 + 16 + 1, 4},
		{"times and phase", FlagStoreTimes | FlagStorePhaseChange, 4 + 1 + 1 + 16 + 4 + 1, 4},
		{"creation order", FlagTrackCreationOrder, 4 + 1 + 1 + 1, 6},
		{"wide size field", 0x02, 4 + 1 + 1 + 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Header{version: Version2, flags: tt.flags, sizes: binary.DefaultSizes()}
			assert.Equal(t, tt.wantPrefix, h.headerPrefixSize())
			assert.Equal(t, tt.wantMsg, h.messagePrefixSize())
			assert.Equal(t, 4, h.chunkPrefixSize(1))
			assert.Equal(t, 4, h.chunkSuffixSize())
		})
	}
}

func TestChunk0FieldFor(t *testing.T) {
	assert.Equal(t, uint8(0x00), chunk0FieldFor(0xFF))
	assert.Equal(t, uint8(0x01), chunk0FieldFor(0x100))
	assert.Equal(t, uint8(0x01), chunk0FieldFor(0xFFFF))
	assert.Equal(t, uint8(0x02), chunk0FieldFor(0x10000))
}

func TestCheckAddr(t *testing.T) {
	h := &Header{version: Version2, sizes: binary.Sizes{OffsetSize: 2, LengthSize: 2}}
	assert.NoError(t, h.checkAddr(0x100, 0x100))
	assert.ErrorIs(t, h.checkAddr(0xFFFE, 1), ErrAddressOverflow)
	assert.ErrorIs(t, h.checkAddr(0xFFFF, 0), ErrAddressOverflow)

	wide := &Header{version: Version2, sizes: binary.DefaultSizes()}
	assert.NoError(t, wide.checkAddr(1<<40, 1<<20))
}

func TestRegistryRejectsReservedAndDuplicate(t *testing.T) {
	nop := func(raw []byte, ctx *Context) (Native, error) { return nil, nil }
	enc := func(n Native, ctx *Context) ([]byte, error) { return nil, nil }

	_, err := NewRegistry(&MessageClass{ID: TypeNil, Name: "bad", Decode: nop, Encode: enc})
	assert.ErrorContains(t, err, "reserved")

	_, err = NewRegistry(
		&MessageClass{ID: TypeDataspace, Name: "a", Decode: nop, Encode: enc},
		&MessageClass{ID: TypeDataspace, Name: "b", Decode: nop, Encode: enc},
	)
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry(&MessageClass{ID: TypeDataspace, Name: "no codec"})
	assert.ErrorContains(t, err, "decode and encode")
}

func TestDefaultRegistryCoversDefinedTypes(t *testing.T) {
	reg := DefaultRegistry()
	for _, typ := range []MessageType{
		TypeContinuation, TypeRefCount, TypeObjectModTime, TypeFilterPipeline,
		TypeDataspace, TypeDatatype, TypeAttribute, TypeObjectComment,
	} {
		_, ok := reg.Lookup(typ)
		assert.True(t, ok, "type 0x%04x missing", uint16(typ))
	}
	_, ok := reg.Lookup(TypeBogus)
	assert.False(t, ok, "bogus type should stay unregistered")
}
