package ohdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

func codecCtx(version uint8, sizes binary.Sizes) *Context {
	return &Context{Version: version, Sizes: sizes}
}

func TestContinuationCodec(t *testing.T) {
	class := continuationClass()

	t.Run("default widths", func(t *testing.T) {
		ctx := codecCtx(Version2, binary.DefaultSizes())
		raw, err := class.Encode(&Continuation{Addr: 0x1234, Length: 96}, ctx)
		require.NoError(t, err)
		assert.Len(t, raw, 16)

		n, err := class.Decode(raw, ctx)
		require.NoError(t, err)
		cont := n.(*Continuation)
		assert.Equal(t, uint64(0x1234), cont.Addr)
		assert.Equal(t, uint64(96), cont.Length)
	})

	t.Run("narrow widths", func(t *testing.T) {
		ctx := codecCtx(Version2, binary.Sizes{OffsetSize: 4, LengthSize: 4})
		raw, err := class.Encode(&Continuation{Addr: 0xA0, Length: 48}, ctx)
		require.NoError(t, err)
		assert.Len(t, raw, 8)

		n, err := class.Decode(raw, ctx)
		require.NoError(t, err)
		cont := n.(*Continuation)
		assert.Equal(t, uint64(0xA0), cont.Addr)
		assert.Equal(t, uint64(48), cont.Length)
	})

	t.Run("truncated payload", func(t *testing.T) {
		ctx := codecCtx(Version2, binary.DefaultSizes())
		_, err := class.Decode(make([]byte, 10), ctx)
		assert.Error(t, err)
	})
}

func TestRefCountCodec(t *testing.T) {
	class := refCountClass()
	ctx := codecCtx(Version2, binary.DefaultSizes())

	raw, err := class.Encode(&RefCount{Count: 7}, ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 7, 0, 0, 0}, raw)

	n, err := class.Decode(raw, ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n.(*RefCount).Count)

	_, err = class.Decode([]byte{1, 7, 0, 0, 0}, ctx)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestModTimeCodec(t *testing.T) {
	class := modTimeClass()
	ctx := codecCtx(Version2, binary.DefaultSizes())

	raw, err := class.Encode(&ModTime{Seconds: 0x01020304}, ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 0x04, 0x03, 0x02, 0x01}, raw)

	n, err := class.Decode(raw, ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), n.(*ModTime).Seconds)

	_, err = class.Decode([]byte{2, 0, 0, 0, 0, 0, 0, 0}, ctx)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestFilterPipelineCodecV2(t *testing.T) {
	ctx := codecCtx(Version2, binary.DefaultSizes())
	in := &FilterPipeline{
		Version: 2,
		Filters: []FilterEntry{
			{ID: 1, Flags: 0x0001, ClientData: []uint32{6}},
			{ID: 300, Name: "myfilt", ClientData: []uint32{1, 2, 3}},
		},
	}
	raw, err := encodeFilterPipeline(in, ctx)
	require.NoError(t, err)

	n, err := decodeFilterPipeline(raw, ctx)
	require.NoError(t, err)
	fp := n.(*FilterPipeline)
	require.Len(t, fp.Filters, 2)

	assert.Equal(t, uint16(1), fp.Filters[0].ID)
	assert.True(t, fp.Filters[0].IsOptional())
	assert.Empty(t, fp.Filters[0].Name, "builtin ids carry no name in version 2")
	assert.Equal(t, []uint32{6}, fp.Filters[0].ClientData)

	assert.Equal(t, uint16(300), fp.Filters[1].ID)
	assert.Equal(t, "myfilt", fp.Filters[1].Name)
	assert.Equal(t, []uint32{1, 2, 3}, fp.Filters[1].ClientData)
}

func TestFilterPipelineCodecV1(t *testing.T) {
	ctx := codecCtx(Version1, binary.DefaultSizes())
	in := &FilterPipeline{
		Version: 1,
		Filters: []FilterEntry{
			// Odd client data count exercises the 4-byte pad; the name is
			// null-terminated and padded to an 8-byte boundary.
			{ID: 1, Name: "deflate", ClientData: []uint32{6}},
		},
	}
	raw, err := encodeFilterPipeline(in, ctx)
	require.NoError(t, err)
	// 2 header + 6 reserved + (2+2+2+2 id/namelen/flags/count + 8 name + 4 cd + 4 pad)
	assert.Len(t, raw, 32)

	n, err := decodeFilterPipeline(raw, ctx)
	require.NoError(t, err)
	fp := n.(*FilterPipeline)
	require.Len(t, fp.Filters, 1)
	assert.Equal(t, "deflate", fp.Filters[0].Name)
	assert.Equal(t, []uint32{6}, fp.Filters[0].ClientData)
}

func TestFilterPipelineEncodeDefaultsVersion(t *testing.T) {
	ctx := codecCtx(Version2, binary.DefaultSizes())
	raw, err := encodeFilterPipeline(&FilterPipeline{
		Filters: []FilterEntry{{ID: 2}},
	}, ctx)
	require.NoError(t, err)

	n, err := decodeFilterPipeline(raw, ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), n.(*FilterPipeline).Version)
}
