package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-ohdr/ohdr"
)

func TestDeflateRoundtrip(t *testing.T) {
	original := []byte("Hello, World! This is test data for compression testing.")

	f := NewDeflate(nil)
	compressed, err := f.Encode(original)
	require.NoError(t, err)
	decompressed, err := f.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestZstdRoundtrip(t *testing.T) {
	original := bytes.Repeat([]byte("abcdefgh"), 512)

	f, err := NewZstd(nil)
	require.NoError(t, err)
	compressed, err := f.Encode(original)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))
	decompressed, err := f.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestXZRoundtrip(t *testing.T) {
	original := bytes.Repeat([]byte{0xAB, 0xCD}, 1024)

	f := NewXZ()
	compressed, err := f.Encode(original)
	require.NoError(t, err)
	decompressed, err := f.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestShuffleRoundtrip(t *testing.T) {
	original := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x11, 0x12, 0x13, 0x14,
		0x21, 0x22, 0x23, 0x24,
		0x31, 0x32, 0x33, 0x34,
	}
	shuffled := []byte{
		0x01, 0x11, 0x21, 0x31,
		0x02, 0x12, 0x22, 0x32,
		0x03, 0x13, 0x23, 0x33,
		0x04, 0x14, 0x24, 0x34,
	}

	f := NewShuffle([]uint32{4})
	encoded, err := f.Encode(original)
	require.NoError(t, err)
	assert.Equal(t, shuffled, encoded)

	decoded, err := f.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestShuffleSingleByte(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	f := NewShuffle([]uint32{1})
	result, err := f.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, data, result)
}

func TestFletcher32Roundtrip(t *testing.T) {
	original := []byte("checksummed payload")

	f := NewFletcher32()
	encoded, err := f.Encode(original)
	require.NoError(t, err)
	require.Len(t, encoded, len(original)+4)

	decoded, err := f.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestFletcher32Corruption(t *testing.T) {
	f := NewFletcher32()
	encoded, err := f.Encode([]byte("checksummed payload"))
	require.NoError(t, err)
	encoded[3] ^= 0x40

	_, err = f.Decode(encoded)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestPipelineOrderAndMask(t *testing.T) {
	shuffle := NewShuffle([]uint32{4})
	deflate := NewDeflate(nil)
	check := NewFletcher32()
	p := New(shuffle, deflate, check)

	original := bytes.Repeat([]byte{0x10, 0x20, 0x30, 0x40}, 64)
	encoded, err := p.Encode(original)
	require.NoError(t, err)

	decoded, err := p.Decode(encoded, 0)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Skipping the shuffle filter (bit 0) leaves the payload in shuffled
	// byte order.
	skipped, err := p.Decode(encoded, 1<<0)
	require.NoError(t, err)
	assert.NotEqual(t, original, skipped)
	unshuffled, err := shuffle.Decode(skipped)
	require.NoError(t, err)
	assert.Equal(t, original, unshuffled)
}

func TestFromMessage(t *testing.T) {
	fp := &ohdr.FilterPipeline{
		Version: 2,
		Filters: []ohdr.FilterEntry{
			{ID: FilterShuffle, ClientData: []uint32{8}},
			{ID: FilterDeflate, ClientData: []uint32{9}},
		},
	}
	p, err := FromMessage(fp, DefaultSet())
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())

	original := bytes.Repeat([]byte("0123456789abcdef"), 32)
	encoded, err := p.Encode(original)
	require.NoError(t, err)
	decoded, err := p.Decode(encoded, 0)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestFromMessageUnknownFilter(t *testing.T) {
	fp := &ohdr.FilterPipeline{
		Version: 2,
		Filters: []ohdr.FilterEntry{{ID: FilterSZIP}},
	}
	_, err := FromMessage(fp, DefaultSet())
	assert.ErrorContains(t, err, "szip")
}

func TestFromMessageOptionalFilterSkipped(t *testing.T) {
	fp := &ohdr.FilterPipeline{
		Version: 2,
		Filters: []ohdr.FilterEntry{
			{ID: FilterSZIP, Flags: 0x0001},
			{ID: FilterDeflate},
		},
	}
	p, err := FromMessage(fp, DefaultSet())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestMessageRoundtrip(t *testing.T) {
	p := New(NewShuffle([]uint32{4}), NewDeflate(nil))
	fp := p.Message()
	require.Len(t, fp.Filters, 2)
	assert.Equal(t, FilterShuffle, fp.Filters[0].ID)
	assert.Equal(t, FilterDeflate, fp.Filters[1].ID)
}
