package pipeline

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Fletcher32 appends a Fletcher-32 checksum on encode and verifies and
// strips it on decode.
type Fletcher32 struct{}

// NewFletcher32 creates a Fletcher-32 checksum filter.
func NewFletcher32() *Fletcher32 {
	return &Fletcher32{}
}

func (f *Fletcher32) ID() uint16   { return FilterFletcher32 }
func (f *Fletcher32) Name() string { return "fletcher32" }

func (f *Fletcher32) Encode(input []byte) ([]byte, error) {
	output := make([]byte, len(input)+4)
	copy(output, input)
	binary.LittleEndian.PutUint32(output[len(input):], binpkg.Fletcher32(input))
	return output, nil
}

func (f *Fletcher32) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("fletcher32: input too short for checksum")
	}
	data := input[:len(input)-4]
	stored := binary.LittleEndian.Uint32(input[len(input)-4:])
	computed := binpkg.Fletcher32(data)
	if stored != computed {
		return nil, fmt.Errorf("fletcher32: checksum mismatch (stored=0x%08x, computed=0x%08x)",
			stored, computed)
	}
	return data, nil
}
