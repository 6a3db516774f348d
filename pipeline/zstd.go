package pipeline

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd is the Zstandard compression filter.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a Zstandard filter. Client data: [0] = compression level
// 1-4 mapping onto the encoder's speed presets, defaulting to the standard
// level.
func NewZstd(clientData []uint32) (*Zstd, error) {
	level := zstd.SpeedDefault
	if len(clientData) > 0 {
		level = zstd.EncoderLevel(clientData[0])
		if level < zstd.SpeedFastest || level > zstd.SpeedBestCompression {
			level = zstd.SpeedDefault
		}
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (f *Zstd) ID() uint16   { return FilterZstd }
func (f *Zstd) Name() string { return "zstd" }

func (f *Zstd) Encode(input []byte) ([]byte, error) {
	return f.enc.EncodeAll(input, nil), nil
}

func (f *Zstd) Decode(input []byte) ([]byte, error) {
	output, err := f.dec.DecodeAll(input, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return output, nil
}
