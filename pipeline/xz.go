package pipeline

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// XZ is the xz/LZMA2 compression filter.
type XZ struct{}

// NewXZ creates an xz filter.
func NewXZ() *XZ {
	return &XZ{}
}

func (f *XZ) ID() uint16   { return FilterXZ }
func (f *XZ) Name() string { return "xz" }

func (f *XZ) Encode(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("xz writer: %w", err)
	}
	if _, err := w.Write(input); err != nil {
		return nil, fmt.Errorf("xz compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz flush: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *XZ) Decode(input []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	output, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decompress: %w", err)
	}
	return output, nil
}
