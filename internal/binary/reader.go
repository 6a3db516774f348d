// Package binary provides low-level binary I/O over object header chunk
// images, with variable-width offset and length fields.
package binary

import (
	"errors"
)

// ErrShortBuffer is returned when a read or write would run past the end of
// the underlying image.
var ErrShortBuffer = errors.New("read past end of buffer")

// ErrInvalidSize is returned when an invalid offset or length width is
// specified.
var ErrInvalidSize = errors.New("invalid offset/length size: must be 1, 2, 4, or 8")

// Sizes holds the widths of store addresses and lengths as they appear on
// disk, typically taken from the containing file's superblock equivalent.
type Sizes struct {
	OffsetSize int
	LengthSize int
}

// DefaultSizes returns 8-byte offsets and lengths, the widest supported
// encoding and the default for newly created headers.
func DefaultSizes() Sizes {
	return Sizes{OffsetSize: 8, LengthSize: 8}
}

// Valid reports whether both widths are supported encodings.
func (s Sizes) Valid() bool {
	return validWidth(s.OffsetSize) && validWidth(s.LengthSize)
}

func validWidth(n int) bool {
	return n == 1 || n == 2 || n == 4 || n == 8
}

// Reader decodes little-endian values from a byte image. All multi-byte
// metadata in the format is little-endian regardless of platform.
type Reader struct {
	buf   []byte
	pos   int
	sizes Sizes
}

// NewReader creates a reader over the given image.
func NewReader(buf []byte, sizes Sizes) *Reader {
	return &Reader{buf: buf, sizes: sizes}
}

// Pos returns the current read position within the image.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Seek repositions the reader at an absolute offset within the image.
func (r *Reader) Seek(pos int) {
	r.pos = pos
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrShortBuffer
	}
	r.pos += n
	return nil
}

// ReadBytes reads exactly n bytes, returning a copy.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:])
	r.pos += n
	return out, nil
}

// Peek returns the next n bytes without advancing the position. The returned
// slice aliases the image.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrShortBuffer
	}
	return r.buf[r.pos : r.pos+n], nil
}

// ReadUint8 reads an unsigned 8-bit integer.
func (r *Reader) ReadUint8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, ErrShortBuffer
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadUint16 reads an unsigned 16-bit integer.
func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUintN(2)
	return uint16(v), err
}

// ReadUint32 reads an unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUintN(4)
	return uint32(v), err
}

// ReadUint64 reads an unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUintN(8)
}

// ReadUintN reads an unsigned little-endian integer of n bytes.
func (r *Reader) ReadUintN(n int) (uint64, error) {
	if n < 1 || n > 8 {
		return 0, ErrInvalidSize
	}
	if r.pos+n > len(r.buf) {
		return 0, ErrShortBuffer
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(r.buf[r.pos+i])
	}
	r.pos += n
	return v, nil
}

// ReadOffset reads a store address using the configured offset width.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.ReadUintN(r.sizes.OffsetSize)
}

// ReadLength reads a length value using the configured length width.
func (r *Reader) ReadLength() (uint64, error) {
	return r.ReadUintN(r.sizes.LengthSize)
}

// IsUndefinedOffset reports whether an offset read with ReadOffset is the
// all-ones "undefined" sentinel.
func (r *Reader) IsUndefinedOffset(offset uint64) bool {
	return offset == UndefinedValue(r.sizes.OffsetSize)
}

// UndefinedValue returns the all-ones sentinel for a field of the given
// width.
func UndefinedValue(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*width) - 1
}

// Sizes returns the configured field widths.
func (r *Reader) Sizes() Sizes {
	return r.sizes
}
