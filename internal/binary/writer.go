package binary

// Writer encodes little-endian values into a fixed-size byte image. The
// image is allocated by the caller; writes that would overrun it fail with
// ErrShortBuffer rather than growing the buffer, since chunk images have
// exact on-disk sizes.
type Writer struct {
	buf   []byte
	pos   int
	sizes Sizes
}

// NewWriter creates a writer over the given image.
func NewWriter(buf []byte, sizes Sizes) *Writer {
	return &Writer{buf: buf, sizes: sizes}
}

// Pos returns the current write position within the image.
func (w *Writer) Pos() int {
	return w.pos
}

// Seek repositions the writer at an absolute offset within the image.
func (w *Writer) Seek(pos int) {
	w.pos = pos
}

// WriteBytes writes the given bytes at the current position.
func (w *Writer) WriteBytes(p []byte) error {
	if w.pos+len(p) > len(w.buf) {
		return ErrShortBuffer
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return nil
}

// WriteUint8 writes an unsigned 8-bit integer.
func (w *Writer) WriteUint8(v uint8) error {
	if w.pos+1 > len(w.buf) {
		return ErrShortBuffer
	}
	w.buf[w.pos] = v
	w.pos++
	return nil
}

// WriteUint16 writes an unsigned 16-bit integer.
func (w *Writer) WriteUint16(v uint16) error {
	return w.WriteUintN(uint64(v), 2)
}

// WriteUint32 writes an unsigned 32-bit integer.
func (w *Writer) WriteUint32(v uint32) error {
	return w.WriteUintN(uint64(v), 4)
}

// WriteUint64 writes an unsigned 64-bit integer.
func (w *Writer) WriteUint64(v uint64) error {
	return w.WriteUintN(v, 8)
}

// WriteUintN writes an unsigned little-endian integer of n bytes.
func (w *Writer) WriteUintN(v uint64, n int) error {
	if n < 1 || n > 8 {
		return ErrInvalidSize
	}
	if w.pos+n > len(w.buf) {
		return ErrShortBuffer
	}
	for i := 0; i < n; i++ {
		w.buf[w.pos+i] = byte(v >> (8 * i))
	}
	w.pos += n
	return nil
}

// WriteOffset writes a store address using the configured offset width.
func (w *Writer) WriteOffset(v uint64) error {
	return w.WriteUintN(v, w.sizes.OffsetSize)
}

// WriteLength writes a length value using the configured length width.
func (w *Writer) WriteLength(v uint64) error {
	return w.WriteUintN(v, w.sizes.LengthSize)
}

// WriteUndefinedOffset writes the all-ones undefined address sentinel.
func (w *Writer) WriteUndefinedOffset() error {
	return w.WriteOffset(UndefinedValue(w.sizes.OffsetSize))
}

// Zero writes n zero bytes.
func (w *Writer) Zero(n int) error {
	if w.pos+n > len(w.buf) {
		return ErrShortBuffer
	}
	clear(w.buf[w.pos : w.pos+n])
	w.pos += n
	return nil
}

// Sizes returns the configured field widths.
func (w *Writer) Sizes() Sizes {
	return w.sizes
}
