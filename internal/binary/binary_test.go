package binary

import (
	"bytes"
	"errors"
	"testing"
)

func TestReaderScalars(t *testing.T) {
	buf := []byte{
		0x42,
		0x34, 0x12,
		0x78, 0x56, 0x34, 0x12,
		0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01,
	}
	r := NewReader(buf, DefaultSizes())

	if v, err := r.ReadUint8(); err != nil || v != 0x42 {
		t.Errorf("ReadUint8 = %#x, %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0x1234 {
		t.Errorf("ReadUint16 = %#x, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0x12345678 {
		t.Errorf("ReadUint32 = %#x, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x0123456789ABCDEF {
		t.Errorf("ReadUint64 = %#x, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2}, DefaultSizes())
	if _, err := r.ReadUint32(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
	// A failed read must not advance the position.
	if r.Pos() != 0 {
		t.Errorf("Pos = %d after failed read, want 0", r.Pos())
	}
}

func TestReaderUintN(t *testing.T) {
	buf := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	for _, n := range []int{1, 2, 4, 8} {
		r := NewReader(buf, DefaultSizes())
		v, err := r.ReadUintN(n)
		if err != nil {
			t.Fatalf("ReadUintN(%d): %v", n, err)
		}
		var want uint64
		for i := n - 1; i >= 0; i-- {
			want = want<<8 | uint64(buf[i])
		}
		if v != want {
			t.Errorf("ReadUintN(%d) = %#x, want %#x", n, v, want)
		}
	}
	r := NewReader(buf, DefaultSizes())
	if _, err := r.ReadUintN(9); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("ReadUintN(9): expected ErrInvalidSize, got %v", err)
	}
}

func TestReaderOffsetWidths(t *testing.T) {
	buf := []byte{0xAD, 0xDE, 0xFF, 0xFF}
	r := NewReader(buf, Sizes{OffsetSize: 2, LengthSize: 2})

	off, err := r.ReadOffset()
	if err != nil || off != 0xDEAD {
		t.Fatalf("ReadOffset = %#x, %v", off, err)
	}
	if r.IsUndefinedOffset(off) {
		t.Error("0xDEAD reported undefined")
	}
	und, err := r.ReadOffset()
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsUndefinedOffset(und) {
		t.Errorf("all-ones offset %#x not reported undefined", und)
	}
}

func TestReaderBytesAndPeek(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	r := NewReader(buf, DefaultSizes())

	p, err := r.Peek(3)
	if err != nil || !bytes.Equal(p, []byte{1, 2, 3}) {
		t.Fatalf("Peek = %v, %v", p, err)
	}
	if r.Pos() != 0 {
		t.Errorf("Peek advanced position to %d", r.Pos())
	}

	b, err := r.ReadBytes(3)
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 0xFF
	if buf[0] == 0xFF {
		t.Error("ReadBytes aliases the underlying buffer")
	}
}

func TestWriterRoundtrip(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf, Sizes{OffsetSize: 4, LengthSize: 8})

	if err := w.WriteUint8(0x42); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint16(0x1234); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint32(0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteOffset(0x01020304); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLength(0x1122334455667788); err != nil {
		t.Fatal(err)
	}
	if err := w.Zero(4); err != nil {
		t.Fatal(err)
	}

	r := NewReader(buf, Sizes{OffsetSize: 4, LengthSize: 8})
	if v, _ := r.ReadUint8(); v != 0x42 {
		t.Errorf("uint8 = %#x", v)
	}
	if v, _ := r.ReadUint16(); v != 0x1234 {
		t.Errorf("uint16 = %#x", v)
	}
	if v, _ := r.ReadUint32(); v != 0xDEADBEEF {
		t.Errorf("uint32 = %#x", v)
	}
	if v, _ := r.ReadOffset(); v != 0x01020304 {
		t.Errorf("offset = %#x", v)
	}
	if v, _ := r.ReadLength(); v != 0x1122334455667788 {
		t.Errorf("length = %#x", v)
	}
}

func TestWriterOverrun(t *testing.T) {
	w := NewWriter(make([]byte, 3), DefaultSizes())
	if err := w.WriteUint32(1); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
	if w.Pos() != 0 {
		t.Errorf("Pos = %d after failed write, want 0", w.Pos())
	}
}

func TestWriterSeek(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriter(buf, DefaultSizes())
	w.Seek(4)
	if err := w.WriteUint32(0xCAFEBABE); err != nil {
		t.Fatal(err)
	}
	r := NewReader(buf, DefaultSizes())
	r.Seek(4)
	if v, _ := r.ReadUint32(); v != 0xCAFEBABE {
		t.Errorf("seek write = %#x", v)
	}
}

func TestUndefinedValue(t *testing.T) {
	if UndefinedValue(2) != 0xFFFF {
		t.Errorf("UndefinedValue(2) = %#x", UndefinedValue(2))
	}
	if UndefinedValue(8) != ^uint64(0) {
		t.Errorf("UndefinedValue(8) = %#x", UndefinedValue(8))
	}
}
