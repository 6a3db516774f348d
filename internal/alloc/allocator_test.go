package alloc

import (
	"testing"
)

func TestAllocAppendsAtEOF(t *testing.T) {
	a := New(8)
	a1 := a.Alloc(100)
	a2 := a.Alloc(50)
	if a1 != 8 {
		t.Errorf("first allocation at 0x%x, want 0x8", a1)
	}
	if a2 != 108 {
		t.Errorf("second allocation at 0x%x, want 0x6c", a2)
	}
	if a.EOF() != 158 {
		t.Errorf("EOF = %d, want 158", a.EOF())
	}
	if err := a.Validate(); err != nil {
		t.Error(err)
	}
}

func TestFreeAndBestFitReuse(t *testing.T) {
	a := New(0)
	a1 := a.Alloc(100)
	a2 := a.Alloc(40)
	a3 := a.Alloc(200)
	_ = a3

	a.Free(a1, 100)
	a.Free(a2, 40)

	// Freed neighbours coalesce into one 140-byte block.
	blocks := a.FreeBlocks()
	if len(blocks) != 1 || blocks[0].Size != 140 {
		t.Fatalf("free list = %+v, want one block of 140", blocks)
	}

	// Best fit carves from the coalesced block rather than extending EOF.
	eof := a.EOF()
	got := a.Alloc(60)
	if got != a1 {
		t.Errorf("reused address 0x%x, want 0x%x", got, a1)
	}
	if a.EOF() != eof {
		t.Errorf("EOF moved from %d to %d on reuse", eof, a.EOF())
	}
	if err := a.Validate(); err != nil {
		t.Error(err)
	}
}

func TestBestFitPrefersSmallestBlock(t *testing.T) {
	a := New(0)
	big := a.Alloc(100)
	keep := a.Alloc(8)
	small := a.Alloc(30)
	a.Alloc(8)
	_ = keep

	a.Free(big, 100)
	a.Free(small, 30)

	if got := a.Alloc(25); got != small {
		t.Errorf("allocated from 0x%x, want smallest block at 0x%x", got, small)
	}
}

func TestFreeTrailingBlockShrinksEOF(t *testing.T) {
	a := New(0)
	a.Alloc(64)
	tail := a.Alloc(32)

	a.Free(tail, 32)
	if a.EOF() != 64 {
		t.Errorf("EOF = %d after trailing free, want 64", a.EOF())
	}
	if len(a.FreeBlocks()) != 0 {
		t.Errorf("trailing free left blocks on the free list: %+v", a.FreeBlocks())
	}
}

func TestExtendAt(t *testing.T) {
	a := New(0)
	first := a.Alloc(64)
	last := a.Alloc(32)

	if a.ExtendAt(first, 64, 16) {
		t.Error("extended a block that is not at EOF")
	}
	if !a.ExtendAt(last, 32, 16) {
		t.Error("failed to extend the trailing block")
	}
	if a.EOF() != 112 {
		t.Errorf("EOF = %d after extension, want 112", a.EOF())
	}
	if err := a.Validate(); err != nil {
		t.Error(err)
	}
}

func TestAllocZero(t *testing.T) {
	a := New(16)
	if got := a.Alloc(0); got != 16 {
		t.Errorf("zero-size allocation at 0x%x, want EOF 0x10", got)
	}
	if a.EOF() != 16 {
		t.Errorf("zero-size allocation moved EOF to %d", a.EOF())
	}
}

func TestSetEOF(t *testing.T) {
	a := New(0)
	a.SetEOF(4096)
	if got := a.Alloc(10); got != 4096 {
		t.Errorf("allocation after SetEOF at 0x%x, want 0x1000", got)
	}
}
