// Package alloc provides address-space management for header backing stores.
package alloc

import (
	"fmt"
	"sync"
)

// Allocator manages byte-range allocation within a backing store's address
// space. Allocation is append-at-EOF with best-fit reuse of freed blocks.
type Allocator struct {
	mu sync.Mutex

	// eofAddr is the current end-of-store address (next append point).
	eofAddr uint64

	// baseAddr is the minimum address that can be allocated.
	baseAddr uint64

	// freeBlocks tracks freed space, kept sorted by address and coalesced.
	freeBlocks []FreeBlock

	// live tracks outstanding allocations, for validation.
	live []FreeBlock
}

// FreeBlock is a contiguous range of reusable space.
type FreeBlock struct {
	Addr uint64
	Size uint64
}

// New creates an Allocator whose first append-allocation lands at baseAddr.
func New(baseAddr uint64) *Allocator {
	return &Allocator{
		eofAddr:  baseAddr,
		baseAddr: baseAddr,
	}
}

// Alloc returns the address of a block of the given size. Freed blocks are
// reused best-fit (smallest sufficient block, lowest address on ties) before
// the store is extended.
func (a *Allocator) Alloc(size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return a.eofAddr
	}

	if i := a.bestFitLocked(size); i >= 0 {
		blk := &a.freeBlocks[i]
		addr := blk.Addr
		if blk.Size == size {
			a.freeBlocks = append(a.freeBlocks[:i], a.freeBlocks[i+1:]...)
		} else {
			blk.Addr += size
			blk.Size -= size
		}
		a.live = append(a.live, FreeBlock{Addr: addr, Size: size})
		return addr
	}

	addr := a.eofAddr
	a.eofAddr += size
	a.live = append(a.live, FreeBlock{Addr: addr, Size: size})
	return addr
}

// bestFitLocked returns the index of the smallest free block that can hold
// size bytes, or -1. Blocks are address-sorted, so scanning in order makes
// the lowest-address block win ties.
func (a *Allocator) bestFitLocked(size uint64) int {
	best := -1
	for i, blk := range a.freeBlocks {
		if blk.Size < size {
			continue
		}
		if best < 0 || blk.Size < a.freeBlocks[best].Size {
			best = i
		}
	}
	return best
}

// ExtendAt reports whether the block ending at addr+oldSize is the last
// allocation in the store, and if so grows it in place by delta bytes.
func (a *Allocator) ExtendAt(addr, oldSize, delta uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr+oldSize != a.eofAddr {
		return false
	}
	a.eofAddr += delta
	for i := range a.live {
		if a.live[i].Addr == addr && a.live[i].Size == oldSize {
			a.live[i].Size += delta
			break
		}
	}
	return true
}

// Free returns a block to the free list, coalescing with adjacent free
// blocks. Freeing the trailing block of the store shrinks the EOF instead.
func (a *Allocator) Free(addr, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.live {
		if a.live[i].Addr <= addr && addr+size <= a.live[i].Addr+a.live[i].Size {
			a.live = append(a.live[:i], a.live[i+1:]...)
			break
		}
	}

	if addr+size == a.eofAddr {
		a.eofAddr = addr
		return
	}

	// Insert sorted by address, then merge neighbours.
	i := 0
	for i < len(a.freeBlocks) && a.freeBlocks[i].Addr < addr {
		i++
	}
	a.freeBlocks = append(a.freeBlocks, FreeBlock{})
	copy(a.freeBlocks[i+1:], a.freeBlocks[i:])
	a.freeBlocks[i] = FreeBlock{Addr: addr, Size: size}

	if i+1 < len(a.freeBlocks) && a.freeBlocks[i].Addr+a.freeBlocks[i].Size == a.freeBlocks[i+1].Addr {
		a.freeBlocks[i].Size += a.freeBlocks[i+1].Size
		a.freeBlocks = append(a.freeBlocks[:i+1], a.freeBlocks[i+2:]...)
	}
	if i > 0 && a.freeBlocks[i-1].Addr+a.freeBlocks[i-1].Size == a.freeBlocks[i].Addr {
		a.freeBlocks[i-1].Size += a.freeBlocks[i].Size
		a.freeBlocks = append(a.freeBlocks[:i], a.freeBlocks[i+1:]...)
	}
}

// EOF returns the current end-of-store address.
func (a *Allocator) EOF() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eofAddr
}

// SetEOF sets the EOF address, used when opening an existing store.
func (a *Allocator) SetEOF(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eofAddr = addr
}

// FreeBlocks returns a copy of the current free list.
func (a *Allocator) FreeBlocks() []FreeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]FreeBlock, len(a.freeBlocks))
	copy(out, a.freeBlocks)
	return out
}

// Validate checks that live allocations are within bounds and that no two
// overlap.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, blk := range a.live {
		if blk.Addr < a.baseAddr {
			return fmt.Errorf("allocation at 0x%x is before base address 0x%x", blk.Addr, a.baseAddr)
		}
		if blk.Addr+blk.Size > a.eofAddr {
			return fmt.Errorf("allocation at 0x%x size %d extends past EOF 0x%x", blk.Addr, blk.Size, a.eofAddr)
		}
	}
	for i := 0; i < len(a.live); i++ {
		for j := i + 1; j < len(a.live); j++ {
			b1, b2 := a.live[i], a.live[j]
			if b1.Addr < b2.Addr+b2.Size && b2.Addr < b1.Addr+b1.Size {
				return fmt.Errorf("overlapping allocations: [0x%x, size %d] and [0x%x, size %d]",
					b1.Addr, b1.Size, b2.Addr, b2.Size)
			}
		}
	}
	return nil
}
