package ohdr

import (
	"fmt"
	"io"
	"sync"

	"github.com/robert-malhotra/go-ohdr/internal/alloc"
)

// UndefinedAddr is the sentinel for a chunk that has no store address yet.
const UndefinedAddr = ^uint64(0)

// Store is the backing-store abstraction the engine reads and writes chunk
// images through. Implementations may be files, memory, or anything
// byte-addressable; calls are synchronous and may fail but must not hang
// indefinitely by design.
type Store interface {
	// Read returns n bytes starting at addr.
	Read(addr uint64, n int) ([]byte, error)

	// Write stores p starting at addr.
	Write(addr uint64, p []byte) error

	// Alloc reserves n bytes and returns their address.
	Alloc(n int) (uint64, error)

	// Free releases a previously allocated byte range.
	Free(addr uint64, n int) error

	// Extend grows the allocation [addr, addr+oldSize) by delta bytes in
	// place, reporting whether that was possible.
	Extend(addr uint64, oldSize, delta int) (bool, error)
}

// MemStore is an in-memory Store, the test and tooling workhorse.
type MemStore struct {
	mu    sync.Mutex
	buf   []byte
	alloc *alloc.Allocator
}

// NewMemStore creates an empty in-memory store. Address 0 is kept
// unallocatable so that 0 never masquerades as a valid chunk address.
func NewMemStore() *MemStore {
	return &MemStore{alloc: alloc.New(8)}
}

func (s *MemStore) Read(addr uint64, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := addr + uint64(n)
	if end > uint64(len(s.buf)) {
		return nil, fmt.Errorf("read [0x%x, 0x%x): %w", addr, end, io.ErrUnexpectedEOF)
	}
	out := make([]byte, n)
	copy(out, s.buf[addr:end])
	return out, nil
}

func (s *MemStore) Write(addr uint64, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := addr + uint64(len(p))
	if end > uint64(len(s.buf)) {
		s.buf = append(s.buf, make([]byte, end-uint64(len(s.buf)))...)
	}
	copy(s.buf[addr:], p)
	return nil
}

func (s *MemStore) Alloc(n int) (uint64, error) {
	return s.alloc.Alloc(uint64(n)), nil
}

func (s *MemStore) Free(addr uint64, n int) error {
	s.alloc.Free(addr, uint64(n))
	return nil
}

func (s *MemStore) Extend(addr uint64, oldSize, delta int) (bool, error) {
	return s.alloc.ExtendAt(addr, uint64(oldSize), uint64(delta)), nil
}

// Validate checks the store's allocation bookkeeping.
func (s *MemStore) Validate() error {
	return s.alloc.Validate()
}

// FileStore is a Store over a file-like byte range. The writer may be nil
// for read-only access, in which case Write, Alloc, Free, and Extend fail.
type FileStore struct {
	r     io.ReaderAt
	w     io.WriterAt
	alloc *alloc.Allocator
}

// NewFileStore creates a store over the given reader/writer pair. eof is the
// current end of allocated space, the point where new chunks are placed.
func NewFileStore(r io.ReaderAt, w io.WriterAt, eof uint64) *FileStore {
	return &FileStore{r: r, w: w, alloc: alloc.New(eof)}
}

func (s *FileStore) Read(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := s.r.ReadAt(buf, int64(addr)); err != nil {
		return nil, fmt.Errorf("read [0x%x, 0x%x): %w", addr, addr+uint64(n), err)
	}
	return buf, nil
}

func (s *FileStore) Write(addr uint64, p []byte) error {
	if s.w == nil {
		return fmt.Errorf("write at 0x%x: store is read-only", addr)
	}
	if _, err := s.w.WriteAt(p, int64(addr)); err != nil {
		return fmt.Errorf("write at 0x%x: %w", addr, err)
	}
	return nil
}

func (s *FileStore) Alloc(n int) (uint64, error) {
	if s.w == nil {
		return 0, fmt.Errorf("alloc: store is read-only")
	}
	return s.alloc.Alloc(uint64(n)), nil
}

func (s *FileStore) Free(addr uint64, n int) error {
	if s.w == nil {
		return fmt.Errorf("free at 0x%x: store is read-only", addr)
	}
	s.alloc.Free(addr, uint64(n))
	return nil
}

func (s *FileStore) Extend(addr uint64, oldSize, delta int) (bool, error) {
	if s.w == nil {
		return false, fmt.Errorf("extend at 0x%x: store is read-only", addr)
	}
	return s.alloc.ExtendAt(addr, uint64(oldSize), uint64(delta)), nil
}
