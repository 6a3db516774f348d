package ohdr

import (
	"fmt"
	"slices"
	"sync"
)

// Handle is an exclusive lock on a cached entry, returned by Protect.
type Handle interface {
	// Address returns the store address identifying the entry.
	Address() uint64
}

// Cache is the metadata cache the engine is a client of. Entries are keyed
// by store address. The engine never flushes bytes itself; it marks entries
// dirty and maintains the flush-dependency graph, and the cache's flush
// scheduler decides write timing subject to that graph.
//
// The flush-dependency contract: a child entry's on-disk image must be
// durable before any parent that references its address is flushed.
type Cache interface {
	// Protect takes the exclusive mutation lock on an entry.
	Protect(addr uint64) (Handle, error)

	// Unprotect releases the lock, optionally marking the entry dirty.
	Unprotect(h Handle, dirty bool) error

	// Pin keeps an entry resident without holding the mutation lock.
	Pin(addr uint64) error

	// Unpin releases a pin.
	Unpin(addr uint64) error

	// MarkDirty flags a protected or pinned entry as needing writeback.
	MarkDirty(addr uint64) error

	// RegisterFlushDependency orders child's flush before parent's.
	RegisterFlushDependency(child, parent uint64) error

	// UnregisterFlushDependency removes a previously registered edge.
	UnregisterFlushDependency(child, parent uint64) error
}

// NopCache is a Cache that accepts every call and tracks nothing. Suitable
// for read-only tooling and single-threaded batch use.
type NopCache struct{}

type nopHandle uint64

func (n nopHandle) Address() uint64 { return uint64(n) }

func (NopCache) Protect(addr uint64) (Handle, error)                { return nopHandle(addr), nil }
func (NopCache) Unprotect(Handle, bool) error                       { return nil }
func (NopCache) Pin(uint64) error                                   { return nil }
func (NopCache) Unpin(uint64) error                                 { return nil }
func (NopCache) MarkDirty(uint64) error                             { return nil }
func (NopCache) RegisterFlushDependency(child, parent uint64) error { return nil }
func (NopCache) UnregisterFlushDependency(child, parent uint64) error {
	return nil
}

// TrackingCache is a reference Cache that enforces the protocol: single
// protector per entry, balanced pins, and a consistent dependency graph. Its
// FlushOrder answers the question the real cache's scheduler would ask:
// which dirty entries may be written, children before parents.
type TrackingCache struct {
	mu      sync.Mutex
	entries map[uint64]*trackedEntry
}

type trackedEntry struct {
	addr      uint64
	protected bool
	pins      int
	dirty     bool
	parents   []uint64
	children  []uint64
}

type trackedHandle struct {
	addr uint64
}

func (h *trackedHandle) Address() uint64 { return h.addr }

// NewTrackingCache creates an empty tracking cache.
func NewTrackingCache() *TrackingCache {
	return &TrackingCache{entries: make(map[uint64]*trackedEntry)}
}

func (c *TrackingCache) entryLocked(addr uint64) *trackedEntry {
	e, ok := c.entries[addr]
	if !ok {
		e = &trackedEntry{addr: addr}
		c.entries[addr] = e
	}
	return e
}

func (c *TrackingCache) Protect(addr uint64) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(addr)
	if e.protected {
		return nil, fmt.Errorf("cache entry 0x%x is already protected", addr)
	}
	e.protected = true
	return &trackedHandle{addr: addr}, nil
}

func (c *TrackingCache) Unprotect(h Handle, dirty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h.Address()]
	if !ok || !e.protected {
		return fmt.Errorf("cache entry 0x%x is not protected", h.Address())
	}
	e.protected = false
	if dirty {
		e.dirty = true
	}
	return nil
}

func (c *TrackingCache) Pin(addr uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(addr).pins++
	return nil
}

func (c *TrackingCache) Unpin(addr uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok || e.pins == 0 {
		return fmt.Errorf("cache entry 0x%x is not pinned", addr)
	}
	e.pins--
	return nil
}

func (c *TrackingCache) MarkDirty(addr uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(addr).dirty = true
	return nil
}

func (c *TrackingCache) RegisterFlushDependency(child, parent uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if child == parent {
		return fmt.Errorf("flush dependency 0x%x on itself", child)
	}
	ce := c.entryLocked(child)
	pe := c.entryLocked(parent)
	if slices.Contains(ce.parents, parent) {
		return fmt.Errorf("flush dependency 0x%x -> 0x%x already registered", child, parent)
	}
	ce.parents = append(ce.parents, parent)
	pe.children = append(pe.children, child)
	return nil
}

func (c *TrackingCache) UnregisterFlushDependency(child, parent uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.entries[child]
	if !ok || !slices.Contains(ce.parents, parent) {
		return fmt.Errorf("flush dependency 0x%x -> 0x%x is not registered", child, parent)
	}
	ce.parents = slices.DeleteFunc(ce.parents, func(a uint64) bool { return a == parent })
	pe := c.entries[parent]
	pe.children = slices.DeleteFunc(pe.children, func(a uint64) bool { return a == child })
	return nil
}

// Parents returns the flush-dependency parents of an entry.
func (c *TrackingCache) Parents(addr uint64) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		return nil
	}
	return slices.Clone(e.parents)
}

// IsDirty reports whether an entry has been marked dirty.
func (c *TrackingCache) IsDirty(addr uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	return ok && e.dirty
}

// FlushOrder returns every known entry in a valid flush order: an entry
// appears only after all of its flush-dependency children.
func (c *TrackingCache) FlushOrder() ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addrs := make([]uint64, 0, len(c.entries))
	for addr := range c.entries {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)

	var order []uint64
	state := make(map[uint64]int) // 0 unvisited, 1 visiting, 2 done
	var visit func(addr uint64) error
	visit = func(addr uint64) error {
		switch state[addr] {
		case 1:
			return fmt.Errorf("flush dependency cycle through 0x%x", addr)
		case 2:
			return nil
		}
		state[addr] = 1
		children := slices.Clone(c.entries[addr].children)
		slices.Sort(children)
		for _, child := range children {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[addr] = 2
		order = append(order, addr)
		return nil
	}
	for _, addr := range addrs {
		if err := visit(addr); err != nil {
			return nil, err
		}
	}
	return order, nil
}
