package ohdr

import (
	"fmt"
	"sync"
)

// SharedRef identifies a payload in the shared-message table.
type SharedRef uint64

// SharedTable is the external shared-message store for sharable message
// types. Registering an identical (type, payload) pair twice yields the same
// reference with its count incremented.
type SharedTable interface {
	// Register stores or finds the payload and increments its count.
	Register(typ MessageType, payload []byte) (SharedRef, error)

	// Dereference returns the payload for a reference.
	Dereference(ref SharedRef) ([]byte, error)

	// Release decrements a reference's count, dropping the payload when the
	// count reaches zero.
	Release(ref SharedRef) error
}

// MemSharedTable is an in-memory SharedTable keyed by payload identity.
type MemSharedTable struct {
	mu      sync.Mutex
	byKey   map[string]SharedRef
	entries map[SharedRef]*sharedEntry
	next    SharedRef
}

type sharedEntry struct {
	key     string
	payload []byte
	count   int
}

// NewMemSharedTable creates an empty shared-message table.
func NewMemSharedTable() *MemSharedTable {
	return &MemSharedTable{
		byKey:   make(map[string]SharedRef),
		entries: make(map[SharedRef]*sharedEntry),
		next:    1,
	}
}

func sharedKey(typ MessageType, payload []byte) string {
	return string([]byte{byte(typ >> 8), byte(typ)}) + string(payload)
}

func (t *MemSharedTable) Register(typ MessageType, payload []byte) (SharedRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := sharedKey(typ, payload)
	if ref, ok := t.byKey[key]; ok {
		t.entries[ref].count++
		return ref, nil
	}

	ref := t.next
	t.next++
	stored := make([]byte, len(payload))
	copy(stored, payload)
	t.byKey[key] = ref
	t.entries[ref] = &sharedEntry{key: key, payload: stored, count: 1}
	return ref, nil
}

func (t *MemSharedTable) Dereference(ref SharedRef) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ref]
	if !ok {
		return nil, fmt.Errorf("shared message %d not found", ref)
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, nil
}

func (t *MemSharedTable) Release(ref SharedRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ref]
	if !ok {
		return fmt.Errorf("shared message %d not found", ref)
	}
	e.count--
	if e.count == 0 {
		delete(t.byKey, e.key)
		delete(t.entries, ref)
	}
	return nil
}

// RefCount returns the current reference count for ref, zero if absent.
func (t *MemSharedTable) RefCount(ref SharedRef) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[ref]; ok {
		return e.count
	}
	return 0
}
