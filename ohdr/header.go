package ohdr

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// chunk is one contiguous block of the header in the file. Chunk 0 carries
// the header prefix; later chunks carry the OCHK magic in version 2. The
// image is the full serialized block, prefix and checksum included, and is
// kept current as messages mutate.
type chunk struct {
	addr  uint64
	size  int
	gap   int // trailing bytes too small for a message prefix, version 2 only
	image []byte
	dirty bool

	// Flush-dependency bookkeeping for chunks beyond 0.
	contChunk int    // chunk holding the continuation message that points here
	fdParent  uint64 // registered parent address, UndefinedAddr when none
}

func (c *chunk) dataStart(h *Header, ci int) int {
	return h.chunkPrefixSize(ci)
}

func (c *chunk) dataEnd(h *Header) int {
	return c.size - h.chunkSuffixSize()
}

// Header is an in-memory object header: the message table spanning one or
// more chunks, plus the prefix fields. All mutation goes through the Header;
// chunk images are rewritten eagerly so that Flush only copies bytes out.
type Header struct {
	version uint8
	flags   uint8
	nlink   uint32

	atime uint32
	mtime uint32
	ctime uint32
	btime uint32

	maxCompact uint16
	minDense   uint16

	swmr     bool
	readonly bool

	sizes  binary.Sizes
	reg    *Registry
	store  Store
	cache  Cache
	shared SharedTable
	log    *slog.Logger

	addr   uint64
	handle Handle
	msgs   []Message
	chunks []chunk

	nextIndex uint32 // next creation index to hand out
}

// Create allocates and initializes a new object header in the store. The
// header starts with a single chunk holding one null message covering the
// whole data region, and a link count of one.
func Create(store Store, cache Cache, opts ...Option) (*Header, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Version != Version1 && o.Version != Version2 {
		return nil, fmt.Errorf("unsupported object header version %d", o.Version)
	}
	if o.ReadOnly {
		return nil, fmt.Errorf("%w: cannot create a read-only header", ErrInvalidMutation)
	}
	if o.Version == Version1 {
		// Version 1 carries no flag byte; tracking, times, and phase-change
		// storage are version 2 features.
		o.Flags = 0
	}

	h := &Header{
		version:    o.Version,
		flags:      o.Flags,
		nlink:      1,
		maxCompact: o.MaxCompact,
		minDense:   o.MinDense,
		swmr:       o.SWMRWrite,
		sizes:      o.Sizes,
		reg:        o.Registry,
		store:      store,
		cache:      cache,
		shared:     o.Shared,
		log:        o.Logger,
	}

	dataSize := h.align(o.SizeHint)
	if dataSize < minChunkData {
		dataSize = minChunkData
	}
	dataSize = h.align(dataSize)
	if dataSize-h.messagePrefixSize() > maxMessageSize {
		return nil, fmt.Errorf("%w: covering null of %d bytes overflows the 16-bit size field",
			ErrAllocationFailure, dataSize-h.messagePrefixSize())
	}
	if h.version == Version2 {
		h.flags = (h.flags &^ FlagChunk0SizeMask) | chunk0FieldFor(dataSize)
	}

	if h.storeTimes() {
		now := uint32(time.Now().Unix())
		h.atime, h.mtime, h.ctime, h.btime = now, now, now, now
	}

	size := h.headerPrefixSize() + dataSize + h.chunkSuffixSize()
	addr, err := store.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: header chunk: %v", ErrAllocationFailure, err)
	}
	h.addr = addr
	if err := h.checkAddr(addr, size); err != nil {
		store.Free(addr, size)
		return nil, err
	}
	h.chunks = []chunk{{
		addr:     addr,
		size:     size,
		image:    make([]byte, size),
		dirty:    true,
		fdParent: UndefinedAddr,
	}}

	// Initial null message spans the whole data region.
	h.msgs = []Message{{
		typ:        TypeNil,
		chunkIndex: 0,
		offset:     h.headerPrefixSize() + h.messagePrefixSize(),
		rawSize:    dataSize - h.messagePrefixSize(),
	}}
	if err := h.writeMessagePrefix(&h.msgs[0]); err != nil {
		store.Free(addr, size)
		return nil, err
	}

	handle, err := cache.Protect(addr)
	if err != nil {
		store.Free(addr, size)
		return nil, fmt.Errorf("protecting header at 0x%x: %w", addr, err)
	}
	h.handle = handle
	h.markChunkDirty(0)

	h.log.Debug("created object header",
		"addr", addr, "version", h.version, "size", size)
	return h, nil
}

// Address returns the file address of chunk 0.
func (h *Header) Address() uint64 { return h.addr }

// Version reports the serialized header version, 1 or 2.
func (h *Header) Version() uint8 { return h.version }

// Flags returns the version-2 flag byte. Always zero for version 1.
func (h *Header) Flags() uint8 { return h.flags }

// LinkCount returns the number of hard links referencing the object.
func (h *Header) LinkCount() uint32 { return h.nlink }

// NumChunks reports how many chunks back the header.
func (h *Header) NumChunks() int { return len(h.chunks) }

// NumMessages reports the number of message table entries, nulls included.
func (h *Header) NumMessages() int { return len(h.msgs) }

// ChunkAddress returns the file address of the given chunk.
func (h *Header) ChunkAddress(ci int) (uint64, error) {
	if ci < 0 || ci >= len(h.chunks) {
		return UndefinedAddr, errors.New("chunk index out of range")
	}
	return h.chunks[ci].addr, nil
}

// ChunkSize returns the full serialized size of the given chunk.
func (h *Header) ChunkSize(ci int) (int, error) {
	if ci < 0 || ci >= len(h.chunks) {
		return 0, errors.New("chunk index out of range")
	}
	return h.chunks[ci].size, nil
}

// Times returns the access, modification, change and birth timestamps as
// Unix seconds. All zero when the header does not store times.
func (h *Header) Times() (atime, mtime, ctime, btime uint32) {
	return h.atime, h.mtime, h.ctime, h.btime
}

// Touch updates the modification and change times. A no-op unless the
// header stores times.
func (h *Header) Touch() {
	if !h.storeTimes() {
		return
	}
	now := uint32(time.Now().Unix())
	h.mtime, h.ctime = now, now
	h.markChunkDirty(0)
}

func (h *Header) markChunkDirty(ci int) {
	c := &h.chunks[ci]
	if !c.dirty {
		c.dirty = true
	}
	h.cache.MarkDirty(c.addr)
}

func (h *Header) checkMutable() error {
	if h.readonly {
		return fmt.Errorf("%w: header opened read-only", ErrInvalidMutation)
	}
	return nil
}

func (h *Header) checkIndex(idx int) error {
	if idx < 0 || idx >= len(h.msgs) {
		return fmt.Errorf("%w: message index %d out of range", ErrInvalidMutation, idx)
	}
	return nil
}

// Append adds a new message to the header and returns its table index. The
// message body is placed into the best-fitting null slot, extending the last
// chunk or allocating a new one when no slot fits. The header takes
// ownership of native.
func (h *Header) Append(native Native, flags uint8) (int, error) {
	if err := h.checkMutable(); err != nil {
		return 0, err
	}
	if flags&(MsgFlagShared|MsgFlagWasUnknown) != 0 {
		return 0, fmt.Errorf("%w: flags 0x%02x are managed internally", ErrInvalidMutation, flags&(MsgFlagShared|MsgFlagWasUnknown))
	}
	typ := native.MessageType()
	class, ok := h.reg.Lookup(typ)
	if !ok {
		return 0, fmt.Errorf("%w: type 0x%04x", ErrUnknownMessageType, typ)
	}
	if h.trackCreationOrder() && h.nextIndex > maxCreationIndex {
		return 0, ErrCreationIndexExhausted
	}

	body, err := h.encodeNative(class, native)
	if err != nil {
		return 0, err
	}

	var ref SharedRef
	hasShared := false
	if flags&MsgFlagShareable != 0 && flags&MsgFlagUnsharable == 0 &&
		class.Share&Sharable != 0 && h.shared != nil {
		ref, err = h.shared.Register(typ, body)
		if err != nil {
			return 0, fmt.Errorf("registering shared message of type 0x%04x: %w", typ, err)
		}
		hasShared = true
		flags |= MsgFlagShared
	}

	j, err := h.allocSpace(len(body))
	if err != nil {
		if hasShared {
			h.shared.Release(ref)
		}
		return 0, err
	}

	m := &h.msgs[j]
	m.typ = typ
	m.class = class
	m.flags = flags
	m.native = native
	m.sharedRef = ref
	m.hasShared = hasShared
	m.dirty = false
	if h.trackCreationOrder() {
		m.creationIndex = uint16(h.nextIndex)
		h.nextIndex++
	}
	if err := h.writeMessagePrefix(m); err != nil {
		return 0, err
	}
	if err := h.writeMessageBody(m, body); err != nil {
		return 0, err
	}
	h.Touch()
	h.log.Debug("appended message",
		"type", typ, "index", j, "chunk", m.chunkIndex, "size", m.rawSize)
	return j, nil
}

// Write replaces the payload of the message at idx. If the new body fits the
// existing slot it is rewritten in place, zero-padded. Otherwise the message
// relocates to a fresh slot while keeping its table index; the old span
// becomes a null message. Constant, null, and unknown messages reject
// writes.
func (h *Header) Write(idx int, native Native) error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	if err := h.checkIndex(idx); err != nil {
		return err
	}
	m := &h.msgs[idx]
	switch {
	case m.IsNull():
		return fmt.Errorf("%w: message %d is a null message", ErrInvalidMutation, idx)
	case m.IsUnknown():
		return fmt.Errorf("%w: message %d has unregistered type 0x%04x", ErrInvalidMutation, idx, m.typ)
	case m.flags&MsgFlagConstant != 0:
		return fmt.Errorf("%w: message %d is constant", ErrInvalidMutation, idx)
	case m.typ == TypeContinuation:
		return fmt.Errorf("%w: continuation messages are managed internally", ErrInvalidMutation)
	case native.MessageType() != m.typ:
		return fmt.Errorf("%w: message %d holds type 0x%04x, not 0x%04x", ErrInvalidMutation, idx, m.typ, native.MessageType())
	}

	body, err := h.encodeNative(m.class, native)
	if err != nil {
		return err
	}
	if m.hasShared {
		newRef, err := h.shared.Register(m.typ, body)
		if err != nil {
			return fmt.Errorf("re-registering shared message %d: %w", idx, err)
		}
		if err := h.shared.Release(m.sharedRef); err != nil {
			h.shared.Release(newRef)
			return fmt.Errorf("releasing shared reference of message %d: %w", idx, err)
		}
		m.sharedRef = newRef
	}

	if h.align(len(body)) <= m.rawSize {
		m.native = native
		m.dirty = false
		if err := h.writeMessageBody(m, body); err != nil {
			return err
		}
		h.Touch()
		return nil
	}

	// Relocate. allocSpace may grow h.msgs, so refetch pointers afterwards.
	j, err := h.allocSpace(len(body))
	if err != nil {
		return err
	}
	m = &h.msgs[idx]
	target := &h.msgs[j]
	m.chunkIndex, target.chunkIndex = target.chunkIndex, m.chunkIndex
	m.offset, target.offset = target.offset, m.offset
	m.rawSize, target.rawSize = target.rawSize, m.rawSize
	m.native = native
	m.dirty = false
	if err := h.writeMessagePrefix(target); err != nil {
		return err
	}
	if err := h.writeMessageBody(target, nil); err != nil {
		return err
	}
	if err := h.writeMessagePrefix(m); err != nil {
		return err
	}
	if err := h.writeMessageBody(m, body); err != nil {
		return err
	}
	h.Touch()
	h.log.Debug("relocated message",
		"index", idx, "chunk", m.chunkIndex, "size", m.rawSize)
	return nil
}

// Remove deletes the message at idx, converting its slot to a null message
// in place. The table index remains valid and refers to the null slot until
// a later Condense. Shared references are released first; a release failure
// aborts the removal.
func (h *Header) Remove(idx int) error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	if err := h.checkIndex(idx); err != nil {
		return err
	}
	m := &h.msgs[idx]
	if m.IsNull() {
		return fmt.Errorf("%w: message %d is already null", ErrInvalidMutation, idx)
	}
	if m.flags&MsgFlagConstant != 0 {
		return fmt.Errorf("%w: message %d is constant", ErrInvalidMutation, idx)
	}
	if m.typ == TypeContinuation {
		return fmt.Errorf("%w: continuation messages are managed internally", ErrInvalidMutation)
	}

	if m.hasShared {
		if err := h.shared.Release(m.sharedRef); err != nil {
			return fmt.Errorf("releasing shared reference of message %d: %w", idx, err)
		}
		m.hasShared = false
	}
	if m.class != nil && m.class.Delete != nil {
		native, err := h.Native(idx)
		if err != nil {
			return err
		}
		if err := m.class.Delete(native, h); err != nil {
			return fmt.Errorf("delete hook for message %d: %w", idx, err)
		}
	}

	m.typ = TypeNil
	m.class = nil
	m.flags = 0
	m.creationIndex = 0
	m.native = nil
	m.sharedRef = 0
	m.dirty = false
	if err := h.writeMessagePrefix(m); err != nil {
		return err
	}
	if err := h.writeMessageBody(m, nil); err != nil {
		return err
	}
	h.Touch()
	h.log.Debug("removed message", "index", idx)
	return nil
}

// Link adjusts the hard link count by delta and returns the new count. For
// version 2 headers a reference count message is appended, updated, or
// removed so that counts above one survive serialization. Dropping the
// count below zero is rejected.
func (h *Header) Link(delta int) (uint32, error) {
	if err := h.checkMutable(); err != nil {
		return h.nlink, err
	}
	if delta == 0 {
		return h.nlink, nil
	}
	n := int64(h.nlink) + int64(delta)
	if n < 0 {
		return h.nlink, fmt.Errorf("%w: link count would drop below zero", ErrInvalidMutation)
	}
	h.nlink = uint32(n)

	if h.version == Version1 {
		// Version 1 stores the count in the chunk 0 prefix.
		h.markChunkDirty(0)
		h.Touch()
		return h.nlink, nil
	}

	rcIdx := -1
	for i := range h.msgs {
		if h.msgs[i].typ == TypeRefCount {
			rcIdx = i
			break
		}
	}
	switch {
	case h.nlink > 1 && rcIdx >= 0:
		if err := h.Write(rcIdx, &RefCount{Count: h.nlink}); err != nil {
			return h.nlink, err
		}
	case h.nlink > 1:
		if _, err := h.Append(&RefCount{Count: h.nlink}, 0); err != nil {
			return h.nlink, err
		}
	case rcIdx >= 0:
		if err := h.Remove(rcIdx); err != nil {
			return h.nlink, err
		}
	}
	h.Touch()
	return h.nlink, nil
}

// Delete releases every message, frees all chunks from the store, and
// unprotects the header. The Header must not be used afterwards.
func (h *Header) Delete() error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	for i := range h.msgs {
		m := &h.msgs[i]
		if m.IsNull() {
			continue
		}
		if m.hasShared {
			if err := h.shared.Release(m.sharedRef); err != nil {
				return fmt.Errorf("releasing shared reference of message %d: %w", i, err)
			}
			m.hasShared = false
		}
		if m.class != nil && m.class.Delete != nil {
			native, err := h.Native(i)
			if err != nil {
				return err
			}
			if err := m.class.Delete(native, h); err != nil {
				return fmt.Errorf("delete hook for message %d: %w", i, err)
			}
		}
	}
	if err := h.releaseAllDeps(); err != nil {
		return err
	}
	for ci := len(h.chunks) - 1; ci >= 0; ci-- {
		c := &h.chunks[ci]
		if err := h.store.Free(c.addr, c.size); err != nil {
			return fmt.Errorf("freeing chunk %d at 0x%x: %w", ci, c.addr, err)
		}
	}
	if err := h.cache.Unprotect(h.handle, false); err != nil {
		return err
	}
	h.msgs = nil
	h.chunks = nil
	h.handle = nil
	h.log.Debug("deleted object header", "addr", h.addr)
	return nil
}

// Release unprotects the header and tears down flush dependencies without
// writing anything. Call Flush first to persist pending changes.
func (h *Header) Release() error {
	dirty := false
	for i := range h.chunks {
		if h.chunks[i].dirty {
			dirty = true
			break
		}
	}
	if err := h.releaseAllDeps(); err != nil {
		return err
	}
	if err := h.cache.Unprotect(h.handle, dirty); err != nil {
		return err
	}
	h.handle = nil
	return nil
}
