package ohdr

import (
	"bytes"
	"fmt"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// speculativeSize covers the fixed version 1 prefix and the largest version
// 2 prefix variant seen before the flag byte is known. A second read fetches
// the remainder once the real prefix size is computed.
const speculativeSize = 16

// Open loads an object header from the store, following continuation
// messages breadth-first until every chunk is resolved. A failure at any
// point returns a nil header; no partially decoded state escapes.
func Open(store Store, cache Cache, addr uint64, opts ...Option) (*Header, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	h := &Header{
		maxCompact: o.MaxCompact,
		minDense:   o.MinDense,
		swmr:       o.SWMRWrite,
		readonly:   o.ReadOnly,
		sizes:      o.Sizes,
		reg:        o.Registry,
		store:      store,
		cache:      cache,
		shared:     o.Shared,
		log:        o.Logger,
		addr:       addr,
	}
	handle, err := cache.Protect(addr)
	if err != nil {
		return nil, fmt.Errorf("protecting header at 0x%x: %w", addr, err)
	}
	h.handle = handle
	if err := h.load(); err != nil {
		h.releaseAllDeps()
		cache.Unprotect(handle, false)
		return nil, err
	}
	h.log.Debug("opened object header",
		"addr", addr, "version", h.version,
		"chunks", len(h.chunks), "messages", len(h.msgs))
	return h, nil
}

func (h *Header) load() error {
	if err := h.checkAddr(h.addr, speculativeSize); err != nil {
		return err
	}
	spec, err := h.store.Read(h.addr, speculativeSize)
	if err != nil {
		return fmt.Errorf("%w: reading header prefix at 0x%x: %v", ErrMalformedHeader, h.addr, err)
	}

	var size int
	var remaining int // version 1 total message count, counted down while scanning
	if bytes.Equal(spec[:len(magicHeader)], magicHeader) {
		size, err = h.decodePrefixV2(spec)
	} else {
		size, remaining, err = h.decodePrefixV1(spec)
	}
	if err != nil {
		return err
	}

	if err := h.checkAddr(h.addr, size); err != nil {
		return err
	}
	image, err := h.store.Read(h.addr, size)
	if err != nil {
		return fmt.Errorf("%w: reading header chunk 0 at 0x%x: %v", ErrMalformedHeader, h.addr, err)
	}
	if h.version == Version2 {
		if err := h.verifyChecksum(image, 0); err != nil {
			return err
		}
	}
	h.chunks = []chunk{{
		addr:     h.addr,
		size:     size,
		image:    image,
		fdParent: UndefinedAddr,
	}}

	queue, err := h.scanChunk(0, &remaining)
	if err != nil {
		return err
	}

	// Breadth-first continuation resolution. Chunks are numbered in the
	// order they are discovered, so every continuation target gets an index
	// greater than the chunk holding the pointer.
	seen := map[uint64]int{h.addr: 0}
	for qi := 0; qi < len(queue); qi++ {
		p := queue[qi]
		if prev, dup := seen[p.addr]; dup {
			return fmt.Errorf("%w: address 0x%x already loaded as chunk %d", ErrDuplicateChunkTarget, p.addr, prev)
		}
		ci, more, err := h.loadChunk(p, &remaining)
		if err != nil {
			return err
		}
		seen[p.addr] = ci
		queue = append(queue, more...)
	}
	if h.version == Version1 && remaining != 0 {
		return fmt.Errorf("%w: message count short by %d", ErrMalformedHeader, remaining)
	}

	if err := h.finishLoad(); err != nil {
		return err
	}
	return h.Validate()
}

// pendingCont is a continuation discovered while scanning, queued for the
// breadth-first resolver.
type pendingCont struct {
	addr     uint64
	length   uint64
	srcChunk int
}

func (h *Header) decodePrefixV1(spec []byte) (size, nmsgs int, err error) {
	r := binary.NewReader(spec, h.sizes)
	version, _ := r.ReadUint8()
	if version != Version1 {
		return 0, 0, fmt.Errorf("%w: unsupported version %d", ErrMalformedHeader, version)
	}
	if b, _ := r.ReadUint8(); b != 0 {
		return 0, 0, fmt.Errorf("%w: nonzero reserved byte in prefix", ErrMalformedHeader)
	}
	count, _ := r.ReadUint16()
	nlink, _ := r.ReadUint32()
	dataSize, _ := r.ReadUint32()

	h.version = Version1
	h.nlink = nlink
	if dataSize%8 != 0 {
		return 0, 0, fmt.Errorf("%w: unaligned chunk 0 size %d", ErrMalformedHeader, dataSize)
	}
	return h.headerPrefixSize() + int(dataSize), int(count), nil
}

func (h *Header) decodePrefixV2(spec []byte) (int, error) {
	version := spec[len(magicHeader)]
	if version != Version2 {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrMalformedHeader, version)
	}
	h.version = Version2
	h.flags = spec[len(magicHeader)+1]
	if h.flags&^(FlagChunk0SizeMask|FlagTrackCreationOrder|FlagIndexCreationOrder|FlagStorePhaseChange|FlagStoreTimes) != 0 {
		return 0, fmt.Errorf("%w: unknown flag bits 0x%02x", ErrMalformedHeader, h.flags)
	}
	if h.flags&FlagIndexCreationOrder != 0 && h.flags&FlagTrackCreationOrder == 0 {
		return 0, fmt.Errorf("%w: creation order indexed but not tracked", ErrMalformedHeader)
	}

	prefixSize := h.headerPrefixSize()
	prefix := spec
	if prefixSize > len(spec) {
		full, err := h.store.Read(h.addr, prefixSize)
		if err != nil {
			return 0, fmt.Errorf("%w: reading header prefix at 0x%x: %v", ErrMalformedHeader, h.addr, err)
		}
		prefix = full
	}

	r := binary.NewReader(prefix, h.sizes)
	r.Skip(len(magicHeader) + 2)
	if h.storeTimes() {
		h.atime, _ = r.ReadUint32()
		h.mtime, _ = r.ReadUint32()
		h.ctime, _ = r.ReadUint32()
		h.btime, _ = r.ReadUint32()
	}
	if h.flags&FlagStorePhaseChange != 0 {
		h.maxCompact, _ = r.ReadUint16()
		h.minDense, _ = r.ReadUint16()
	}
	dataSize, err := r.ReadUintN(h.chunk0FieldSize())
	if err != nil {
		return 0, fmt.Errorf("%w: truncated prefix", ErrMalformedHeader)
	}
	if dataSize > uint64(maxInt-prefixSize-checksumSize) {
		return 0, fmt.Errorf("%w: chunk 0 size %d too large", ErrMalformedHeader, dataSize)
	}
	return prefixSize + int(dataSize) + checksumSize, nil
}

const maxInt = int(^uint(0) >> 1)

func (h *Header) verifyChecksum(image []byte, ci int) error {
	body := image[:len(image)-checksumSize]
	if !binary.VerifyLookup3(body, leUint32(image[len(image)-checksumSize:])) {
		return fmt.Errorf("%w: chunk %d", ErrChecksumMismatch, ci)
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// loadChunk reads and scans one continuation target.
func (h *Header) loadChunk(p pendingCont, remaining *int) (int, []pendingCont, error) {
	ci := len(h.chunks)
	minSize := h.chunkPrefixSize(ci) + h.chunkSuffixSize()
	if p.length > uint64(maxInt) || int(p.length) < minSize {
		return 0, nil, fmt.Errorf("%w: continuation length %d at 0x%x", ErrDanglingContinuation, p.length, p.addr)
	}
	if err := h.checkAddr(p.addr, int(p.length)); err != nil {
		return 0, nil, err
	}
	image, err := h.store.Read(p.addr, int(p.length))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: chunk at 0x%x: %v", ErrDanglingContinuation, p.addr, err)
	}
	if h.version == Version2 {
		if !bytes.Equal(image[:len(magicChunk)], magicChunk) {
			return 0, nil, fmt.Errorf("%w: bad chunk magic at 0x%x", ErrMalformedHeader, p.addr)
		}
		if err := h.verifyChecksum(image, ci); err != nil {
			return 0, nil, err
		}
	}
	h.chunks = append(h.chunks, chunk{
		addr:      p.addr,
		size:      int(p.length),
		image:     image,
		contChunk: p.srcChunk,
		fdParent:  UndefinedAddr,
	})
	if err := h.registerChunkDeps(ci); err != nil {
		return 0, nil, err
	}
	more, err := h.scanChunk(ci, remaining)
	if err != nil {
		return 0, nil, err
	}
	return ci, more, nil
}

// scanChunk walks the message slots of a loaded chunk image and appends the
// table entries. Continuation payloads are decoded structurally so the walk
// does not depend on the registry.
func (h *Header) scanChunk(ci int, remaining *int) ([]pendingCont, error) {
	c := &h.chunks[ci]
	prefixSz := h.messagePrefixSize()
	start := c.dataStart(h, ci)
	end := c.dataEnd(h)
	pos := start

	var queue []pendingCont
	for {
		if h.version == Version1 && *remaining == 0 {
			break
		}
		if pos+prefixSz > end {
			break
		}
		m, err := h.scanMessage(ci, pos, end)
		if err != nil {
			return nil, err
		}
		if h.version == Version1 {
			*remaining--
		}
		pos = m.offset + m.rawSize

		if m.typ == TypeContinuation {
			cont, err := h.decodeContinuation(h.raw(&m))
			if err != nil {
				return nil, err
			}
			m.native = cont
			m.class, _ = h.reg.Lookup(TypeContinuation)
			queue = append(queue, pendingCont{addr: cont.Addr, length: cont.Length, srcChunk: ci})
		}
		h.msgs = append(h.msgs, m)
	}

	gap := end - pos
	if h.version == Version1 && gap != 0 {
		return nil, fmt.Errorf("%w: %d stray bytes in chunk %d", ErrMalformedHeader, gap, ci)
	}
	c.gap = gap
	return queue, nil
}

func (h *Header) scanMessage(ci, pos, end int) (Message, error) {
	c := &h.chunks[ci]
	prefixSz := h.messagePrefixSize()
	r := binary.NewReader(c.image[pos:pos+prefixSz], h.sizes)

	var m Message
	m.chunkIndex = ci
	if h.version == Version1 {
		typ, _ := r.ReadUint16()
		size, _ := r.ReadUint16()
		m.typ = MessageType(typ)
		m.rawSize = int(size)
		m.flags, _ = r.ReadUint8()
		if m.rawSize%8 != 0 {
			return Message{}, fmt.Errorf("%w: unaligned message size %d in chunk %d", ErrMalformedHeader, m.rawSize, ci)
		}
	} else {
		typ, _ := r.ReadUint8()
		size, _ := r.ReadUint16()
		m.typ = MessageType(typ)
		m.rawSize = int(size)
		m.flags, _ = r.ReadUint8()
		if h.trackCreationOrder() {
			m.creationIndex, _ = r.ReadUint16()
		}
	}
	m.offset = pos + prefixSz
	if m.offset+m.rawSize > end {
		return Message{}, fmt.Errorf("%w: message at chunk %d offset %d overruns the chunk", ErrMalformedHeader, ci, pos)
	}

	if m.typ != TypeNil && m.typ != TypeContinuation {
		class, ok := h.reg.Lookup(m.typ)
		if !ok {
			if err := h.handleUnknown(&m, ci); err != nil {
				return Message{}, err
			}
		} else {
			m.class = class
		}
	}
	return m, nil
}

// handleUnknown applies the message flag policy for types absent from the
// registry.
func (h *Header) handleUnknown(m *Message, ci int) error {
	if m.flags&MsgFlagFailIfUnknownAlways != 0 {
		return fmt.Errorf("%w: type 0x%04x must be understood", ErrUnknownMessageType, m.typ)
	}
	if m.flags&MsgFlagFailIfUnknownWrite != 0 && !h.readonly {
		return fmt.Errorf("%w: type 0x%04x must be understood for writing", ErrUnknownMessageType, m.typ)
	}
	if m.flags&MsgFlagMarkIfUnknown != 0 && m.flags&MsgFlagWasUnknown == 0 && !h.readonly {
		m.flags |= MsgFlagWasUnknown
		// Prefix must be rewritten after the chunk list settles; mark now.
		h.chunks[ci].dirty = true
	}
	return nil
}

func (h *Header) decodeContinuation(raw []byte) (*Continuation, error) {
	r := binary.NewReader(raw, h.sizes)
	addr, err := r.ReadOffset()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated continuation message", ErrMalformedHeader)
	}
	length, err := r.ReadLength()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated continuation message", ErrMalformedHeader)
	}
	return &Continuation{Addr: addr, Length: length}, nil
}

// finishLoad settles derived state once every chunk is resolved: the next
// creation index, the link count from any reference count message, and
// rewritten prefixes for messages marked was-unknown.
func (h *Header) finishLoad() error {
	if h.version == Version2 {
		h.nlink = 1
	}
	for i := range h.msgs {
		m := &h.msgs[i]
		if h.trackCreationOrder() && !m.IsNull() && uint32(m.creationIndex)+1 > h.nextIndex {
			h.nextIndex = uint32(m.creationIndex) + 1
		}
		if m.typ == TypeRefCount && h.version == Version2 {
			if rc, err := h.Native(i); err == nil {
				if n, ok := rc.(*RefCount); ok {
					h.nlink = n.Count
				}
			}
		}
		if m.flags&MsgFlagWasUnknown != 0 && h.chunks[m.chunkIndex].dirty {
			if err := h.writeMessagePrefix(m); err != nil {
				return err
			}
		}
	}
	for ci := range h.chunks {
		if h.chunks[ci].dirty {
			h.markChunkDirty(ci)
		}
	}
	return nil
}
