package ohdr

import (
	"fmt"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Native is the decoded, in-memory representation of a message payload. A
// native value is exclusively owned by the message slot that materialized
// it; the engine frees it by dropping the reference when the slot is
// rewritten, removed, or the header is released.
type Native interface {
	MessageType() MessageType
}

// Opaque is the native form of messages whose payload semantics live outside
// this engine, and of unrecognized message types read under the
// forward-compatibility fallback. The bytes round-trip verbatim.
type Opaque struct {
	Kind MessageType
	Data []byte
}

func (o *Opaque) MessageType() MessageType { return o.Kind }

// Continuation is the native form of a continuation message: a pointer to
// the next chunk of the header.
type Continuation struct {
	Addr   uint64
	Length uint64
}

func (*Continuation) MessageType() MessageType { return TypeContinuation }

func continuationClass() *MessageClass {
	return &MessageClass{
		ID:   TypeContinuation,
		Name: "object header continuation",
		Decode: func(raw []byte, ctx *Context) (Native, error) {
			r := binary.NewReader(raw, ctx.Sizes)
			addr, err := r.ReadOffset()
			if err != nil {
				return nil, fmt.Errorf("continuation message too short: %w", err)
			}
			length, err := r.ReadLength()
			if err != nil {
				return nil, fmt.Errorf("continuation message too short: %w", err)
			}
			return &Continuation{Addr: addr, Length: length}, nil
		},
		Encode: func(n Native, ctx *Context) ([]byte, error) {
			c, ok := n.(*Continuation)
			if !ok {
				return nil, fmt.Errorf("continuation message: unexpected native %T", n)
			}
			buf := make([]byte, ctx.Sizes.OffsetSize+ctx.Sizes.LengthSize)
			w := binary.NewWriter(buf, ctx.Sizes)
			if err := w.WriteOffset(c.Addr); err != nil {
				return nil, err
			}
			if err := w.WriteLength(c.Length); err != nil {
				return nil, err
			}
			return buf, nil
		},
		Copy: func(n Native) Native {
			c := *n.(*Continuation)
			return &c
		},
	}
}

// RefCount is the native form of the reference-count message, stored when an
// object's link count exceeds one.
type RefCount struct {
	Count uint32
}

func (*RefCount) MessageType() MessageType { return TypeRefCount }

func refCountClass() *MessageClass {
	return &MessageClass{
		ID:   TypeRefCount,
		Name: "reference count",
		Decode: func(raw []byte, ctx *Context) (Native, error) {
			r := binary.NewReader(raw, ctx.Sizes)
			version, err := r.ReadUint8()
			if err != nil {
				return nil, fmt.Errorf("reference count message too short: %w", err)
			}
			if version != 0 {
				return nil, fmt.Errorf("reference count message: unsupported version %d", version)
			}
			count, err := r.ReadUint32()
			if err != nil {
				return nil, fmt.Errorf("reference count message too short: %w", err)
			}
			return &RefCount{Count: count}, nil
		},
		Encode: func(n Native, ctx *Context) ([]byte, error) {
			rc, ok := n.(*RefCount)
			if !ok {
				return nil, fmt.Errorf("reference count message: unexpected native %T", n)
			}
			buf := make([]byte, 5)
			w := binary.NewWriter(buf, ctx.Sizes)
			if err := w.WriteUint8(0); err != nil {
				return nil, err
			}
			if err := w.WriteUint32(rc.Count); err != nil {
				return nil, err
			}
			return buf, nil
		},
		Copy: func(n Native) Native {
			rc := *n.(*RefCount)
			return &rc
		},
	}
}

// ModTime is the native form of the modification time message.
type ModTime struct {
	Seconds uint32
}

func (*ModTime) MessageType() MessageType { return TypeObjectModTime }

func modTimeClass() *MessageClass {
	return &MessageClass{
		ID:   TypeObjectModTime,
		Name: "modification time",
		Decode: func(raw []byte, ctx *Context) (Native, error) {
			r := binary.NewReader(raw, ctx.Sizes)
			version, err := r.ReadUint8()
			if err != nil {
				return nil, fmt.Errorf("modification time message too short: %w", err)
			}
			if version != 1 {
				return nil, fmt.Errorf("modification time message: unsupported version %d", version)
			}
			if err := r.Skip(3); err != nil {
				return nil, fmt.Errorf("modification time message too short: %w", err)
			}
			secs, err := r.ReadUint32()
			if err != nil {
				return nil, fmt.Errorf("modification time message too short: %w", err)
			}
			return &ModTime{Seconds: secs}, nil
		},
		Encode: func(n Native, ctx *Context) ([]byte, error) {
			mt, ok := n.(*ModTime)
			if !ok {
				return nil, fmt.Errorf("modification time message: unexpected native %T", n)
			}
			buf := make([]byte, 8)
			w := binary.NewWriter(buf, ctx.Sizes)
			if err := w.WriteUint8(1); err != nil {
				return nil, err
			}
			if err := w.Zero(3); err != nil {
				return nil, err
			}
			if err := w.WriteUint32(mt.Seconds); err != nil {
				return nil, err
			}
			return buf, nil
		},
		Copy: func(n Native) Native {
			mt := *n.(*ModTime)
			return &mt
		},
	}
}

// FilterEntry describes one filter in a pipeline message.
type FilterEntry struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

// IsOptional reports whether the filter may be skipped on failure.
func (f *FilterEntry) IsOptional() bool {
	return f.Flags&0x01 != 0
}

// FilterPipeline is the native form of the filter pipeline message. The
// engine stores it like any other message; resolving entries to executable
// filters is the pipeline package's job.
type FilterPipeline struct {
	Version uint8
	Filters []FilterEntry
}

func (*FilterPipeline) MessageType() MessageType { return TypeFilterPipeline }

func filterPipelineClass() *MessageClass {
	return &MessageClass{
		ID:     TypeFilterPipeline,
		Name:   "filter pipeline",
		Share:  Sharable,
		Decode: decodeFilterPipeline,
		Encode: encodeFilterPipeline,
		Copy: func(n Native) Native {
			fp := n.(*FilterPipeline)
			out := &FilterPipeline{Version: fp.Version, Filters: make([]FilterEntry, len(fp.Filters))}
			copy(out.Filters, fp.Filters)
			for i := range out.Filters {
				cd := make([]uint32, len(fp.Filters[i].ClientData))
				copy(cd, fp.Filters[i].ClientData)
				out.Filters[i].ClientData = cd
			}
			return out
		},
	}
}

func decodeFilterPipeline(raw []byte, ctx *Context) (Native, error) {
	r := binary.NewReader(raw, ctx.Sizes)
	version, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("filter pipeline message too short: %w", err)
	}
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("filter pipeline message: unsupported version %d", version)
	}
	nfilters, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("filter pipeline message too short: %w", err)
	}
	if version == 1 {
		if err := r.Skip(6); err != nil {
			return nil, fmt.Errorf("filter pipeline message too short: %w", err)
		}
	}

	fp := &FilterPipeline{Version: version, Filters: make([]FilterEntry, nfilters)}
	for i := range fp.Filters {
		if err := decodeFilterEntry(r, version, &fp.Filters[i]); err != nil {
			return nil, fmt.Errorf("filter pipeline message: entry %d: %w", i, err)
		}
	}
	return fp, nil
}

func decodeFilterEntry(r *binary.Reader, version uint8, f *FilterEntry) error {
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	f.ID = id

	// The name length field is present in v1, and in v2 only for filters
	// outside the reserved id range.
	var nameLen uint16
	if version == 1 || id >= 256 {
		if nameLen, err = r.ReadUint16(); err != nil {
			return err
		}
	}
	if f.Flags, err = r.ReadUint16(); err != nil {
		return err
	}
	numCD, err := r.ReadUint16()
	if err != nil {
		return err
	}

	if nameLen > 0 {
		name, err := r.ReadBytes(int(nameLen))
		if err != nil {
			return err
		}
		for i, b := range name {
			if b == 0 {
				name = name[:i]
				break
			}
		}
		f.Name = string(name)
		if version == 1 && nameLen%8 != 0 {
			if err := r.Skip(8 - int(nameLen%8)); err != nil {
				return err
			}
		}
	}

	f.ClientData = make([]uint32, numCD)
	for i := range f.ClientData {
		if f.ClientData[i], err = r.ReadUint32(); err != nil {
			return err
		}
	}
	if version == 1 && numCD%2 != 0 {
		if err := r.Skip(4); err != nil {
			return err
		}
	}
	return nil
}

func encodeFilterPipeline(n Native, ctx *Context) ([]byte, error) {
	fp, ok := n.(*FilterPipeline)
	if !ok {
		return nil, fmt.Errorf("filter pipeline message: unexpected native %T", n)
	}
	version := fp.Version
	if version == 0 {
		version = 2
	}
	if len(fp.Filters) > 0xFF {
		return nil, fmt.Errorf("filter pipeline message: too many filters (%d)", len(fp.Filters))
	}

	size := 2
	if version == 1 {
		size += 6
	}
	entrySizes := make([]int, len(fp.Filters))
	for i := range fp.Filters {
		entrySizes[i] = filterEntrySize(version, &fp.Filters[i])
		size += entrySizes[i]
	}

	buf := make([]byte, size)
	w := binary.NewWriter(buf, ctx.Sizes)
	if err := w.WriteUint8(version); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(uint8(len(fp.Filters))); err != nil {
		return nil, err
	}
	if version == 1 {
		if err := w.Zero(6); err != nil {
			return nil, err
		}
	}
	for i := range fp.Filters {
		if err := encodeFilterEntry(w, version, &fp.Filters[i]); err != nil {
			return nil, fmt.Errorf("filter pipeline message: entry %d: %w", i, err)
		}
	}
	return buf, nil
}

func filterEntrySize(version uint8, f *FilterEntry) int {
	n := 2 + 2 + 2 // id, flags, client data count
	nameLen := encodedFilterNameLen(version, f)
	if version == 1 || f.ID >= 256 {
		n += 2 // name length field
	}
	n += nameLen
	n += 4 * len(f.ClientData)
	if version == 1 && len(f.ClientData)%2 != 0 {
		n += 4
	}
	return n
}

func encodedFilterNameLen(version uint8, f *FilterEntry) int {
	if f.Name == "" {
		return 0
	}
	if version == 1 || f.ID >= 256 {
		n := len(f.Name) + 1 // null terminator
		if version == 1 {
			n = alignOld(n)
		}
		return n
	}
	return 0
}

func encodeFilterEntry(w *binary.Writer, version uint8, f *FilterEntry) error {
	if err := w.WriteUint16(f.ID); err != nil {
		return err
	}
	nameLen := encodedFilterNameLen(version, f)
	if version == 1 || f.ID >= 256 {
		if err := w.WriteUint16(uint16(nameLen)); err != nil {
			return err
		}
	}
	if err := w.WriteUint16(f.Flags); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(len(f.ClientData))); err != nil {
		return err
	}
	if nameLen > 0 {
		if err := w.WriteBytes([]byte(f.Name)); err != nil {
			return err
		}
		if err := w.Zero(nameLen - len(f.Name)); err != nil {
			return err
		}
	}
	for _, cd := range f.ClientData {
		if err := w.WriteUint32(cd); err != nil {
			return err
		}
	}
	if version == 1 && len(f.ClientData)%2 != 0 {
		if err := w.Zero(4); err != nil {
			return err
		}
	}
	return nil
}
