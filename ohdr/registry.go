package ohdr

import (
	"fmt"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// MessageType identifies a header message kind. On disk the type occupies
// two bytes in version 1 and one byte in version 2; all defined types fit in
// one byte.
type MessageType uint16

// Header message types.
const (
	TypeNil                MessageType = 0x0000
	TypeDataspace          MessageType = 0x0001
	TypeLinkInfo           MessageType = 0x0002
	TypeDatatype           MessageType = 0x0003
	TypeFillValueOld       MessageType = 0x0004
	TypeFillValue          MessageType = 0x0005
	TypeLink               MessageType = 0x0006
	TypeExternalDataFiles  MessageType = 0x0007
	TypeDataLayout         MessageType = 0x0008
	TypeBogus              MessageType = 0x0009
	TypeGroupInfo          MessageType = 0x000A
	TypeFilterPipeline     MessageType = 0x000B
	TypeAttribute          MessageType = 0x000C
	TypeObjectComment      MessageType = 0x000D
	TypeObjectModTimeOld   MessageType = 0x000E
	TypeSharedMessageTable MessageType = 0x000F
	TypeContinuation       MessageType = 0x0010
	TypeSymbolTable        MessageType = 0x0011
	TypeObjectModTime      MessageType = 0x0012
	TypeBTreeKValues       MessageType = 0x0013
	TypeDriverInfo         MessageType = 0x0014
	TypeAttributeInfo      MessageType = 0x0015
	TypeRefCount           MessageType = 0x0016
	TypeFreeSpaceInfo      MessageType = 0x0017

	// TypeAny is the iteration filter matching every message type.
	TypeAny MessageType = 0xFFFF
)

// ShareFlags describes a message type's static sharability.
type ShareFlags uint8

const (
	// ShareNone forbids sharing messages of the type.
	ShareNone ShareFlags = 0

	// Sharable permits messages of the type to be registered with the
	// shared-message table.
	Sharable ShareFlags = 0x01

	// ShareInHeader indicates shared payloads of the type stay in some
	// header rather than a separate heap.
	ShareInHeader ShareFlags = 0x02
)

// Context carries the header-level state a message codec may depend on.
// Codecs are pure functions of (bytes, context); they never touch the header
// itself.
type Context struct {
	Version     uint8
	HeaderFlags uint8
	Sizes       binary.Sizes
}

// MessageClass is the capability descriptor for one message type. Nil
// operation fields mean the type does not support that operation.
type MessageClass struct {
	ID    MessageType
	Name  string
	Share ShareFlags

	// Decode materializes the native form from raw payload bytes.
	Decode func(raw []byte, ctx *Context) (Native, error)

	// Encode serializes the native form to payload bytes.
	Encode func(n Native, ctx *Context) ([]byte, error)

	// Copy deep-copies a native value.
	Copy func(n Native) Native

	// Delete releases any store space referenced by the native value. It is
	// invoked before the owning slot is converted to null.
	Delete func(n Native, h *Header) error

	// Link adjusts reference counts on objects the native value points at.
	Link func(n Native, h *Header, delta int) error
}

// Registry is an immutable table of message classes, constructed explicitly
// and passed to the engine at open/create time.
type Registry struct {
	classes map[MessageType]*MessageClass
}

// NewRegistry builds a registry from the given classes. Duplicate or
// reserved IDs are rejected.
func NewRegistry(classes ...*MessageClass) (*Registry, error) {
	m := make(map[MessageType]*MessageClass, len(classes))
	for _, c := range classes {
		if c.ID == TypeNil || c.ID == TypeAny {
			return nil, fmt.Errorf("message class %q: reserved id 0x%04x", c.Name, uint16(c.ID))
		}
		if c.Decode == nil || c.Encode == nil {
			return nil, fmt.Errorf("message class %q: decode and encode are required", c.Name)
		}
		if _, ok := m[c.ID]; ok {
			return nil, fmt.Errorf("duplicate message class id 0x%04x", uint16(c.ID))
		}
		m[c.ID] = c
	}
	return &Registry{classes: m}, nil
}

// Lookup returns the class for a type id.
func (r *Registry) Lookup(t MessageType) (*MessageClass, bool) {
	c, ok := r.classes[t]
	return c, ok
}

// opaqueClass builds a class that stores a type's payload verbatim. Types
// whose payload semantics live outside this engine (dataspace, datatype,
// layout, ...) use it so their bytes survive decode/encode untouched.
func opaqueClass(id MessageType, name string, share ShareFlags) *MessageClass {
	return &MessageClass{
		ID:    id,
		Name:  name,
		Share: share,
		Decode: func(raw []byte, _ *Context) (Native, error) {
			data := make([]byte, len(raw))
			copy(data, raw)
			return &Opaque{Kind: id, Data: data}, nil
		},
		Encode: func(n Native, _ *Context) ([]byte, error) {
			o, ok := n.(*Opaque)
			if !ok {
				return nil, fmt.Errorf("%s message: unexpected native %T", name, n)
			}
			data := make([]byte, len(o.Data))
			copy(data, o.Data)
			return data, nil
		},
		Copy: func(n Native) Native {
			o := n.(*Opaque)
			data := make([]byte, len(o.Data))
			copy(data, o.Data)
			return &Opaque{Kind: o.Kind, Data: data}
		},
	}
}

// CoreClasses returns the message classes every registry needs: the
// structural types the engine itself understands (continuation, reference
// count, modification time, filter pipeline) plus opaque carriers for the
// remaining defined types. Sharability follows the format: datatype, fill
// value, filter pipeline, and attribute messages are sharable.
func CoreClasses() []*MessageClass {
	return []*MessageClass{
		continuationClass(),
		refCountClass(),
		modTimeClass(),
		filterPipelineClass(),
		opaqueClass(TypeDataspace, "dataspace", ShareNone),
		opaqueClass(TypeLinkInfo, "link info", ShareNone),
		opaqueClass(TypeDatatype, "datatype", Sharable),
		opaqueClass(TypeFillValueOld, "old fill value", ShareNone),
		opaqueClass(TypeFillValue, "fill value", Sharable),
		opaqueClass(TypeLink, "link", ShareNone),
		opaqueClass(TypeExternalDataFiles, "external data files", ShareNone),
		opaqueClass(TypeDataLayout, "data layout", ShareNone),
		opaqueClass(TypeGroupInfo, "group info", ShareNone),
		opaqueClass(TypeAttribute, "attribute", Sharable),
		opaqueClass(TypeObjectComment, "object comment", ShareNone),
		opaqueClass(TypeObjectModTimeOld, "old modification time", ShareNone),
		opaqueClass(TypeSharedMessageTable, "shared message table", ShareNone),
		opaqueClass(TypeSymbolTable, "symbol table", ShareNone),
		opaqueClass(TypeBTreeKValues, "b-tree k values", ShareNone),
		opaqueClass(TypeDriverInfo, "driver info", ShareNone),
		opaqueClass(TypeAttributeInfo, "attribute info", ShareNone),
		opaqueClass(TypeFreeSpaceInfo, "free-space info", ShareNone),
	}
}

// DefaultRegistry returns a registry holding CoreClasses. It is built fresh
// on every call; registries are never shared mutable state.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(CoreClasses()...)
	if err != nil {
		// CoreClasses is a fixed table; a constructor error here is a
		// programming bug, not a runtime condition.
		panic(err)
	}
	return r
}
