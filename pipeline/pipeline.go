package pipeline

import (
	"fmt"

	"github.com/robert-malhotra/go-ohdr/ohdr"
)

// Standard filter identifiers. Values at 32000 and above come from the
// registered user-defined range.
const (
	FilterDeflate     uint16 = 1
	FilterShuffle     uint16 = 2
	FilterFletcher32  uint16 = 3
	FilterSZIP        uint16 = 4
	FilterNBit        uint16 = 5
	FilterScaleOffset uint16 = 6
	FilterZstd        uint16 = 32015
	FilterXZ          uint16 = 33000
)

// Filter transforms a block of bytes in both directions. Encode is the
// write-side transform (compress, checksum, shuffle); Decode reverses it.
type Filter interface {
	ID() uint16
	Name() string
	Encode(input []byte) ([]byte, error)
	Decode(input []byte) ([]byte, error)
}

// Flag bits carried per filter in a pipeline message.
const flagOptional uint16 = 0x0001

// Set maps filter identifiers to constructors. Sets are explicit values
// rather than package globals so callers control exactly which transforms a
// file may demand.
type Set struct {
	constructors map[uint16]func(clientData []uint32) (Filter, error)
}

// NewSet creates an empty filter set.
func NewSet() *Set {
	return &Set{constructors: make(map[uint16]func([]uint32) (Filter, error))}
}

// Register adds a constructor for the given filter id, replacing any
// previous one.
func (s *Set) Register(id uint16, ctor func(clientData []uint32) (Filter, error)) {
	s.constructors[id] = ctor
}

// DefaultSet returns a set holding every filter this package implements.
func DefaultSet() *Set {
	s := NewSet()
	s.Register(FilterDeflate, func(cd []uint32) (Filter, error) { return NewDeflate(cd), nil })
	s.Register(FilterShuffle, func(cd []uint32) (Filter, error) { return NewShuffle(cd), nil })
	s.Register(FilterFletcher32, func(cd []uint32) (Filter, error) { return NewFletcher32(), nil })
	s.Register(FilterZstd, func(cd []uint32) (Filter, error) { return NewZstd(cd) })
	s.Register(FilterXZ, func(cd []uint32) (Filter, error) { return NewXZ(), nil })
	return s
}

var filterNames = map[uint16]string{
	FilterDeflate:     "deflate",
	FilterShuffle:     "shuffle",
	FilterFletcher32:  "fletcher32",
	FilterSZIP:        "szip",
	FilterNBit:        "n-bit",
	FilterScaleOffset: "scale-offset",
	FilterZstd:        "zstd",
	FilterXZ:          "xz",
}

// Pipeline is an ordered sequence of filters instantiated from a filter
// pipeline message. Encode applies the filters first to last; Decode
// applies them last to first.
type Pipeline struct {
	filters []Filter
}

// FromMessage instantiates the pipeline described by a filter pipeline
// message. Filters missing from the set fail unless the message marks them
// optional, in which case they are skipped.
func FromMessage(fp *ohdr.FilterPipeline, set *Set) (*Pipeline, error) {
	if fp == nil || len(fp.Filters) == 0 {
		return &Pipeline{}, nil
	}
	p := &Pipeline{filters: make([]Filter, 0, len(fp.Filters))}
	for _, entry := range fp.Filters {
		ctor, ok := set.constructors[entry.ID]
		if !ok {
			if entry.Flags&flagOptional != 0 {
				continue
			}
			if name, known := filterNames[entry.ID]; known {
				return nil, fmt.Errorf("%s filter (id %d) is not available", name, entry.ID)
			}
			return nil, fmt.Errorf("unsupported filter id %d", entry.ID)
		}
		f, err := ctor(entry.ClientData)
		if err != nil {
			return nil, fmt.Errorf("constructing filter %d: %w", entry.ID, err)
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

// New builds a pipeline directly from filters, in application order.
func New(filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters}
}

// Message returns a filter pipeline message describing the pipeline, for
// embedding in an object header.
func (p *Pipeline) Message() *ohdr.FilterPipeline {
	fp := &ohdr.FilterPipeline{Version: 2}
	for _, f := range p.filters {
		fp.Filters = append(fp.Filters, ohdr.FilterEntry{
			ID:   f.ID(),
			Name: f.Name(),
		})
	}
	return fp
}

// Encode applies every filter in order.
func (p *Pipeline) Encode(input []byte) ([]byte, error) {
	data := input
	for _, f := range p.filters {
		var err error
		data, err = f.Encode(data)
		if err != nil {
			return nil, fmt.Errorf("filter %s encode: %w", f.Name(), err)
		}
	}
	return data, nil
}

// Decode applies the filters in reverse order. Bit i of mask skips filter i.
func (p *Pipeline) Decode(input []byte, mask uint32) ([]byte, error) {
	data := input
	for i := len(p.filters) - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			continue
		}
		var err error
		data, err = p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("filter %s decode: %w", p.filters[i].Name(), err)
		}
	}
	return data, nil
}

// Len returns the number of filters in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.filters)
}
