package ohdr

import (
	"iter"
	"sort"
)

// Messages iterates over the live messages of the given type, yielding the
// table index and the slot. TypeAny yields every non-null message. When the
// header tracks creation order messages arrive in creation order; otherwise
// in table order. The header must not be mutated during iteration.
func (h *Header) Messages(filter MessageType) iter.Seq2[int, *Message] {
	return func(yield func(int, *Message) bool) {
		order := make([]int, 0, len(h.msgs))
		for i := range h.msgs {
			m := &h.msgs[i]
			if m.IsNull() {
				continue
			}
			if filter != TypeAny && m.typ != filter {
				continue
			}
			order = append(order, i)
		}
		if h.trackCreationOrder() {
			sort.SliceStable(order, func(a, b int) bool {
				return h.msgs[order[a]].creationIndex < h.msgs[order[b]].creationIndex
			})
		}
		for _, i := range order {
			if !yield(i, &h.msgs[i]) {
				return
			}
		}
	}
}

// Count returns the number of live messages of the given type. TypeAny
// counts every non-null message.
func (h *Header) Count(filter MessageType) int {
	n := 0
	for range h.Messages(filter) {
		n++
	}
	return n
}

// First returns the decoded form of the first message of the given type, or
// false when the header has none.
func (h *Header) First(filter MessageType) (Native, bool, error) {
	for i := range h.Messages(filter) {
		native, err := h.Native(i)
		if err != nil {
			return nil, false, err
		}
		return native, true, nil
	}
	return nil, false, nil
}

// All returns the decoded forms of every message of the given type, in
// iteration order.
func (h *Header) All(filter MessageType) ([]Native, error) {
	var out []Native
	for i := range h.Messages(filter) {
		native, err := h.Native(i)
		if err != nil {
			return nil, err
		}
		out = append(out, native)
	}
	return out, nil
}
