package ohdr

/*
Version 1 header layout (no signature, no checksum, 8-byte aligned messages):

	Offset  Size  Description
	0       1     Version (1)
	1       1     Reserved
	2       2     Total number of messages (across all chunks)
	4       4     Reference count
	8       4     Size of chunk 0 message data
	12      4     Padding (prefix is aligned to 8 bytes)
	16      var   Messages

	Each v1 message: 2 type + 2 size + 1 flags + 3 reserved, data padded to 8.
	Continuation chunks carry no framing at all.

Version 2 header layout (signed, checksummed, unaligned):

	Offset  Size  Description
	0       4     Signature "OHDR"
	4       1     Version (2)
	5       1     Status flags
	6       16    Access/modification/change/birth times (if flag 0x20)
	var     4     Max compact / min dense attribute counts (if flag 0x10)
	var     1-8   Size of chunk 0 message data (width = 1 << (flags & 0x03))
	var     var   Messages
	var     4     Checksum

	Each v2 message: 1 type + 2 size + 1 flags [+ 2 creation index if flag
	0x04]. Continuation chunks are framed by a 4-byte "OCHK" signature and a
	4-byte trailing checksum.
*/

// Object header versions.
const (
	// Version1 is the compact legacy variant: 8-byte aligned messages, no
	// signature, no checksums.
	Version1 uint8 = 1

	// Version2 is the checksummed extensible variant: signed and checksummed
	// chunks, unaligned messages, optional timestamps and creation indices.
	Version2 uint8 = 2

	// VersionLatest is the version used for newly created headers unless an
	// option overrides it.
	VersionLatest = Version2
)

// Header status flags (version 2 only).
const (
	// FlagChunk0SizeMask selects the width of the chunk-0 size field:
	// 1 << (flags & mask) bytes.
	FlagChunk0SizeMask uint8 = 0x03

	// FlagTrackCreationOrder stores a creation index with every message.
	FlagTrackCreationOrder uint8 = 0x04

	// FlagIndexCreationOrder indicates attribute creation order is indexed.
	FlagIndexCreationOrder uint8 = 0x08

	// FlagStorePhaseChange stores non-default attribute phase-change values.
	FlagStorePhaseChange uint8 = 0x10

	// FlagStoreTimes stores access/modification/change/birth times.
	FlagStoreTimes uint8 = 0x20
)

// Message flags.
const (
	// MsgFlagConstant marks a message that must not be modified or removed.
	MsgFlagConstant uint8 = 0x01

	// MsgFlagShared marks a message registered with the shared-message table.
	MsgFlagShared uint8 = 0x02

	// MsgFlagUnsharable forbids sharing the message even if its type allows it.
	MsgFlagUnsharable uint8 = 0x04

	// MsgFlagFailIfUnknownWrite makes an unrecognized type a load error when
	// the header is open for writing.
	MsgFlagFailIfUnknownWrite uint8 = 0x08

	// MsgFlagMarkIfUnknown requests that an unrecognized message be flagged
	// (MsgFlagWasUnknown) when the header is writable.
	MsgFlagMarkIfUnknown uint8 = 0x10

	// MsgFlagWasUnknown records that the message was once read by an
	// implementation that did not recognize it.
	MsgFlagWasUnknown uint8 = 0x20

	// MsgFlagShareable permits sharing the message if its type allows it.
	MsgFlagShareable uint8 = 0x40

	// MsgFlagFailIfUnknownAlways makes an unrecognized type a load error
	// unconditionally.
	MsgFlagFailIfUnknownAlways uint8 = 0x80
)

const (
	checksumSize = 4

	// minChunkData is the minimum message-data size of any chunk: big enough
	// for one message prefix plus a continuation payload.
	minChunkData = 22

	// maxCreationIndex is the largest storable creation index.
	maxCreationIndex = 0xFFFF

	// maxMessageSize is the largest encodable message body (16-bit size field).
	maxMessageSize = 0xFFFF

	// DefaultMaxCompact and DefaultMinDense are the attribute phase-change
	// thresholds built into the format's defaults.
	DefaultMaxCompact uint16 = 8
	DefaultMinDense   uint16 = 6
)

var (
	magicHeader = []byte{'O', 'H', 'D', 'R'}
	magicChunk  = []byte{'O', 'C', 'H', 'K'}
)

// alignOld rounds up to an 8-byte boundary, the version 1 rule applied to
// message bodies and the header prefix.
func alignOld(n int) int {
	return 8 * ((n + 7) / 8)
}

// align applies the header's version-dependent alignment to a byte count.
// Every size computation in the package funnels through here and the size
// helpers below; nothing else is allowed to branch on the version for layout
// arithmetic.
func (h *Header) align(n int) int {
	if h.version == Version1 {
		return alignOld(n)
	}
	return n
}

// trackCreationOrder reports whether messages carry creation indices.
func (h *Header) trackCreationOrder() bool {
	return h.version > Version1 && h.flags&FlagTrackCreationOrder != 0
}

// storeTimes reports whether the header persists timestamps.
func (h *Header) storeTimes() bool {
	return h.version > Version1 && h.flags&FlagStoreTimes != 0
}

// messagePrefixSize returns the size of the per-message prefix.
func (h *Header) messagePrefixSize() int {
	if h.version == Version1 {
		return alignOld(2 + 2 + 1 + 3)
	}
	n := 1 + 2 + 1
	if h.trackCreationOrder() {
		n += 2
	}
	return n
}

// chunk0FieldSize returns the width of the chunk-0 message-data size field.
func (h *Header) chunk0FieldSize() int {
	if h.version == Version1 {
		return 4
	}
	return 1 << (h.flags & FlagChunk0SizeMask)
}

// headerPrefixSize returns the size of the header prefix at the start of
// chunk 0, excluding the trailing checksum.
func (h *Header) headerPrefixSize() int {
	if h.version == Version1 {
		return alignOld(1 + 1 + 2 + 4 + 4)
	}
	n := len(magicHeader) + 1 + 1
	if h.flags&FlagStoreTimes != 0 {
		n += 16
	}
	if h.flags&FlagStorePhaseChange != 0 {
		n += 4
	}
	n += h.chunk0FieldSize()
	return n
}

// chunkPrefixSize returns the size of the framing at the start of the given
// chunk: the header prefix for chunk 0, the chunk signature otherwise.
func (h *Header) chunkPrefixSize(chunkIndex int) int {
	if chunkIndex == 0 {
		return h.headerPrefixSize()
	}
	if h.version == Version1 {
		return 0
	}
	return len(magicChunk)
}

// chunkSuffixSize returns the size of the trailing checksum, zero for
// version 1.
func (h *Header) chunkSuffixSize() int {
	if h.version == Version1 {
		return 0
	}
	return checksumSize
}

// chunk0FieldFor returns the flag bits selecting the narrowest chunk-0 size
// field that can hold the given message-data size.
func chunk0FieldFor(size int) uint8 {
	switch {
	case size <= 0xFF:
		return 0x00
	case size <= 0xFFFF:
		return 0x01
	case size <= 0xFFFFFFFF:
		return 0x02
	default:
		return 0x03
	}
}

// maxAddr returns the largest usable store address for the header's offset
// width. The all-ones value is reserved as the undefined sentinel.
func (h *Header) maxAddr() uint64 {
	if h.sizes.OffsetSize >= 8 {
		return ^uint64(0) - 1
	}
	return uint64(1)<<(8*h.sizes.OffsetSize) - 2
}

// checkAddr rejects byte ranges beyond the maximum addressable offset before
// any I/O is attempted against them.
func (h *Header) checkAddr(addr uint64, n int) error {
	max := h.maxAddr()
	if addr > max || uint64(n) > max-addr {
		return ErrAddressOverflow
	}
	return nil
}
