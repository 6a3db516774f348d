package ohdr

import "errors"

// Errors
var (
	// ErrMalformedHeader indicates a bad signature, version, or structural
	// field while decoding a header or chunk.
	ErrMalformedHeader = errors.New("malformed object header")

	// ErrChecksumMismatch indicates a chunk image whose trailing checksum
	// does not match its contents. This is treated as file corruption and is
	// never recoverable.
	ErrChecksumMismatch = errors.New("object header checksum mismatch")

	// ErrDanglingContinuation indicates a continuation message whose target
	// chunk could not be read.
	ErrDanglingContinuation = errors.New("dangling continuation message")

	// ErrDuplicateChunkTarget indicates two continuation messages claiming
	// the same chunk.
	ErrDuplicateChunkTarget = errors.New("duplicate continuation chunk target")

	// ErrUnknownMessageType indicates a message type the registry does not
	// know, in a context where the opaque fallback is not permitted.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrAllocationFailure indicates that space for a message, or the
	// continuation message linking a new chunk, could not be placed.
	ErrAllocationFailure = errors.New("message allocation failure")

	// ErrInvalidMutation indicates a write or removal the message's type or
	// flags forbid.
	ErrInvalidMutation = errors.New("invalid message mutation")

	// ErrAddressOverflow indicates a store address beyond the format's
	// maximum addressable offset. It is reported before any I/O is attempted.
	ErrAddressOverflow = errors.New("store address overflow")

	// ErrCreationIndexExhausted indicates that the 16-bit message creation
	// index space is used up.
	ErrCreationIndexExhausted = errors.New("message creation index exhausted")
)
