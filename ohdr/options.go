package ohdr

import (
	"log/slog"

	"github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Options configures header creation and opening.
type Options struct {
	// Version selects the on-disk variant for newly created headers. Opened
	// headers take their version from the prefix.
	Version uint8

	// Flags are the version 2 status flags for newly created headers. The
	// chunk-0 size-field bits are chosen by the engine and ignored here.
	Flags uint8

	// MaxCompact and MinDense are the attribute phase-change thresholds,
	// persisted when Flags has FlagStorePhaseChange set.
	MaxCompact uint16
	MinDense   uint16

	// SWMRWrite enables flush-dependency tracking for single-writer/
	// multiple-reader operation.
	SWMRWrite bool

	// ReadOnly forbids mutation and relaxes unknown-message failure rules
	// that only apply to writable headers.
	ReadOnly bool

	// SizeHint is a lower bound on chunk 0's initial message-data size.
	SizeHint int

	// Registry supplies the message classes. Defaults to DefaultRegistry.
	Registry *Registry

	// Shared is the shared-message table for sharable types. May be nil, in
	// which case nothing is ever shared.
	Shared SharedTable

	// Logger receives debug-level decode and allocation traces. Defaults to
	// a discard logger.
	Logger *slog.Logger

	// Sizes are the on-disk widths of store addresses and lengths.
	Sizes binary.Sizes
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Version:    VersionLatest,
		Flags:      FlagStoreTimes,
		MaxCompact: DefaultMaxCompact,
		MinDense:   DefaultMinDense,
		Registry:   DefaultRegistry(),
		Logger:     slog.New(slog.DiscardHandler),
		Sizes:      binary.DefaultSizes(),
	}
}

// WithVersion selects the on-disk variant for created headers.
func WithVersion(v uint8) Option {
	return func(o *Options) { o.Version = v }
}

// WithFlags sets the version 2 status flags for created headers.
func WithFlags(flags uint8) Option {
	return func(o *Options) { o.Flags = flags }
}

// WithCreationOrderTracking stores a creation index with every message.
func WithCreationOrderTracking() Option {
	return func(o *Options) { o.Flags |= FlagTrackCreationOrder }
}

// WithTimestamps controls whether created headers persist timestamps.
func WithTimestamps(enabled bool) Option {
	return func(o *Options) {
		if enabled {
			o.Flags |= FlagStoreTimes
		} else {
			o.Flags &^= FlagStoreTimes
		}
	}
}

// WithPhaseChange persists non-default attribute phase-change thresholds.
func WithPhaseChange(maxCompact, minDense uint16) Option {
	return func(o *Options) {
		o.Flags |= FlagStorePhaseChange
		o.MaxCompact = maxCompact
		o.MinDense = minDense
	}
}

// WithSWMRWrite enables flush-dependency tracking.
func WithSWMRWrite() Option {
	return func(o *Options) { o.SWMRWrite = true }
}

// WithReadOnly opens the header without mutation rights.
func WithReadOnly() Option {
	return func(o *Options) { o.ReadOnly = true }
}

// WithSizeHint reserves at least n bytes of message data in chunk 0.
func WithSizeHint(n int) Option {
	return func(o *Options) { o.SizeHint = n }
}

// WithRegistry supplies a custom message-class registry.
func WithRegistry(r *Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithSharedTable supplies the shared-message table.
func WithSharedTable(t SharedTable) Option {
	return func(o *Options) { o.Shared = t }
}

// WithLogger supplies a logger for debug traces.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithSizes sets the on-disk widths of addresses and lengths.
func WithSizes(sizes binary.Sizes) Option {
	return func(o *Options) { o.Sizes = sizes }
}
