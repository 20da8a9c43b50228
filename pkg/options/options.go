// Package options provides data structures and functions for configuring
// the metridb engine. It defines the parameters that control block/segment
// geometry, coalescing, retention, and flush cadence, following the
// functional-options pattern: build a default Options value, then apply a
// sequence of OptionFunc overrides.
package options

import (
	"strings"
	"time"
)

// Codec names the compression algorithm used to write an archive of a
// segment's storage and index files when FIFO pruning removes that segment.
// Segments that are still open are never compressed.
type Codec int

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

// Options holds every tunable parameter of a metridb instance.
type Options struct {
	// DataDir is the base path under which metrics.json, per-metric
	// manifests, and segment directories are stored.
	DataDir string

	// BlockDuration bounds how much wall-clock time a single block may span.
	// Must not exceed MaxBlockDuration (time_offset is a uint32 tick count).
	BlockDuration time.Duration

	// DatapointDuration enables write coalescing when positive: consecutive
	// same-tag samples arriving within this interval merge into one stored
	// datapoint instead of appending a new one.
	DatapointDuration time.Duration

	// SegmentDuration bounds how long a segment stays active before the
	// engine rotates in a new one.
	SegmentDuration time.Duration

	// MaxSegments bounds how many segments a partition retains; 0 means
	// unbounded. Pruning is FIFO (spec.md §4.D "Segment rotation").
	MaxSegments int

	// SubBlocksPerBlock is the fixed size of a block's sub-block descriptor
	// table (S in spec.md §4.D).
	SubBlocksPerBlock int

	// DefaultSubBlockCapacity is the datapoint count a newly allocated
	// sub-block can hold.
	DefaultSubBlockCapacity int

	// SubBlockGrowthFactor multiplies a sub-block's capacity when it is
	// extended in place.
	SubBlockGrowthFactor int

	// MaxSegmentFileSize is the hard cap on a single mmap'd file (storage or
	// index); extending past it fails.
	MaxSegmentFileSize uint64

	// FlushInterval controls how often the background tick msyncs every
	// open segment of every partition.
	FlushInterval time.Duration

	// SegmentDirName names the subdirectory holding numbered segment
	// directories under a partition root.
	SegmentDirName string

	// SegmentCodec selects the compression codec used to archive a segment
	// when FIFO pruning removes it.
	SegmentCodec Codec
}

// OptionFunc mutates an Options value being built up by Open.
type OptionFunc func(*Options)

// WithDefaultOptions resets DataDir, the block/segment geometry, and the
// flush cadence to their defaults, discarding any prior overrides for those
// fields. Useful as the first entry in an options list.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the base data directory.
func WithDataDir(dir string) OptionFunc {
	return func(o *Options) {
		dir = strings.TrimSpace(dir)
		if dir != "" {
			o.DataDir = dir
		}
	}
}

// WithBlockDuration sets the block span, clamped to MaxBlockDuration so the
// uint32 time_offset invariant can never be violated.
func WithBlockDuration(d time.Duration) OptionFunc {
	return func(o *Options) {
		if d <= 0 {
			return
		}
		if d > MaxBlockDuration {
			d = MaxBlockDuration
		}
		o.BlockDuration = d
	}
}

// WithDatapointDuration sets the coalescing window; 0 disables coalescing.
func WithDatapointDuration(d time.Duration) OptionFunc {
	return func(o *Options) {
		if d >= 0 {
			o.DatapointDuration = d
		}
	}
}

// WithSegmentDuration sets how long a segment stays active before rotation.
func WithSegmentDuration(d time.Duration) OptionFunc {
	return func(o *Options) {
		if d > 0 {
			o.SegmentDuration = d
		}
	}
}

// WithMaxSegments bounds retained segments per partition; 0 means unbounded.
func WithMaxSegments(n int) OptionFunc {
	return func(o *Options) {
		if n >= 0 {
			o.MaxSegments = n
		}
	}
}

// WithSubBlocksPerBlock sets the descriptor table size S.
func WithSubBlocksPerBlock(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.SubBlocksPerBlock = n
		}
	}
}

// WithDefaultSubBlockCapacity sets the initial datapoint capacity of a
// freshly allocated sub-block.
func WithDefaultSubBlockCapacity(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.DefaultSubBlockCapacity = n
		}
	}
}

// WithSubBlockGrowthFactor sets the multiplier applied on in-place growth.
func WithSubBlockGrowthFactor(n int) OptionFunc {
	return func(o *Options) {
		if n >= 2 {
			o.SubBlockGrowthFactor = n
		}
	}
}

// WithMaxSegmentFileSize sets the hard cap on a single mmap'd file.
func WithMaxSegmentFileSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.MaxSegmentFileSize = size
		}
	}
}

// WithFlushInterval sets the background msync cadence; 0 disables the
// background flush.
func WithFlushInterval(d time.Duration) OptionFunc {
	return func(o *Options) {
		if d >= 0 {
			o.FlushInterval = d
		}
	}
}

// WithSegmentCodec selects the archival compression codec.
func WithSegmentCodec(c Codec) OptionFunc {
	return func(o *Options) {
		o.SegmentCodec = c
	}
}
