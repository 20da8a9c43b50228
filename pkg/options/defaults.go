package options

import "time"

// TimeScale is the number of internal ticks per second. All absolute times
// inside the engine are int64 ticks; callers speak float64 seconds at the
// boundary.
const TimeScale int64 = 1_000_000

// MaxBlockDuration is the largest block duration the format can express: a
// datapoint's time_offset is a uint32 count of ticks since its block's
// start_time, so a block may never span more ticks than fit in 32 bits.
const MaxBlockDuration = time.Duration((1<<32 - 1)) * time.Microsecond

const (
	// DefaultDataDir is used when the caller does not specify a data directory.
	DefaultDataDir = "/var/lib/metridb"

	// DefaultBlockDuration bounds how much wall-clock time a single block
	// covers before a new one is rotated in.
	DefaultBlockDuration = 10 * time.Minute

	// DefaultDatapointDuration disables coalescing by default; a positive
	// value merges same-tag samples arriving within the interval.
	DefaultDatapointDuration = time.Duration(0)

	// DefaultSegmentDuration bounds how long a segment (a chain of blocks
	// backed by one mmap'd file pair) stays active before rotation.
	DefaultSegmentDuration = 24 * time.Hour

	// DefaultMaxSegments of 0 means unbounded retention.
	DefaultMaxSegments = 0

	// DefaultSubBlocksPerBlock is the fixed-cardinality descriptor table size.
	DefaultSubBlocksPerBlock = 100

	// DefaultSubBlockCapacity is the datapoint count a freshly allocated
	// sub-block can hold before it must grow or be replaced.
	DefaultSubBlockCapacity = 100

	// DefaultSubBlockGrowthFactor is the multiplier applied when an
	// in-place-extendable sub-block outgrows its capacity.
	DefaultSubBlockGrowthFactor = 2

	// DefaultMaxSegmentFileSize is the hard cap on a single mmap'd storage
	// or index file (1 GiB, per spec.md §5).
	DefaultMaxSegmentFileSize uint64 = 1 << 30

	// DefaultFlushInterval is how often the background tick calls Sync on
	// every open segment of every partition.
	DefaultFlushInterval = 250 * time.Millisecond

	// DefaultSegmentDirName is the subdirectory under a partition root that
	// holds numbered segment directories.
	DefaultSegmentDirName = "segments"
)

// defaultOptions holds the baseline configuration for a freshly opened
// engine; NewDefaultOptions returns a copy of them, which Open then
// overrides with the caller's options.
var defaultOptions = Options{
	DataDir:                 DefaultDataDir,
	BlockDuration:           DefaultBlockDuration,
	DatapointDuration:       DefaultDatapointDuration,
	SegmentDuration:         DefaultSegmentDuration,
	MaxSegments:             DefaultMaxSegments,
	SubBlocksPerBlock:       DefaultSubBlocksPerBlock,
	DefaultSubBlockCapacity: DefaultSubBlockCapacity,
	SubBlockGrowthFactor:    DefaultSubBlockGrowthFactor,
	MaxSegmentFileSize:      DefaultMaxSegmentFileSize,
	FlushInterval:           DefaultFlushInterval,
	SegmentDirName:          DefaultSegmentDirName,
	SegmentCodec:            CodecNone,
}

// NewDefaultOptions returns a copy of the engine's baseline configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
