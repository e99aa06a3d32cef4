// Package api: transport-factory configuration, §6 "Configuration" table.
package api

// Config holds the recognized configuration options for a transport
// factory. Mirrors the shape of the teacher's facade.Config/DefaultConfig
// pair: a plain struct with a constructor returning sane defaults, meant
// to be mutated by the caller before the factory is constructed.
type Config struct {
	// Session is the human session name; the shm id is derived from it
	// and the effective user id (§4.1).
	Session string

	// SegmentSize is the size in bytes of the managed segment on first creation.
	SegmentSize uint64
	// SegmentID selects among multiple managed segments (default 0).
	SegmentID uint16

	// Monitor, if true, auto-launches the monitor process when absent (§4.8).
	Monitor bool

	// MlockSegment / MlockSegmentOnCreation lock pages in RAM, on every
	// open and on creation respectively.
	MlockSegment           bool
	MlockSegmentOnCreation bool
	// ZeroSegmentOnCreation zeroes the managed segment when this factory
	// creates it. ZeroSegment has no effect: a segment that already exists
	// is opened without zeroing.
	ZeroSegment           bool
	ZeroSegmentOnCreation bool

	// Allocation selects the managed-segment allocator algorithm.
	Allocation AllocAlgorithm

	// ThrowBadAlloc, if false, makes Allocate retry forever instead of
	// giving up after BadAllocMaxAttempts.
	ThrowBadAlloc bool
	// BadAllocMaxAttempts is the retry budget for Allocate; -1 means retry
	// until interruption.
	BadAllocMaxAttempts int
	// BadAllocAttemptInterval is the spacing between allocator retries.
	BadAllocAttemptIntervalMs int

	// NoCleanup, if true, the last-out factory skips session cleanup.
	NoCleanup bool

	// MetadataMsgSize is the minimum bytes per metadata wire message; 0
	// means exactly sizeof(MetaHeader) with no padding.
	MetadataMsgSize int

	// IOThreads sizes the underlying stream-transport's worker pool.
	IOThreads int
}

// DefaultConfig returns conservative defaults matching the reference
// implementation's documented defaults (§5, §6).
func DefaultConfig() *Config {
	return &Config{
		Session:                   "default",
		SegmentSize:               2 * 1024 * 1024 * 1024,
		SegmentID:                 0,
		Monitor:                   true,
		MlockSegment:              false,
		MlockSegmentOnCreation:    false,
		ZeroSegment:               false,
		ZeroSegmentOnCreation:     false,
		Allocation:                RBTreeBestFit,
		ThrowBadAlloc:             true,
		BadAllocMaxAttempts:       -1,
		BadAllocAttemptIntervalMs: 50,
		NoCleanup:                 false,
		MetadataMsgSize:           0,
		IOThreads:                 1,
	}
}
