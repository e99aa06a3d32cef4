package mgmt

import "unsafe"

// Fixed table sizes for the management segment (§3 "Management Segment
// contents"). The teacher's own config/metrics stores are dynamic Go
// maps, but these structures must be visible identically to every
// process mapping the segment, so they are laid out as a fixed raw
// struct directly over shared bytes — the same technique
// internal/segment uses for its boundary tags.
const (
	MaxRegions        = 256
	MaxSegments        = 64
	MaxPathLen         = 256
	MaxSessionNameLen  = 128
	DefaultBudgetBytes = 4 * 1024 * 1024
)

type regionSlot struct {
	Used          uint32
	ID            uint32
	PathLen       uint32
	Path          [MaxPathLen]byte
	CreationFlags uint32
	UserFlags     uint32
	Size          uint64
	RCSegmentSize uint64
	Destroyed     uint32
	_             uint32
}

type segmentSlot struct {
	Used      uint32
	ID        uint32
	Algorithm uint32
	_         uint32
}

// layout is the fixed control block occupying the start of the
// management segment's backing mapping.
type layout struct {
	Magic           uint64
	DeviceCounter   int64
	EventCounter    int64
	RegionCounter   int64
	Heartbeat       int64
	CreatorUID      int64
	SessionNameLen  uint32
	SessionName     [MaxSessionNameLen]byte
	Regions         [MaxRegions]regionSlot
	Segments        [MaxSegments]segmentSlot
}

const layoutMagic = 0xFA12_7C0E

func layoutAt(raw []byte) *layout {
	return (*layout)(unsafe.Pointer(&raw[0]))
}

// LayoutSize is the byte size the management segment must be at least.
var LayoutSize = unsafe.Sizeof(layout{})
