// Package message implements the zero-copy message lifecycle (C6): a
// handle that carries enough metadata to resolve to a buffer in the
// managed segment or an unmanaged region, across process boundaries.
package message

import (
	"github.com/FairRootGroup/fairmq-go/internal/region"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
)

// SegmentProvider is the narrow capability Message needs from the
// transport factory's manager: resolve/allocate/deallocate in a managed
// segment (§9 Design Notes — "single owning Manager exposing narrow
// capability interfaces to Message"). Messages hold only a borrowed
// reference; they never own the manager's lifecycle.
type SegmentProvider interface {
	Segment(segmentID uint16) (*segment.Segment, error)
	DefaultSegmentID() uint16
	Allocate(size, alignment uint64, segmentID uint16) (handle uint64, err error)
}

// RegionProvider resolves a region id to an open Region. Go has no
// stable goroutine-local storage to host the source's thread-local
// region-pointer cache (§4.6, §9), so the cache collapses to its
// narrowest unit instead: each Message lazily caches the one region
// pointer it resolved, gated by RegionGeneration so a region
// create/remove invalidates every outstanding cached pointer without a
// second cache structure to keep in sync.
type RegionProvider interface {
	Region(regionID uint32) (*region.Region, bool)
	RegionGeneration() uint64
}

// Manager is the full capability set a Message needs; the transport
// factory's concrete manager type implements it.
type Manager interface {
	SegmentProvider
	RegionProvider
	IncrementMsgCounter()
	DecrementMsgCounter()
}
