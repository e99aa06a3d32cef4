// Package mgmt implements the management segment (C3): session
// metadata shared by every factory in a session — device/event/region
// counters, the region and segment registries, the heartbeat counter,
// and the session identity record.
package mgmt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
)

// RegionInfo mirrors a regionSlot for callers (§3 RegionInfo map).
type RegionInfo struct {
	ID            uint32
	Path          string
	CreationFlags uint32
	UserFlags     uint32
	Size          uint64
	RCSegmentSize uint64
	Destroyed     bool
}

// SegmentInfo mirrors a segmentSlot for callers (§3 SegmentInfo map).
type SegmentInfo struct {
	ID        uint16
	Algorithm api.AllocAlgorithm
}

// ManagementSegment is the open handle on a session's management
// segment, plus the session mutex guarding all mutations (§4.3).
type ManagementSegment struct {
	name    string
	shmID   string
	raw     []byte
	l       *layout
	closer  func() error
	created bool

	mu    sync.Mutex // process-local guard; cross-process guard is Mutex below
	Mutex *NamedMutex
}

// OpenOrCreate opens or creates the management segment named
// "fmq_<shmID>_mng" (§6), sized to the fixed management budget.
func OpenOrCreate(shmID, sessionName string, creatorUID int) (*ManagementSegment, error) {
	name := fmt.Sprintf("fmq_%s_mng", shmID)
	size := uint64(LayoutSize)
	if size < DefaultBudgetBytes {
		size = DefaultBudgetBytes
	}

	raw, created, closer, err := segment.MapRaw(name, size)
	if err != nil {
		return nil, api.NewTransportError(fmt.Sprintf("open management segment: %v", err))
	}

	mtx, err := OpenNamedMutex(fmt.Sprintf("fmq_%s_mtx", shmID))
	if err != nil {
		closer()
		return nil, api.NewTransportError(fmt.Sprintf("open session mutex: %v", err))
	}

	ms := &ManagementSegment{name: name, shmID: shmID, raw: raw, l: layoutAt(raw), closer: closer, created: created, Mutex: mtx}

	if created {
		ms.l.Magic = layoutMagic
		ms.l.SessionNameLen = uint32(copy(ms.l.SessionName[:], sessionName))
		ms.l.CreatorUID = int64(creatorUID)
	}
	return ms, nil
}

// SessionName returns the session's human name (§3 SessionInfo).
func (m *ManagementSegment) SessionName() string {
	return string(m.l.SessionName[:m.l.SessionNameLen])
}

// CreatorUID returns the uid that created the session.
func (m *ManagementSegment) CreatorUID() int { return int(m.l.CreatorUID) }

// IncrDeviceCounter increments the device counter on factory
// construction and returns the new value (§4.8 step 3).
func (m *ManagementSegment) IncrDeviceCounter() int64 {
	return atomic.AddInt64(&m.l.DeviceCounter, 1)
}

// DecrDeviceCounter decrements the device counter on factory
// destruction; reaching zero authorizes full cleanup (§4.8 destructor).
func (m *ManagementSegment) DecrDeviceCounter() int64 {
	return atomic.AddInt64(&m.l.DeviceCounter, -1)
}

// DeviceCount reads the current device counter.
func (m *ManagementSegment) DeviceCount() int64 {
	return atomic.LoadInt64(&m.l.DeviceCounter)
}

// IncrEventCounter bumps the event counter on region create/destroy
// (§3 EventCounter; §4.10 drives region-event subscribers off this).
func (m *ManagementSegment) IncrEventCounter() int64 {
	return atomic.AddInt64(&m.l.EventCounter, 1)
}

// EventCounter reads the current event counter.
func (m *ManagementSegment) EventCounter() int64 {
	return atomic.LoadInt64(&m.l.EventCounter)
}

// NextRegionID allocates a monotonic region id (§3 RegionCounter).
func (m *ManagementSegment) NextRegionID() uint32 {
	return uint32(atomic.AddInt64(&m.l.RegionCounter, 1))
}

// TickHeartbeat bumps the heartbeat counter (§4.8 step 7, ~10 Hz thread).
func (m *ManagementSegment) TickHeartbeat() int64 {
	return atomic.AddInt64(&m.l.Heartbeat, 1)
}

// Heartbeat reads the current heartbeat counter (§4.9 monitor poll).
func (m *ManagementSegment) Heartbeat() int64 {
	return atomic.LoadInt64(&m.l.Heartbeat)
}

// RegisterRegion records a newly created region's metadata (§4.5).
func (m *ManagementSegment) RegisterRegion(info RegionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.l.Regions {
		s := &m.l.Regions[i]
		if atomic.LoadUint32(&s.Used) == 0 {
			s.ID = info.ID
			s.PathLen = uint32(copy(s.Path[:], info.Path))
			s.CreationFlags = info.CreationFlags
			s.UserFlags = info.UserFlags
			s.Size = info.Size
			s.RCSegmentSize = info.RCSegmentSize
			s.Destroyed = 0
			atomic.StoreUint32(&s.Used, 1)
			return nil
		}
	}
	return api.NewTransportError("management segment region table full")
}

// MarkRegionDestroyed flips the destroyed flag in place (§9 OQ#4):
// existing references remain resolvable; no new viewers may open it.
func (m *ManagementSegment) MarkRegionDestroyed(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.l.Regions {
		s := &m.l.Regions[i]
		if atomic.LoadUint32(&s.Used) != 0 && s.ID == id {
			atomic.StoreUint32(&s.Destroyed, 1)
			return
		}
	}
}

// RemoveRegion clears a region's table slot (controller cleanup path, §4.5).
func (m *ManagementSegment) RemoveRegion(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.l.Regions {
		s := &m.l.Regions[i]
		if atomic.LoadUint32(&s.Used) != 0 && s.ID == id {
			*s = regionSlot{}
			return
		}
	}
}

// GetRegionInfo returns a snapshot of all registered regions (§4.5
// GetRegionInfo).
func (m *ManagementSegment) GetRegionInfo() []RegionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RegionInfo
	for i := range m.l.Regions {
		s := &m.l.Regions[i]
		if atomic.LoadUint32(&s.Used) == 0 {
			continue
		}
		out = append(out, RegionInfo{
			ID:            s.ID,
			Path:          string(s.Path[:s.PathLen]),
			CreationFlags: s.CreationFlags,
			UserFlags:     s.UserFlags,
			Size:          s.Size,
			RCSegmentSize: s.RCSegmentSize,
			Destroyed:     s.Destroyed != 0,
		})
	}
	return out
}

// RegisterSegment records a managed segment's allocation algorithm
// (§3 SegmentInfo).
func (m *ManagementSegment) RegisterSegment(info SegmentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.l.Segments {
		s := &m.l.Segments[i]
		if atomic.LoadUint32(&s.Used) == 0 {
			s.ID = uint32(info.ID)
			s.Algorithm = uint32(info.Algorithm)
			atomic.StoreUint32(&s.Used, 1)
			return nil
		}
		if s.ID == uint32(info.ID) {
			return nil // already registered
		}
	}
	return api.NewTransportError("management segment table full")
}

// GetSegmentInfo returns a snapshot of all registered managed segments
// (§4.9 CleanupFull needs to enumerate every `fmq_<S>_m_<id>` object).
func (m *ManagementSegment) GetSegmentInfo() []SegmentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SegmentInfo
	for i := range m.l.Segments {
		s := &m.l.Segments[i]
		if atomic.LoadUint32(&s.Used) == 0 {
			continue
		}
		out = append(out, SegmentInfo{ID: uint16(s.ID), Algorithm: api.AllocAlgorithm(s.Algorithm)})
	}
	return out
}

// SegmentAlgorithm returns the algorithm on record for segmentID, honoring
// whatever the first creator chose (§4.2 "honor the present algorithm").
func (m *ManagementSegment) SegmentAlgorithm(segmentID uint16) (api.AllocAlgorithm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.l.Segments {
		s := &m.l.Segments[i]
		if atomic.LoadUint32(&s.Used) != 0 && s.ID == uint32(segmentID) {
			return api.AllocAlgorithm(s.Algorithm), true
		}
	}
	return 0, false
}

// Close unmaps the segment and releases the session mutex handle.
func (m *ManagementSegment) Close(remove bool) error {
	m.Mutex.Close()
	err := m.closer()
	if remove {
		_ = segment.RemoveRaw(m.name)
		_ = Remove(fmt.Sprintf("fmq_%s_mtx", m.shmID))
	}
	return err
}
