package message

import (
	"unsafe"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/wire"
)

// shrinkReallocThreshold resolves §9 Open Question #3: SetUsedSize's
// fallback threshold between "keep the slack" and "reallocate+copy"
// when the allocator cannot shrink a block in place.
const shrinkReallocThreshold = 1_000_000

// Message owns at most one managed allocation or one unmanaged-region
// block (§3, §4.6). Unlike the source's RAII destructor, Go has no
// destructors: callers must call Close explicitly, typically via defer,
// when a message is not handed off to Send (which transitions it to
// the queued-for-send state, per spec, and makes Close a no-op for
// reclamation purposes).
type Message struct {
	mgr Manager

	size      uint64
	hint      uint64
	handle    int64 // -1 when empty
	shared    int64 // -1 when unmanaged and not yet multi-owner
	regionID  uint32
	segmentID uint16
	alignment uint64
	managed   bool
	queued    bool

	localPtr  unsafe.Pointer // lazily resolved, cleared on Close/Rebuild
	regionGen uint64         // Manager.RegionGeneration() observed when localPtr was resolved
}

// NewEmpty returns a Message in the empty state (§4.6 table).
func NewEmpty(mgr Manager) *Message {
	mgr.IncrementMsgCounter()
	return &Message{mgr: mgr, handle: -1, shared: -1, segmentID: mgr.DefaultSegmentID(), managed: true}
}

// NewSized allocates size bytes in the default segment at natural alignment.
func NewSized(mgr Manager, size uint64) (*Message, error) {
	return NewSizedAligned(mgr, size, 0)
}

// NewSizedAligned allocates size bytes at the given alignment (0 = natural).
func NewSizedAligned(mgr Manager, size uint64, alignment uint64) (*Message, error) {
	m := &Message{mgr: mgr, handle: -1, shared: -1, segmentID: mgr.DefaultSegmentID(), managed: true, alignment: alignment}
	mgr.IncrementMsgCounter()
	if size == 0 {
		return m, nil
	}
	if err := m.initializeChunk(size, alignment); err != nil {
		mgr.DecrementMsgCounter()
		return nil, err
	}
	return m, nil
}

// NewFromBytes copies data into a fresh managed allocation (§4.6
// "data, size, free_fn, hint" constructor — Go's GC plays the role of
// free_fn, so the caller's buffer is simply left for the collector).
func NewFromBytes(mgr Manager, data []byte, hint uint64) (*Message, error) {
	m, err := NewSized(mgr, uint64(len(data)))
	if err != nil {
		return nil, err
	}
	m.hint = hint
	copy(m.GetData(), data)
	return m, nil
}

// RegionResolver is the narrow view of a region a region-backed Message
// needs at construction time: bounds validation and release notification.
type RegionResolver interface {
	Base() unsafe.Pointer
	Contains(ptr unsafe.Pointer) bool
	Size() uint64
	ID() uint32
}

// NewFromRegion wraps user-owned bytes inside an unmanaged region
// (§4.6: validates that data lies in [region.base, region.base+size)).
func NewFromRegion(mgr Manager, reg RegionResolver, data []byte, hint uint64) (*Message, error) {
	if len(data) == 0 {
		return nil, api.NewMessageError("region message must have non-zero size")
	}
	ptr := unsafe.Pointer(&data[0])
	if !reg.Contains(ptr) {
		return nil, api.NewMessageError("trying to create region message with data from outside the region")
	}
	mgr.IncrementMsgCounter()
	off := uintptr(ptr) - uintptr(reg.Base())
	return &Message{
		mgr: mgr, handle: int64(off), shared: -1, regionID: reg.ID(),
		segmentID: mgr.DefaultSegmentID(), managed: false,
		size: uint64(len(data)), hint: hint, localPtr: ptr,
	}, nil
}

// NewFromMetaHeader reconstructs a Message on receive; resolution is
// lazy, performed on first GetData (§4.6).
func NewFromMetaHeader(mgr Manager, hdr wire.MetaHeader) *Message {
	mgr.IncrementMsgCounter()
	return &Message{
		mgr: mgr, size: hdr.Size, hint: hdr.Hint, handle: hdr.Handle, shared: hdr.Shared,
		regionID: uint32(hdr.RegionID), segmentID: hdr.SegmentID, managed: hdr.Managed,
	}
}

func (m *Message) initializeChunk(size, alignment uint64) error {
	h, err := m.mgr.Allocate(size, alignment, m.segmentID)
	if err != nil {
		return err
	}
	m.handle = int64(h)
	m.size = size
	m.alignment = alignment
	seg, err := m.mgr.Segment(m.segmentID)
	if err != nil {
		return err
	}
	m.localPtr = seg.AddressFromHandle(h)
	return nil
}

// GetData lazily resolves and returns a zero-copy view of the buffer
// (§4.6). For managed messages it resolves through the segment
// provider (lazily opening foreign segments); for unmanaged messages it
// resolves through the region provider's generation-counted cache.
func (m *Message) GetData() []byte {
	if !m.managed && m.localPtr != nil && m.regionGen != m.mgr.RegionGeneration() {
		m.localPtr = nil // a region was created/removed since we last resolved; re-resolve
	}
	if m.localPtr == nil {
		if m.size == 0 {
			return nil
		}
		if m.managed {
			seg, err := m.mgr.Segment(m.segmentID)
			if err != nil {
				return nil
			}
			m.localPtr = seg.AddressFromHandle(uint64(m.handle))
		} else {
			reg, ok := m.mgr.Region(m.regionID)
			if !ok {
				return nil
			}
			m.localPtr = unsafe.Pointer(uintptr(reg.Base()) + uintptr(m.handle))
			m.regionGen = m.mgr.RegionGeneration()
		}
	}
	return unsafe.Slice((*byte)(m.localPtr), m.size)
}

// Size returns the logical size of the message's payload.
func (m *Message) Size() uint64 { return m.size }

// Hint returns the user-supplied hint value (§3 RegionBlock/MetaHeader).
func (m *Message) Hint() uint64 { return m.hint }

// IsManaged reports whether the message lives in the managed segment
// (true) or an unmanaged region (false).
func (m *Message) IsManaged() bool { return m.managed }

// Handle, RegionID, SegmentID, Shared expose the fields needed to build
// a MetaHeader for Send (§6).
func (m *Message) Handle() int64     { return m.handle }
func (m *Message) RegionID() uint32  { return m.regionID }
func (m *Message) SegmentID() uint16 { return m.segmentID }
func (m *Message) Shared() int64     { return m.shared }

// MetaHeader builds the wire descriptor for this message (§6).
func (m *Message) MetaHeader() wire.MetaHeader {
	return wire.MetaHeader{
		Size: m.size, Hint: m.hint, Handle: m.handle, Shared: m.shared,
		RegionID: uint16(m.regionID), SegmentID: m.segmentID, Managed: m.managed,
	}
}

// MarkQueued transitions the message into queued-for-send state: the
// transport now owns reclamation and Close becomes a no-op (§3, §4.6).
func (m *Message) MarkQueued() { m.queued = true }

// GetRefCount reports the current owner count (§4.4; test/debug use).
func (m *Message) GetRefCount() uint32 {
	if m.handle < 0 {
		return 1
	}
	if m.managed {
		seg, err := m.mgr.Segment(m.segmentID)
		if err != nil {
			return 0
		}
		return uint32(seg.Header(uint64(m.handle)).Load())
	}
	if m.shared < 0 {
		return 1
	}
	reg, ok := m.mgr.Region(m.regionID)
	if !ok {
		return 0
	}
	rc := reg.RefCount()
	if rc == nil {
		return 0
	}
	return uint32(rc.Load(m.shared))
}

// SetUsedSize narrows the logical size of an already-allocated managed
// buffer (§4.2 shrink policy, §9 OQ#3). It never widens the buffer.
func (m *Message) SetUsedSize(newSize uint64) bool {
	switch {
	case newSize == m.size:
		return true
	case newSize == 0:
		m.deallocate()
		return true
	case newSize > m.size:
		return false
	}

	seg, err := m.mgr.Segment(m.segmentID)
	if err != nil {
		return false
	}
	if seg.ShrinkInPlace(uint64(m.handle), newSize) {
		m.size = newSize
		m.localPtr = seg.AddressFromHandle(uint64(m.handle))
		return true
	}

	// Could not shrink in place (alignment constraints): reallocate+copy
	// only if the wasted tail crosses the threshold, else keep the slack.
	if m.size-newSize >= shrinkReallocThreshold {
		newHandle, err := m.mgr.Allocate(newSize, m.alignment, m.segmentID)
		if err != nil {
			m.size = newSize
			return true
		}
		newPtr := seg.AddressFromHandle(newHandle)
		copy(unsafe.Slice((*byte)(newPtr), newSize), m.GetData()[:newSize])
		seg.Deallocate(uint64(m.handle))
		m.handle = int64(newHandle)
		m.localPtr = newPtr
	}
	m.size = newSize
	return true
}

// Copy makes dst share src's underlying buffer without copying bytes
// (§4.4, §4.6). If src is empty, dst is closed instead.
func (m *Message) Copy(src *Message) {
	if src.handle < 0 {
		m.deallocate()
		m.alignment = 0
		return
	}
	if m.handle >= 0 {
		m.deallocate()
	}

	if src.managed {
		seg, err := m.mgr.Segment(src.segmentID)
		if err == nil {
			seg.Header(uint64(src.handle)).Incr()
		}
	} else if reg, ok := m.mgr.Region(src.regionID); ok {
		rc := reg.RefCount()
		if rc != nil {
			if src.shared < 0 {
				h, err := rc.New(2)
				if err == nil {
					src.shared = h
				}
			} else {
				rc.Incr(src.shared)
			}
		}
	}

	m.size = src.size
	m.hint = src.hint
	m.handle = src.handle
	m.shared = src.shared
	m.regionID = src.regionID
	m.segmentID = src.segmentID
	m.managed = src.managed
	m.localPtr = nil
}

// Rebuild resets the message and re-initializes it as a fresh
// owning allocation without discarding the wrapper (§4.6).
func (m *Message) Rebuild(size uint64, alignment uint64) error {
	m.Close()
	m.queued = false
	m.alignment = alignment
	if size == 0 {
		return nil
	}
	return m.initializeChunk(size, alignment)
}

func (m *Message) deallocate() {
	if m.handle >= 0 && !m.queued {
		if m.managed {
			seg, err := m.mgr.Segment(m.segmentID)
			if err == nil {
				if seg.Header(uint64(m.handle)).Decr() == 0 {
					seg.Deallocate(uint64(m.handle))
				}
			}
		} else {
			m.releaseUnmanaged()
		}
	}
	m.handle = -1
	m.localPtr = nil
	m.size = 0
}

func (m *Message) releaseUnmanaged() {
	reg, ok := m.mgr.Region(m.regionID)
	if !ok {
		return
	}
	if m.shared >= 0 {
		rc := reg.RefCount()
		if rc == nil {
			return
		}
		if rc.Decr(m.shared) == 0 {
			rc.Free(m.shared)
			reg.ReleaseBlock(wire.RegionBlock{Handle: m.handle, Size: m.size, Hint: m.hint})
		}
		return
	}
	reg.ReleaseBlock(wire.RegionBlock{Handle: m.handle, Size: m.size, Hint: m.hint})
}

// Close releases the message's reference and decrements the manager's
// message counter. Once the message has been marked queued-for-send it
// releases no buffer and only decrements the counter (§3 queued-for-send
// state).
func (m *Message) Close() {
	m.deallocate()
	m.alignment = 0
	m.mgr.DecrementMsgCounter()
}

