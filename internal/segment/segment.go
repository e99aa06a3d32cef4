package segment

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/FairRootGroup/fairmq-go/api"
)

// Segment is a single process-wide shared-memory mapping hosting a
// concurrent allocator (§4.2). A handle returned by Allocate is a
// segment-relative offset and resolves to the same bytes in every
// process that has mapped the same backing object.
type Segment struct {
	name      string
	id        uint16
	size      uint64
	mu        sync.Mutex
	raw       []byte // full mapping, including segHeaderSize prefix
	arena     []byte // raw[segHeaderSize:]
	allocator Allocator
	created   bool
	closer    func() error
}

// Algorithm reports the allocation algorithm active for this segment —
// honored even when it differs from the one requested at Open time
// (§4.2: "if the present algorithm differs ... honor the present one").
func (s *Segment) Algorithm() api.AllocAlgorithm {
	return api.AllocAlgorithm(s.raw[offAlgorithm])
}

// Created reports whether this call created the segment (vs. opened an
// existing one).
func (s *Segment) Created() bool { return s.created }

// ID returns the segment's numeric id (§6 shared-object naming).
func (s *Segment) ID() uint16 { return s.id }

// Size returns the full backing size, including the reserved header.
func (s *Segment) Size() uint64 { return s.size }

// OpenOrCreateOptions configures post-open behavior (§4.2).
type OpenOrCreateOptions struct {
	Algorithm              api.AllocAlgorithm
	MlockOnCreation        bool
	MlockOnOpen            bool
	ZeroOnCreation         bool
	ZeroOnOpen             bool
	BadAllocMaxAttempts    int
	BadAllocIntervalMillis int
}

// OpenOrCreate opens the segment named by shmName ("fmq_<S>_m_<id>") or
// creates it at the given size if absent (§4.2, §6).
func OpenOrCreate(shmName string, id uint16, size uint64, opts OpenOrCreateOptions) (*Segment, error) {
	if size <= segHeaderSize {
		return nil, api.NewTransportError("segment size too small").WithContext("size", size)
	}
	raw, created, closer, err := mapBacking(shmName, size)
	if err != nil {
		return nil, api.NewTransportError(fmt.Sprintf("open/create segment %s: %v", shmName, err))
	}

	s := &Segment{name: shmName, id: id, size: size, raw: raw, created: created, closer: closer}
	s.arena = raw[segHeaderSize:]

	if created {
		raw[offAlgorithm] = byte(opts.Algorithm)
		if opts.ZeroOnCreation {
			zero(s.arena)
		}
		s.writeInitialFreeBlock()
		if opts.MlockOnCreation {
			_ = lockPages(raw)
		}
	} else {
		if opts.ZeroOnOpen {
			// ZeroOnOpen has no effect: an existing segment is never
			// zeroed, since zero() clears the whole arena, live
			// allocations and boundary tags included.
		}
		if opts.MlockOnOpen {
			_ = lockPages(raw)
		}
	}

	s.allocator = newAllocator(s.arena, s.Algorithm())
	return s, nil
}

func (s *Segment) writeInitialFreeBlock() {
	t := blockTag{Size: uint64(len(s.arena)), Free: 1}
	*(*blockTag)(ptrAt(s.arena, 0)) = t
	*(*blockTag)(ptrAt(s.arena, t.Size-blockTagSize)) = t
}

// Allocate reserves size bytes at the requested alignment, retrying
// BadAlloc per the policy in §5 until max attempts are exhausted or the
// interrupt flag fires.
func (s *Segment) Allocate(size, alignment uint64, maxAttempts int, intervalMs int, interrupted func() bool) (uint64, error) {
	attempt := 0
	for {
		h, err := s.allocator.Allocate(size, alignment)
		if err == nil {
			return h, nil
		}
		attempt++
		if interrupted != nil && interrupted() {
			return 0, api.ErrClosed
		}
		if maxAttempts >= 0 && attempt >= maxAttempts {
			return 0, err
		}
		time.Sleep(time.Duration(intervalMs) * time.Millisecond)
	}
}

// Deallocate frees a previously allocated handle.
func (s *Segment) Deallocate(handle uint64) { s.allocator.Deallocate(handle) }

// ShrinkInPlace attempts to return the unused tail of an allocation.
func (s *Segment) ShrinkInPlace(handle, newUsedSize uint64) bool {
	return s.allocator.ShrinkInPlace(handle, newUsedSize)
}

// Header returns the ShmHeader (alignment offset + refcount) for handle.
func (s *Segment) Header(handle uint64) *ShmHeader { return s.allocator.HeaderFor(handle) }

// AddressFromHandle resolves a handle to a process-local pointer.
func (s *Segment) AddressFromHandle(handle uint64) unsafe.Pointer {
	return s.allocator.AddressFromHandle(handle)
}

// Bytes returns a zero-copy view of size bytes at handle.
func (s *Segment) Bytes(handle, size uint64) []byte {
	return unsafe.Slice((*byte)(s.AddressFromHandle(handle)), size)
}

// HandleFromAddress is the inverse of AddressFromHandle.
func (s *Segment) HandleFromAddress(ptr unsafe.Pointer) (uint64, bool) {
	return s.allocator.HandleFromAddress(ptr)
}

// FreeBytes reports free arena bytes, for tests and introspection (§8
// property 1/5: segment free memory returns to its pre-allocation value).
func (s *Segment) FreeBytes() uint64 { return s.allocator.FreeBytes() }

// Close unmaps the segment. If remove is true, the backing object is
// also removed, whichever process created it (monitor/factory cleanup
// path).
func (s *Segment) Close(remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer()
	s.closer = nil
	if remove {
		return removeBacking(s.name)
	}
	return err
}

// MapRaw exposes the platform mmap helper directly, for callers (the
// management segment) that need a fixed-layout shared mapping without
// the boundary-tag allocator on top.
func MapRaw(name string, size uint64) (raw []byte, created bool, closer func() error, err error) {
	return mapBacking(name, size)
}

// RemoveRaw removes a raw mapping's backing object.
func RemoveRaw(name string) error { return removeBacking(name) }

// LockRaw locks a raw mapping's pages in RAM.
func LockRaw(mem []byte) error { return lockPages(mem) }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
