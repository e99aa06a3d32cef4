// Package region implements the unmanaged region (C5): a separately
// mapped, user-owned buffer pool shared across processes, with an
// out-of-band acknowledgment queue notifying the creator ("controller")
// when a receiver ("viewer") is done with a block.
package region

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
	"github.com/FairRootGroup/fairmq-go/internal/wire"
)

// Callback is invoked once per released block when no bulk callback is
// registered.
type Callback func(wire.RegionBlock)

// BulkCallback is invoked once per drained bunch of released blocks.
type BulkCallback func([]wire.RegionBlock)

// Options configures region creation (§4.5).
type Options struct {
	Path               string // optional file-backed mapping
	CreationFlags      uint32
	UserFlags          uint32
	RemoveOnDestruction bool
	LingerMs           int
	RCSegmentSize      uint64
	Callback           Callback
	BulkCallback       BulkCallback
}

// Region is a controller or viewer handle on an unmanaged region.
type Region struct {
	shmID string
	id    uint32

	mu           sync.Mutex
	raw          []byte
	closer       func() error
	isController bool
	opts         Options

	ackq    *ackQueue
	staging *staging
	rc      *RefCountSegment

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func regionName(shmID string, id uint32) string { return fmt.Sprintf("fmq_%s_rg_%d", shmID, id) }
func ackQueueName(shmID string, id uint32) string {
	return fmt.Sprintf("fmq_%s_rgq_%d", shmID, id)
}
func rcSegmentName(shmID string, id uint32) string {
	return fmt.Sprintf("fmq_%s_rrc_%d", shmID, id)
}

// Names returns the shared-object names a region of the given id would
// use (§6), for callers — namely the monitor's cleanup sweep — that need
// to remove them without opening the region.
func Names(shmID string, id uint32) (regionObj, ackQueue, rcSegment string) {
	return regionName(shmID, id), ackQueueName(shmID, id), rcSegmentName(shmID, id)
}

// RemoveRegionObjects removes a region's shared objects by name alone
// (§4.9 CleanupFull), without requiring an open Region handle. path, if
// non-empty, is a file-backed region's path and is left untouched (§4.5:
// file-backed regions are user-owned, never removed automatically).
func RemoveRegionObjects(shmID string, id uint32, path string) {
	regionObj, ackQueue, rcSegment := Names(shmID, id)
	if path == "" {
		_ = segment.RemoveRaw(regionObj)
	}
	_ = segment.RemoveRaw(ackQueue)
	_ = segment.RemoveRaw(rcSegment)
}

// CreateAsController creates a new unmanaged region of the given size
// and takes the controller role: it owns the ack queue's receiver
// thread and the cleanup responsibility (§4.5).
func CreateAsController(shmID string, id uint32, size uint64, opts Options) (*Region, error) {
	raw, _, closer, err := mapRegion(regionName(shmID, id), size, opts.Path)
	if err != nil {
		return nil, api.NewTransportError(fmt.Sprintf("create region %d: %v", id, err))
	}
	r := &Region{shmID: shmID, id: id, raw: raw, closer: closer, isController: true, opts: opts, stop: make(chan struct{})}

	if r.ackq, err = openAckQueue(ackQueueName(shmID, id)); err != nil {
		closer()
		return nil, api.NewTransportError(fmt.Sprintf("open ack queue for region %d: %v", id, err))
	}
	if r.rc, err = OpenOrCreateRefCountSegment(rcSegmentName(shmID, id), opts.RCSegmentSize); err != nil {
		closer()
		return nil, api.NewTransportError(fmt.Sprintf("open refcount segment for region %d: %v", id, err))
	}

	r.startReceiver()
	return r, nil
}

// OpenAsViewer opens an existing region for read/write without taking
// ownership of its lifecycle (§4.5 "viewers open the region on demand").
func OpenAsViewer(shmID string, id uint32, size uint64, opts Options) (*Region, error) {
	raw, _, closer, err := mapRegion(regionName(shmID, id), size, opts.Path)
	if err != nil {
		return nil, api.NewTransportError(fmt.Sprintf("open region %d: %v", id, err))
	}
	r := &Region{shmID: shmID, id: id, raw: raw, closer: closer, isController: false, opts: opts, stop: make(chan struct{})}

	if r.ackq, err = openAckQueue(ackQueueName(shmID, id)); err != nil {
		closer()
		return nil, api.NewTransportError(fmt.Sprintf("open ack queue for region %d: %v", id, err))
	}
	r.staging = newStaging()
	r.startSender()
	return r, nil
}

// BecomeController promotes a viewer-opened region to controller in
// place: the callback is registered and the ack-receiver thread starts,
// upgrading the existing view rather than remapping (§4.5).
func (r *Region) BecomeController(opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isController {
		return nil
	}
	r.opts.Callback = opts.Callback
	r.opts.BulkCallback = opts.BulkCallback
	r.opts.RemoveOnDestruction = opts.RemoveOnDestruction
	r.isController = true

	rc, err := OpenOrCreateRefCountSegment(rcSegmentName(r.shmID, r.id), opts.RCSegmentSize)
	if err != nil {
		return api.NewTransportError(fmt.Sprintf("become controller for region %d: %v", r.id, err))
	}
	r.rc = rc
	r.startReceiver()
	return nil
}

func (r *Region) startReceiver() {
	if r.started {
		return
	}
	r.started = true
	linger := r.opts.LingerMs
	if linger == 0 {
		linger = 100
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runAckReceiver(r.ackq, r.stop, linger, r.opts.Callback, r.opts.BulkCallback)
	}()
}

func (r *Region) startSender() {
	if r.started {
		return
	}
	r.started = true
	linger := r.opts.LingerMs
	if linger == 0 {
		linger = 100
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runAckSender(r.ackq, r.staging, r.stop, linger)
	}()
}

// ID returns the region's monotonic id.
func (r *Region) ID() uint32 { return r.id }

// IsController reports whether this handle owns the region's lifecycle.
func (r *Region) IsController() bool { return r.isController }

// Base returns the region's base pointer for offset arithmetic
// (message GetData resolution, §4.6).
func (r *Region) Base() unsafe.Pointer { return unsafe.Pointer(&r.raw[0]) }

// Bytes returns a zero-copy view of size bytes at offset off.
func (r *Region) Bytes(off, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&r.raw[off])), size)
}

// Size returns the region's mapped size.
func (r *Region) Size() uint64 { return uint64(len(r.raw)) }

// Contains reports whether a pointer lies inside [base, base+size)
// (§4.6 construction-variant validation for region-backed messages).
func (r *Region) Contains(ptr unsafe.Pointer) bool {
	base := uintptr(r.Base())
	p := uintptr(ptr)
	return p >= base && p < base+uintptr(len(r.raw))
}

// ReleaseBlock is called by a viewer's message destructor to notify the
// controller a buffer is free (§4.4, §4.5).
func (r *Region) ReleaseBlock(b wire.RegionBlock) {
	if r.isController {
		if r.opts.BulkCallback != nil {
			r.opts.BulkCallback([]wire.RegionBlock{b})
		} else if r.opts.Callback != nil {
			r.opts.Callback(b)
		}
		return
	}
	r.staging.enqueue(b)
}

// RefCount exposes the auxiliary shared-refcount segment, nil until a
// controller has opened it.
func (r *Region) RefCount() *RefCountSegment { return r.rc }

// Close stops the region's background thread and unmaps it. Per §4.5,
// only the controller removes shared objects, and only if
// RemoveOnDestruction is set; viewers never remove.
func (r *Region) Close() error {
	close(r.stop)
	if r.staging != nil {
		r.staging.close()
	}
	r.wg.Wait()

	remove := r.isController && r.opts.RemoveOnDestruction
	err := r.ackq.close(remove)
	if r.rc != nil {
		_ = r.rc.Close(remove)
	}
	cerr := r.closer()
	if remove {
		_ = removeRegionBacking(regionName(r.shmID, r.id), r.opts.Path)
	}
	if err != nil {
		return err
	}
	return cerr
}

func mapRegion(name string, size uint64, path string) (raw []byte, created bool, closer func() error, err error) {
	if path != "" {
		return mapFileBackedRegion(path, size)
	}
	return segment.MapRaw(name, size)
}

func removeRegionBacking(name, path string) error {
	if path != "" {
		return nil // file-backed regions are user-owned; never removed automatically
	}
	return segment.RemoveRaw(name)
}
