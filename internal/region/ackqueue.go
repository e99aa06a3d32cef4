package region

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/FairRootGroup/fairmq-go/internal/segment"
	"github.com/FairRootGroup/fairmq-go/internal/wire"
)

// ackBunchSize is the number of RegionBlocks carried per ack-queue
// message (§4.5: "ack_bunch_size is a small constant (256)").
const ackBunchSize = 256

// ackQueueCapacity is the number of bunch slots the queue holds (§4.5:
// "sized for 1024 messages of ack_bunch_size RegionBlocks each").
const ackQueueCapacity = 1024

type shmBlock struct {
	Handle int64
	Size   uint64
	Hint   uint64
}

type bunchSlot struct {
	sequence uint64
	count    uint32
	_        uint32
	blocks   [ackBunchSize]shmBlock
}

type ringHeader struct {
	head uint64
	_    [56]byte
	tail uint64
	_    [56]byte
}

// ackQueue is the cross-process bounded message queue carrying bunches
// of RegionBlocks from viewer processes to the controller (§4.5, §6
// "fmq_<S>_rgq_<region_id>"). It is the Vyukov MPMC ring algorithm
// adapted from internal/concurrency.RingBuffer onto raw shared-memory
// slots instead of a generic Go slice, since ack-queue data must be
// visible identically to every mapping process.
type ackQueue struct {
	name   string
	raw    []byte
	hdr    *ringHeader
	slots  []bunchSlot
	closer func() error
}

func openAckQueue(name string) (*ackQueue, error) {
	size := uint64(unsafe.Sizeof(ringHeader{})) + ackQueueCapacity*uint64(unsafe.Sizeof(bunchSlot{}))
	raw, created, closer, err := segment.MapRaw(name, size)
	if err != nil {
		return nil, err
	}
	q := &ackQueue{
		name:   name,
		raw:    raw,
		hdr:    (*ringHeader)(unsafe.Pointer(&raw[0])),
		closer: closer,
	}
	q.slots = unsafe.Slice((*bunchSlot)(unsafe.Pointer(&raw[unsafe.Sizeof(ringHeader{})])), ackQueueCapacity)
	if created {
		for i := range q.slots {
			atomic.StoreUint64(&q.slots[i].sequence, uint64(i))
		}
	}
	return q, nil
}

// push attempts to enqueue one bunch; returns false if the queue is full.
func (q *ackQueue) push(blocks []wire.RegionBlock) bool {
	for {
		tail := atomic.LoadUint64(&q.hdr.tail)
		slot := &q.slots[tail%ackQueueCapacity]
		seq := atomic.LoadUint64(&slot.sequence)
		switch diff := int64(seq) - int64(tail); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.hdr.tail, tail, tail+1) {
				n := len(blocks)
				if n > ackBunchSize {
					n = ackBunchSize
				}
				for i := 0; i < n; i++ {
					slot.blocks[i] = shmBlock{Handle: blocks[i].Handle, Size: blocks[i].Size, Hint: blocks[i].Hint}
				}
				atomic.StoreUint32(&slot.count, uint32(n))
				atomic.StoreUint64(&slot.sequence, tail+1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// pop removes one bunch, or returns ok=false if the queue is empty.
func (q *ackQueue) pop() ([]wire.RegionBlock, bool) {
	for {
		head := atomic.LoadUint64(&q.hdr.head)
		slot := &q.slots[head%ackQueueCapacity]
		seq := atomic.LoadUint64(&slot.sequence)
		switch diff := int64(seq) - int64(head+1); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.hdr.head, head, head+1) {
				n := atomic.LoadUint32(&slot.count)
				out := make([]wire.RegionBlock, n)
				for i := uint32(0); i < n; i++ {
					b := slot.blocks[i]
					out[i] = wire.RegionBlock{Handle: b.Handle, Size: b.Size, Hint: b.Hint}
				}
				atomic.StoreUint64(&slot.sequence, head+ackQueueCapacity+1)
				return out, true
			}
		case diff < 0:
			return nil, false
		}
	}
}

func (q *ackQueue) close(remove bool) error {
	err := q.closer()
	if remove {
		return segment.RemoveRaw(q.name)
	}
	return err
}

// staging is the per-region local vector of pending RegionBlocks
// produced by destroying region messages, drained by the ack-sender
// thread (§4.5, §5: "per-region std::mutex + condition variable between
// the producer (message destructors) and the ack-sender thread").
type staging struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []wire.RegionBlock
	closed  bool
}

func newStaging() *staging {
	s := &staging{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *staging) enqueue(b wire.RegionBlock) {
	s.mu.Lock()
	s.pending = append(s.pending, b)
	s.mu.Unlock()
	s.cond.Signal()
}

// drain returns up to ackBunchSize pending blocks, blocking until at
// least one is available or the staging area is closed.
func (s *staging) drain() ([]wire.RegionBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.pending) == 0 {
		return nil, false
	}
	n := len(s.pending)
	if n > ackBunchSize {
		n = ackBunchSize
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out, true
}

func (s *staging) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// runAckSender is the viewer-side thread: consumes the local staging
// vector and pushes bunches to the ack queue, yielding when full; on
// shutdown it drains remaining blocks until lingerMs expires (§4.5).
func runAckSender(q *ackQueue, st *staging, stop <-chan struct{}, lingerMs int) {
	for {
		blocks, ok := st.drain()
		if !ok {
			select {
			case <-stop:
				deadline := time.Now().Add(time.Duration(lingerMs) * time.Millisecond)
				for time.Now().Before(deadline) {
					blocks, ok = st.drain()
					if !ok {
						return
					}
					pushWithYield(q, blocks, stop)
				}
				return
			default:
				continue
			}
		}
		pushWithYield(q, blocks, stop)
	}
}

func pushWithYield(q *ackQueue, blocks []wire.RegionBlock, stop <-chan struct{}) {
	for !q.push(blocks) {
		select {
		case <-stop:
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// runAckReceiver is the controller-side thread: pops bunches and
// invokes the bulk callback, or the per-block callback, serialized in
// this goroutine (§4.5). On shutdown it keeps draining for lingerMs.
func runAckReceiver(q *ackQueue, stop <-chan struct{}, lingerMs int, callback func(wire.RegionBlock), bulkCallback func([]wire.RegionBlock)) {
	deliver := func(blocks []wire.RegionBlock) {
		if bulkCallback != nil {
			bulkCallback(blocks)
			return
		}
		if callback != nil {
			for _, b := range blocks {
				callback(b)
			}
		}
	}
	for {
		blocks, ok := q.pop()
		if !ok {
			select {
			case <-stop:
				deadline := time.Now().Add(time.Duration(lingerMs) * time.Millisecond)
				for time.Now().Before(deadline) {
					if blocks, ok = q.pop(); ok {
						deliver(blocks)
						continue
					}
					time.Sleep(time.Millisecond)
				}
				return
			default:
				time.Sleep(time.Millisecond)
			}
			continue
		}
		deliver(blocks)
	}
}
