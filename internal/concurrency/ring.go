// Package concurrency provides a lock-free, MPMC-safe ring buffer, used
// as Socket's async send outbox. RingBuffer uses the Vyukov MPMC ring
// algorithm: a sequence-tagged cell array lets multiple producers and
// consumers race on head/tail via CAS without blocking each other.
package concurrency

import (
	"sync/atomic"
)

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// RingBuffer is a lock-free, bounded MPMC ring buffer, cache-line padded
// to keep the producer-side tail and consumer-side head from false-sharing.
type RingBuffer[T any] struct {
	head  uint64
	_     [56]byte
	tail  uint64
	_     [56]byte
	mask  uint64
	cells []cell[T]
}

// NewRingBuffer allocates a ring buffer rounded up to the next power of two.
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size < 2 {
		size = 2
	}
	if size&(size-1) != 0 {
		n := size - 1
		n |= n >> 1
		n |= n >> 2
		n |= n >> 4
		n |= n >> 8
		n |= n >> 16
		n |= n >> 32
		size = n + 1
	}
	r := &RingBuffer[T]{
		mask:  size - 1,
		cells: make([]cell[T], size),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	for {
		tail := atomic.LoadUint64(&r.tail)
		c := &r.cells[tail&r.mask]
		seq := c.sequence.Load()
		switch diff := int64(seq) - int64(tail); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.tail, tail, tail+1) {
				c.data = item
				c.sequence.Store(tail + 1)
				return true
			}
		case diff < 0:
			return false // full
		}
	}
}

// Dequeue removes and returns the oldest item; ok is false if empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	for {
		head := atomic.LoadUint64(&r.head)
		c := &r.cells[head&r.mask]
		seq := c.sequence.Load()
		switch diff := int64(seq) - int64(head+1); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.head, head, head+1) {
				item := c.data
				c.sequence.Store(head + r.mask + 1)
				return item, true
			}
		case diff < 0:
			var zero T
			return zero, false // empty
		}
	}
}

// Len returns the number of items currently buffered.
func (r *RingBuffer[T]) Len() int {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	return int(tail - head)
}

// Cap returns the fixed buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.cells)
}
