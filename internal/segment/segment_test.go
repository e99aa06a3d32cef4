package segment_test

import (
	"fmt"
	"testing"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
)

func newTestSegment(t *testing.T, size uint64) *segment.Segment {
	t.Helper()
	name := fmt.Sprintf("fairmq_test_%s", t.Name())
	s, err := segment.OpenOrCreate(name, 0, size, segment.OpenOrCreateOptions{
		Algorithm: api.RBTreeBestFit,
	})
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	t.Cleanup(func() { s.Close(true) })
	return s
}

func TestAllocateDeallocateReturnsFreeBytes(t *testing.T) {
	s := newTestSegment(t, 1<<20)
	before := s.FreeBytes()

	h, err := s.Allocate(1024, 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if s.FreeBytes() >= before {
		t.Fatalf("expected free bytes to shrink after allocate")
	}

	s.Deallocate(h)
	if s.FreeBytes() != before {
		t.Fatalf("expected free bytes to return to %d, got %d", before, s.FreeBytes())
	}
}

func TestAllocateWritesZeroCopyBytes(t *testing.T) {
	s := newTestSegment(t, 1<<20)
	h, err := s.Allocate(5, 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := s.Bytes(h, 5)
	copy(buf, "Hello")

	again := s.Bytes(h, 5)
	if string(again) != "Hello" {
		t.Fatalf("expected zero-copy view to reflect write, got %q", again)
	}
}

func TestBadAllocWhenOversized(t *testing.T) {
	s := newTestSegment(t, 4096)
	if _, err := s.Allocate(1<<20, 8, 1, 0, nil); err == nil {
		t.Fatal("expected BadAlloc for an over-sized request")
	}
}

func TestRefCountLifecycle(t *testing.T) {
	s := newTestSegment(t, 1<<20)
	h, err := s.Allocate(64, 8, 1, 0, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	hdr := s.Header(h)
	if hdr.Load() != 1 {
		t.Fatalf("expected initial refcount 1, got %d", hdr.Load())
	}
	if hdr.Incr() != 2 {
		t.Fatalf("expected refcount 2 after Incr")
	}
	if hdr.Decr() != 1 {
		t.Fatalf("expected refcount 1 after Decr")
	}
}

func TestFragmentationCoalescesOnDeallocate(t *testing.T) {
	s := newTestSegment(t, 1<<16)
	before := s.FreeBytes()

	var handles []uint64
	for i := 0; i < 4; i++ {
		h, err := s.Allocate(256, 8, 1, 0, nil)
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		s.Deallocate(h)
	}
	if s.FreeBytes() != before {
		t.Fatalf("expected coalesced free bytes %d, got %d", before, s.FreeBytes())
	}
}
