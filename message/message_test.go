package message_test

import (
	"fmt"
	"testing"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/region"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
	"github.com/FairRootGroup/fairmq-go/message"
)

// testManager is a minimal message.Manager backed by a single segment
// and a single region, enough to exercise Message's full lifecycle
// without a transport factory.
type testManager struct {
	seg      *segment.Segment
	regions  map[uint32]*region.Region
	msgCount int
}

func newTestManager(t *testing.T, segSize uint64) *testManager {
	t.Helper()
	name := fmt.Sprintf("fairmq_test_msg_%s", t.Name())
	s, err := segment.OpenOrCreate(name, 0, segSize, segment.OpenOrCreateOptions{Algorithm: api.RBTreeBestFit})
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	t.Cleanup(func() { s.Close(true) })
	return &testManager{seg: s, regions: make(map[uint32]*region.Region)}
}

func (m *testManager) Segment(segmentID uint16) (*segment.Segment, error) { return m.seg, nil }
func (m *testManager) DefaultSegmentID() uint16                           { return m.seg.ID() }
func (m *testManager) Allocate(size, alignment uint64, segmentID uint16) (uint64, error) {
	return m.seg.Allocate(size, alignment, 1, 0, nil)
}
func (m *testManager) Region(regionID uint32) (*region.Region, bool) {
	r, ok := m.regions[regionID]
	return r, ok
}
func (m *testManager) RegionGeneration() uint64 { return uint64(len(m.regions)) }
func (m *testManager) IncrementMsgCounter()      { m.msgCount++ }
func (m *testManager) DecrementMsgCounter()      { m.msgCount-- }

func (m *testManager) addRegion(t *testing.T, id uint32, size uint64) *region.Region {
	t.Helper()
	shmID := fmt.Sprintf("t%s%d", t.Name(), id)
	r, err := region.CreateAsController(shmID, id, size, region.Options{RemoveOnDestruction: true})
	if err != nil {
		t.Fatalf("CreateAsController: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	m.regions[id] = r
	return r
}

func TestNewEmptyMessage(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	msg := message.NewEmpty(mgr)
	defer msg.Close()

	if msg.Size() != 0 {
		t.Fatalf("expected empty message size 0, got %d", msg.Size())
	}
	if mgr.msgCount != 1 {
		t.Fatalf("expected msgCount 1, got %d", mgr.msgCount)
	}
}

func TestNewSizedWriteReadRoundTrip(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	msg, err := message.NewSized(mgr, 11)
	if err != nil {
		t.Fatalf("NewSized: %v", err)
	}
	defer msg.Close()

	copy(msg.GetData(), "hello world")
	if string(msg.GetData()) != "hello world" {
		t.Fatalf("got %q", msg.GetData())
	}
	if msg.GetRefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", msg.GetRefCount())
	}
}

func TestCopySharesManagedBufferAndIncrementsRefCount(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	src, err := message.NewSized(mgr, 5)
	if err != nil {
		t.Fatalf("NewSized: %v", err)
	}
	defer src.Close()
	copy(src.GetData(), "abcde")

	dst := message.NewEmpty(mgr)
	dst.Copy(src)
	defer dst.Close()

	if string(dst.GetData()) != "abcde" {
		t.Fatalf("copy did not share data, got %q", dst.GetData())
	}
	if src.GetRefCount() != 2 {
		t.Fatalf("expected refcount 2 after Copy, got %d", src.GetRefCount())
	}

	dst.Close()
	if src.GetRefCount() != 1 {
		t.Fatalf("expected refcount 1 after dst.Close, got %d", src.GetRefCount())
	}
}

func TestSetUsedSizeShrinksWithoutRealloc(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	msg, err := message.NewSized(mgr, 64)
	if err != nil {
		t.Fatalf("NewSized: %v", err)
	}
	defer msg.Close()
	copy(msg.GetData(), []byte("0123456789"))

	if !msg.SetUsedSize(10) {
		t.Fatal("expected SetUsedSize to succeed")
	}
	if msg.Size() != 10 {
		t.Fatalf("expected size 10, got %d", msg.Size())
	}
	if string(msg.GetData()) != "0123456789" {
		t.Fatalf("expected data preserved, got %q", msg.GetData())
	}
}

func TestSetUsedSizeRejectsGrowth(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	msg, err := message.NewSized(mgr, 8)
	if err != nil {
		t.Fatalf("NewSized: %v", err)
	}
	defer msg.Close()
	if msg.SetUsedSize(16) {
		t.Fatal("expected SetUsedSize to reject growth")
	}
}

func TestNewFromRegionRejectsForeignData(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	reg := mgr.addRegion(t, 1, 4096)

	foreign := make([]byte, 16)
	if _, err := message.NewFromRegion(mgr, reg, foreign, 0); err == nil {
		t.Fatal("expected rejection of data outside the region")
	}

	inRegion := reg.Bytes(0, 16)
	msg, err := message.NewFromRegion(mgr, reg, inRegion, 42)
	if err != nil {
		t.Fatalf("NewFromRegion: %v", err)
	}
	defer msg.Close()
	if msg.IsManaged() {
		t.Fatal("expected unmanaged message")
	}
	if msg.Hint() != 42 {
		t.Fatalf("expected hint 42, got %d", msg.Hint())
	}
}

func TestCloseDeallocatesManagedBuffer(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	before := mgr.seg.FreeBytes()

	msg, err := message.NewSized(mgr, 128)
	if err != nil {
		t.Fatalf("NewSized: %v", err)
	}
	if mgr.seg.FreeBytes() >= before {
		t.Fatal("expected free bytes to shrink after allocation")
	}
	msg.Close()
	if mgr.seg.FreeBytes() != before {
		t.Fatalf("expected free bytes restored after Close, got %d want %d", mgr.seg.FreeBytes(), before)
	}
}

func TestMarkQueuedMakesCloseANoOp(t *testing.T) {
	mgr := newTestManager(t, 1<<20)
	before := mgr.seg.FreeBytes()

	msg, err := message.NewSized(mgr, 128)
	if err != nil {
		t.Fatalf("NewSized: %v", err)
	}
	msg.MarkQueued()
	msg.Close()
	if mgr.seg.FreeBytes() == before {
		t.Fatal("expected queued message to retain its allocation after Close")
	}
}
