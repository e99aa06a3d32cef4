package mgmt_test

import (
	"fmt"
	"testing"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/mgmt"
)

func newTestMgmt(t *testing.T) *mgmt.ManagementSegment {
	t.Helper()
	shmID := fmt.Sprintf("test%d", len(t.Name()))
	m, err := mgmt.OpenOrCreate(shmID, "unit-test-session", 1000)
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	t.Cleanup(func() { m.Close(true) })
	return m
}

func TestDeviceCounterLifecycle(t *testing.T) {
	m := newTestMgmt(t)
	if got := m.IncrDeviceCounter(); got != 1 {
		t.Fatalf("expected device counter 1, got %d", got)
	}
	if got := m.IncrDeviceCounter(); got != 2 {
		t.Fatalf("expected device counter 2, got %d", got)
	}
	if got := m.DecrDeviceCounter(); got != 1 {
		t.Fatalf("expected device counter 1 after decrement, got %d", got)
	}
}

func TestRegionRegistryRoundTrip(t *testing.T) {
	m := newTestMgmt(t)
	id := m.NextRegionID()
	if err := m.RegisterRegion(mgmt.RegionInfo{ID: id, Size: 1024, UserFlags: 7}); err != nil {
		t.Fatalf("RegisterRegion: %v", err)
	}
	infos := m.GetRegionInfo()
	if len(infos) != 1 || infos[0].ID != id || infos[0].Size != 1024 {
		t.Fatalf("unexpected region info: %+v", infos)
	}

	m.MarkRegionDestroyed(id)
	infos = m.GetRegionInfo()
	if !infos[0].Destroyed {
		t.Fatalf("expected region to be marked destroyed")
	}

	m.RemoveRegion(id)
	if len(m.GetRegionInfo()) != 0 {
		t.Fatalf("expected region table empty after RemoveRegion")
	}
}

func TestSegmentAlgorithmHonorsFirstRegistration(t *testing.T) {
	m := newTestMgmt(t)
	if err := m.RegisterSegment(mgmt.SegmentInfo{ID: 0, Algorithm: api.SimpleSeqFit}); err != nil {
		t.Fatalf("RegisterSegment: %v", err)
	}
	// Re-registering the same id with a different algorithm must not
	// overwrite the recorded one (§4.2 "honor the present algorithm").
	if err := m.RegisterSegment(mgmt.SegmentInfo{ID: 0, Algorithm: api.RBTreeBestFit}); err != nil {
		t.Fatalf("RegisterSegment (re-register): %v", err)
	}
	algo, ok := m.SegmentAlgorithm(0)
	if !ok || algo != api.SimpleSeqFit {
		t.Fatalf("expected recorded algorithm SimpleSeqFit, got %v (ok=%v)", algo, ok)
	}
}

func TestHeartbeatAdvances(t *testing.T) {
	m := newTestMgmt(t)
	before := m.Heartbeat()
	m.TickHeartbeat()
	if m.Heartbeat() != before+1 {
		t.Fatalf("expected heartbeat to advance by 1")
	}
}

func TestNamedMutexMutualExclusion(t *testing.T) {
	a, err := mgmt.OpenNamedMutex("fairmq_test_mutex_excl")
	if err != nil {
		t.Fatalf("OpenNamedMutex: %v", err)
	}
	defer a.Close()
	defer mgmt.Remove("fairmq_test_mutex_excl")

	b, err := mgmt.OpenNamedMutex("fairmq_test_mutex_excl")
	if err != nil {
		t.Fatalf("OpenNamedMutex (second handle): %v", err)
	}
	defer b.Close()

	if err := a.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	ok, err := b.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		t.Fatalf("expected TryLock to fail while a holds the lock")
	}
	if err := a.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = b.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected TryLock to succeed after a unlocks: ok=%v err=%v", ok, err)
	}
	b.Unlock()
}
