package monitor_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/mgmt"
	"github.com/FairRootGroup/fairmq-go/internal/region"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
	"github.com/FairRootGroup/fairmq-go/monitor"
)

func testShmID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("mtest%d", len(t.Name()))
}

func TestNewRejectsSecondMonitorOnSameSession(t *testing.T) {
	shmID := testShmID(t)
	opts := monitor.DefaultOptions(shmID)

	m1, err := monitor.New(opts)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	t.Cleanup(func() { segment.RemoveRaw(fmt.Sprintf("fmq_%s_mng", shmID)) })
	defer func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = m1.Run(ctx)
	}()

	if _, err := monitor.New(opts); err == nil {
		t.Fatalf("expected second monitor on %s to fail claiming the presence mutex", shmID)
	}
}

func TestRunSelfDestructsAfterStaleCleanup(t *testing.T) {
	shmID := testShmID(t)

	ms, err := mgmt.OpenOrCreate(shmID, "monitor-test", 1000)
	if err != nil {
		t.Fatalf("OpenOrCreate management segment: %v", err)
	}

	segName := fmt.Sprintf("fmq_%s_m_0", shmID)
	seg, err := segment.OpenOrCreate(segName, 0, 1<<16, segment.OpenOrCreateOptions{Algorithm: api.RBTreeBestFit})
	if err != nil {
		t.Fatalf("create managed segment: %v", err)
	}
	seg.Close(false)
	if err := ms.RegisterSegment(mgmt.SegmentInfo{ID: 0, Algorithm: api.RBTreeBestFit}); err != nil {
		t.Fatalf("RegisterSegment: %v", err)
	}

	regionID := ms.NextRegionID()
	rg, err := region.CreateAsController(shmID, regionID, 4096, region.Options{RCSegmentSize: 4096})
	if err != nil {
		t.Fatalf("CreateAsController: %v", err)
	}
	rg.Close()
	if err := ms.RegisterRegion(mgmt.RegionInfo{ID: regionID, Size: 4096, RCSegmentSize: 4096}); err != nil {
		t.Fatalf("RegisterRegion: %v", err)
	}
	ms.Close(false)

	opts := monitor.DefaultOptions(shmID)
	opts.TimeoutMs = 0 // stale on the very first tick
	opts.IntervalMs = 5
	opts.SelfDestruct = true

	m, err := monitor.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat("/dev/shm/" + segName); err == nil {
		t.Fatalf("expected managed segment %s to be removed by cleanup", segName)
	}
	regionObj, ackQueue, rcSegment := region.Names(shmID, regionID)
	for _, name := range []string{regionObj, ackQueue, rcSegment} {
		if _, err := os.Stat("/dev/shm/" + name); err == nil {
			t.Fatalf("expected region object %s to be removed by cleanup", name)
		}
	}
}

func TestRunRespectsViewOnly(t *testing.T) {
	shmID := testShmID(t)

	ms, err := mgmt.OpenOrCreate(shmID, "monitor-viewonly-test", 1000)
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	segName := fmt.Sprintf("fmq_%s_m_0", shmID)
	seg, err := segment.OpenOrCreate(segName, 0, 1<<16, segment.OpenOrCreateOptions{Algorithm: api.RBTreeBestFit})
	if err != nil {
		t.Fatalf("create managed segment: %v", err)
	}
	seg.Close(false)
	if err := ms.RegisterSegment(mgmt.SegmentInfo{ID: 0, Algorithm: api.RBTreeBestFit}); err != nil {
		t.Fatalf("RegisterSegment: %v", err)
	}
	ms.Close(false)
	defer segment.RemoveRaw(fmt.Sprintf("fmq_%s_mng", shmID))
	defer segment.RemoveRaw(segName)

	opts := monitor.DefaultOptions(shmID)
	opts.TimeoutMs = 0
	opts.IntervalMs = 5
	opts.ViewOnly = true

	m, err := monitor.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	if _, err := os.Stat("/dev/shm/" + segName); err != nil {
		t.Fatalf("expected view-only monitor to leave the managed segment in place: %v", err)
	}
}

func TestRecordDeviceHeartbeatFeedsDebugInfo(t *testing.T) {
	shmID := testShmID(t)
	opts := monitor.DefaultOptions(shmID)
	m, err := monitor.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { segment.RemoveRaw(fmt.Sprintf("fmq_%s_mng", shmID)) })
	defer func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = m.Run(ctx)
	}()

	m.RecordDeviceHeartbeat("device-a", 1)
	m.RecordDeviceHeartbeat("device-b", 1)

	info := m.GetDebugInfo()
	if len(info.RecentDevices) != 2 {
		t.Fatalf("expected 2 recorded devices, got %d (%v)", len(info.RecentDevices), info.RecentDevices)
	}
}
