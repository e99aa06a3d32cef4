// Package monitor implements the Monitor Process (C9): an external
// watcher over a session's heartbeat counter, reclaiming shared objects
// left behind by devices that died or stopped ticking.
package monitor

import (
	"fmt"
	"log"

	"github.com/FairRootGroup/fairmq-go/internal/mgmt"
	"github.com/FairRootGroup/fairmq-go/internal/region"
	"github.com/FairRootGroup/fairmq-go/internal/segment"
)

var logger = log.New(log.Writer(), "[fairmq/monitor] ", log.LstdFlags)

// Cleanup removes every shared object belonging to shm id shmID: the
// managed segments on record, the management segment itself, every
// region's shared objects, and the session/monitor named mutexes. It is
// directly callable as a library function so the last-out transport
// factory destructor can perform the final sweep without requiring a
// running monitor process (§4.9 "Cleanup is also directly callable").
//
// Cleanup is best-effort and idempotent: every removal tolerates the
// object already being gone, since a concurrent cleanup call (monitor
// and a last-out destructor racing) must not be treated as an error.
func Cleanup(shmID string) {
	CleanupFull(shmID, nil)
}

// CleanupFull is Cleanup plus an opened, unopened-yet-readable management
// segment handle when the caller already has one (the monitor's own loop
// holds it open; a destructor calling CleanupFull on its own behalf may
// pass nil and let CleanupFull open it itself).
func CleanupFull(shmID string, ms *mgmt.ManagementSegment) {
	owned := ms == nil
	if owned {
		opened, err := mgmt.OpenOrCreate(shmID, "", 0)
		if err != nil {
			logger.Printf("cleanup %s: cannot open management segment, removing bare names: %v", shmID, err)
			cleanupBareNames(shmID)
			return
		}
		ms = opened
	}

	for _, seg := range ms.GetSegmentInfo() {
		name := fmt.Sprintf("fmq_%s_m_%d", shmID, seg.ID)
		if err := segment.RemoveRaw(name); err != nil {
			logger.Printf("cleanup %s: remove segment %s: %v", shmID, name, err)
		}
	}

	for _, ri := range ms.GetRegionInfo() {
		region.RemoveRegionObjects(shmID, ri.ID, ri.Path)
	}

	if owned {
		_ = ms.Close(true)
	}

	cleanupNamedMutexes(shmID)
}

// cleanupBareNames is the degraded path when the management segment
// itself cannot be opened (already removed, or never existed): it still
// removes the well-known management segment and mutex names so a sweep
// started after a partial prior cleanup converges.
func cleanupBareNames(shmID string) {
	_ = segment.RemoveRaw(fmt.Sprintf("fmq_%s_mng", shmID))
	cleanupNamedMutexes(shmID)
}

func cleanupNamedMutexes(shmID string) {
	_ = mgmt.Remove(fmt.Sprintf("fmq_%s_mtx", shmID))
	_ = mgmt.Remove(fmt.Sprintf("fmq_%s_ms", shmID))
}
