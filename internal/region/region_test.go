package region_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/FairRootGroup/fairmq-go/internal/region"
	"github.com/FairRootGroup/fairmq-go/internal/wire"
)

func TestControllerReceivesReleasedBlocksInBunches(t *testing.T) {
	shmID := fmt.Sprintf("t%d", time.Now().UnixNano()%1_000_000)

	var mu sync.Mutex
	var received []wire.RegionBlock
	done := make(chan struct{})

	ctrl, err := region.CreateAsController(shmID, 1, 10_000_000, region.Options{
		RemoveOnDestruction: true,
		BulkCallback: func(blocks []wire.RegionBlock) {
			mu.Lock()
			received = append(received, blocks...)
			n := len(received)
			mu.Unlock()
			if n >= 5 {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("CreateAsController: %v", err)
	}
	defer ctrl.Close()

	viewer, err := region.OpenAsViewer(shmID, 1, 10_000_000, region.Options{})
	if err != nil {
		t.Fatalf("OpenAsViewer: %v", err)
	}
	defer viewer.Close()

	want := []wire.RegionBlock{
		{Handle: 0, Size: 2_000_000, Hint: 0},
		{Handle: 2_000_000, Size: 2_000_000, Hint: 1},
		{Handle: 4_000_000, Size: 2_000_000, Hint: 2},
		{Handle: 6_000_000, Size: 2_000_000, Hint: 3},
		{Handle: 8_000_000, Size: 2_000_000, Hint: 4},
	}
	for _, b := range want {
		viewer.ReleaseBlock(b)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all blocks to be acked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(want), len(received), received)
	}
	for i, b := range want {
		if received[i] != b {
			t.Fatalf("block %d mismatch: got %+v want %+v", i, received[i], b)
		}
	}
}

func TestRegionBytesRoundTrip(t *testing.T) {
	shmID := fmt.Sprintf("t%d", time.Now().UnixNano()%1_000_000+1)
	ctrl, err := region.CreateAsController(shmID, 2, 4096, region.Options{RemoveOnDestruction: true})
	if err != nil {
		t.Fatalf("CreateAsController: %v", err)
	}
	defer ctrl.Close()

	buf := ctrl.Bytes(0, 5)
	copy(buf, "Hello")
	again := ctrl.Bytes(0, 5)
	if string(again) != "Hello" {
		t.Fatalf("expected %q, got %q", "Hello", again)
	}
}
