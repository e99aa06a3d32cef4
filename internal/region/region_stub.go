//go:build !linux

package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapFileBackedRegion falls back to an anonymous mapping on platforms
// without a /dev/shm convention; see internal/segment/segment_stub.go
// for the same tradeoff.
func mapFileBackedRegion(path string, size uint64) (raw []byte, created bool, closer func() error, err error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, false, nil, fmt.Errorf("anon mmap %s: %w", path, err)
	}
	return mem, true, func() error { return unix.Munmap(mem) }, nil
}
