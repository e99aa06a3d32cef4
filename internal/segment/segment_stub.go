//go:build !linux

package segment

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Non-Linux builds have no /dev/shm convention; mappings are anonymous
// and process-local, which is adequate for tests but not true IPC — the
// shared-memory fast path is a Linux feature in this design, matching
// the teacher's own platform split (bufferpool_linux.go vs
// bufferpool_windows.go).
var anonMu sync.Mutex
var anonSegments = map[string][]byte{}

func mapBacking(name string, size uint64) (raw []byte, created bool, closer func() error, err error) {
	anonMu.Lock()
	defer anonMu.Unlock()

	if existing, ok := anonSegments[name]; ok {
		return existing, false, func() error { return nil }, nil
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, false, nil, fmt.Errorf("anon mmap %s: %w", name, err)
	}
	anonSegments[name] = mem
	return mem, true, func() error { return unix.Munmap(mem) }, nil
}

func removeBacking(name string) error {
	anonMu.Lock()
	defer anonMu.Unlock()
	delete(anonSegments, name)
	return nil
}

func lockPages(mem []byte) error {
	return unix.Mlock(mem)
}
