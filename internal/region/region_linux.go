//go:build linux

package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapFileBackedRegion backs an unmanaged region with a filesystem path
// instead of /dev/shm (§4.5, SUPPLEMENTED FEATURES #4: huge-page or
// device-mapped memory use case).
func mapFileBackedRegion(path string, size uint64) (raw []byte, created bool, closer func() error, err error) {
	fd, createErr := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if createErr == nil {
		created = true
		if err = unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, false, nil, fmt.Errorf("ftruncate %s: %w", path, err)
		}
	} else if createErr == unix.EEXIST {
		if fd, err = unix.Open(path, unix.O_RDWR, 0600); err != nil {
			return nil, false, nil, fmt.Errorf("open %s: %w", path, err)
		}
		var st unix.Stat_t
		if err = unix.Fstat(fd, &st); err != nil {
			unix.Close(fd)
			return nil, false, nil, fmt.Errorf("fstat %s: %w", path, err)
		}
		size = uint64(st.Size)
	} else {
		return nil, false, nil, fmt.Errorf("open %s: %w", path, createErr)
	}

	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, false, nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return mem, created, func() error { return unix.Munmap(mem) }, nil
}
