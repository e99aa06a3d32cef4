//go:build linux

package segment

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm/"

func mapBacking(name string, size uint64) (raw []byte, created bool, closer func() error, err error) {
	path := shmDir + name

	fd, createErr := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if createErr == nil {
		created = true
		if err = unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, false, nil, fmt.Errorf("ftruncate %s: %w", path, err)
		}
	} else if createErr == unix.EEXIST {
		fd, err = unix.Open(path, unix.O_RDWR, 0600)
		if err != nil {
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
	if err != nil {
		unix.Close(fd)
		return nil, false, nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	unix.Close(fd) // mapping keeps the pages alive past fd close

	return mem, created, func() error { return unix.Munmap(mem) }, nil
}

func removeBacking(name string) error {
	err := unix.Unlink(shmDir + name)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func lockPages(mem []byte) error {
	return unix.Mlock(mem)
}
