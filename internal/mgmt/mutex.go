package mgmt

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NamedMutex is an inter-process mutex implemented over an advisory file
// lock (§4.3 "a single named inter-process mutex"; §4.9 "fmq_<S>_ms"
// monitor-presence mutex). Linux exposes no named-mutex primitive the way
// boost::interprocess::named_mutex does, so flock on a well-known path is
// the idiomatic substitute — the same syscall-first style the teacher
// reaches for in its platform-split reactor files.
type NamedMutex struct {
	path string
	fd   int
}

// OpenNamedMutex opens (creating if absent) the lock file for name under
// /tmp. The returned mutex is not yet held; call Lock/TryLock.
func OpenNamedMutex(name string) (*NamedMutex, error) {
	path := fmt.Sprintf("/tmp/%s.lock", name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, fmt.Errorf("open mutex file %s: %w", path, err)
	}
	return &NamedMutex{path: path, fd: fd}, nil
}

// Lock blocks until the mutex is acquired.
func (m *NamedMutex) Lock() error {
	return unix.Flock(m.fd, unix.LOCK_EX)
}

// TryLock attempts to acquire the mutex without blocking. Its presence
// (successful creation + exclusive open) is what advertises the
// monitor-presence mutex to other processes (§4.9).
func (m *NamedMutex) TryLock() (bool, error) {
	err := unix.Flock(m.fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases the mutex.
func (m *NamedMutex) Unlock() error {
	return unix.Flock(m.fd, unix.LOCK_UN)
}

// Close releases the file descriptor. It does not remove the lock file —
// removal is the monitor's cleanup responsibility.
func (m *NamedMutex) Close() error {
	return unix.Close(m.fd)
}

// Remove deletes the lock file, used by cleanup paths (§4.9 "RemoveMutex").
func Remove(name string) error {
	err := os.Remove(fmt.Sprintf("/tmp/%s.lock", name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
