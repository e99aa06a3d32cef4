package api

import (
	"context"
	"time"
)

// NetConn abstracts a full-duplex stream connection carrying only metadata
// bytes (§4.7, §6 "Wire format on a sub-socket"). Backed by a plain
// net.Conn or a raw fd depending on platform. Soft timeout loops (§5) are
// built from SetReadDeadline rather than a busy-sleep around a blocking
// Read, the idiomatic Go way to bound I/O latency.
type NetConn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	// SetReadDeadline bounds the next Read call; matches net.Conn.
	SetReadDeadline(t time.Time) error
	// SetWriteDeadline bounds the next Write call; matches net.Conn.
	SetWriteDeadline(t time.Time) error
	// RawFD returns the underlying OS-level file descriptor, or ^uintptr(0)
	// if the connection has none (used by the epoll-backed poller).
	RawFD() uintptr
}

// Worker is the common shape of every background thread the core owns:
// heartbeat, ack sender/receiver, region events (§5 "Threads created by
// the core"). Run blocks until ctx is done or the worker decides to stop
// on its own and must be safe to call exactly once.
type Worker interface {
	Run(ctx context.Context) error
}

// Cancelable is returned by subscription-style APIs (region events,
// scheduled retries) so the caller can tear them down explicitly.
type Cancelable interface {
	// Cancel aborts the operation/subscription if still active.
	Cancel() error
	// Done returns a channel closed when the operation completes or is canceled.
	Done() <-chan struct{}
}
