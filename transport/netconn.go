// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"
	"syscall"
	"time"
)

// NetConn adapts a net.Conn to api.NetConn, the narrow read/write/close
// plus deadline surface Socket drives its timed loops against (§4.7, §5).
type NetConn struct {
	conn net.Conn
	fd   uintptr
}

// NewNetConn wraps conn. fd, if the underlying conn exposes one via
// syscall.Conn (TCP/Unix), backs RawFD for the epoll-based Poller (C11);
// otherwise RawFD reports ^uintptr(0).
func NewNetConn(conn net.Conn) *NetConn {
	n := &NetConn{conn: conn, fd: ^uintptr(0)}
	if sc, ok := conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			_ = raw.Control(func(fd uintptr) { n.fd = fd })
		}
	}
	return n
}

// Read is a direct passthrough: Socket always supplies its own buffer,
// so there is no buffer-pool acquisition step to intercept here.
func (n *NetConn) Read(buf []byte) (int, error) { return n.conn.Read(buf) }

// Write is Read's passthrough counterpart.
func (n *NetConn) Write(buf []byte) (int, error) { return n.conn.Write(buf) }

// Close closes the underlying connection.
func (n *NetConn) Close() error { return n.conn.Close() }

// SetReadDeadline bounds the next Read (§5 soft-timeout loops).
func (n *NetConn) SetReadDeadline(t time.Time) error { return n.conn.SetReadDeadline(t) }

// SetWriteDeadline bounds the next Write.
func (n *NetConn) SetWriteDeadline(t time.Time) error { return n.conn.SetWriteDeadline(t) }

// RawFD exposes the underlying descriptor for the epoll-backed Poller
// (C11), or ^uintptr(0) if the connection has none.
func (n *NetConn) RawFD() uintptr { return n.fd }
