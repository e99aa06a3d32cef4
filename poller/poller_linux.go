//go:build linux

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/FairRootGroup/fairmq-go/api"
)

// Poller multiplexes readiness across an ordered set of sockets via
// epoll. Duplicate channel names are rejected at construction; an
// unknown name passed to CheckInputChannel/CheckOutputChannel is a
// configuration error returned by that call.
type Poller struct {
	epfd   int
	slots  []slot
	byName map[string]int
}

// New builds a Poller over targets, in order; CheckInput/CheckOutput by
// index refer to this order. Duplicate names are a construction error.
func New(targets []Target) (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, api.NewTransportError(fmt.Sprintf("poller: epoll_create1: %v", err))
	}

	slots, byName, err := buildSlotsAndIndex(targets)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	for _, s := range slots {
		ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: s.fd}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(s.fd), &ev); err != nil {
			unix.Close(epfd)
			return nil, api.NewTransportError(fmt.Sprintf("poller: epoll_ctl add fd %d: %v", s.fd, err))
		}
	}
	return &Poller{epfd: epfd, slots: slots, byName: byName}, nil
}

// Poll blocks up to timeoutMs (negative means block indefinitely) and
// refreshes the readiness snapshot queried by CheckInput/CheckOutput.
func (p *Poller) Poll(timeoutMs int) error {
	for i := range p.slots {
		p.slots[i].readable = false
		p.slots[i].writable = false
		p.slots[i].errored = false
	}
	if len(p.slots) == 0 {
		return nil
	}

	events := make([]unix.EpollEvent, len(p.slots))
	n, err := unix.EpollWait(p.epfd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return api.NewTransportError(fmt.Sprintf("poller: epoll_wait: %v", err))
	}

	byFD := make(map[int32]int, len(p.slots))
	for i, s := range p.slots {
		byFD[s.fd] = i
	}
	for i := 0; i < n; i++ {
		ev := events[i]
		idx, ok := byFD[ev.Fd]
		if !ok {
			continue
		}
		if ev.Events&unix.EPOLLIN != 0 {
			p.slots[idx].readable = true
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			p.slots[idx].writable = true
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			p.slots[idx].errored = true
		}
	}
	return nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
