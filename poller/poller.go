// Package poller implements the Poller (C11): readiness multiplexing
// over an ordered set of sockets, indexed by position or channel name.
// Grounded on reactor/epoll_reactor.go's Register/Poll/Close shape,
// generalized from per-fd callbacks to a readiness snapshot queried by
// CheckInput/CheckOutput. Linux uses epoll directly (poller_linux.go);
// other platforms get a portable fallback (poller_stub.go), matching the
// segment/region packages' linux/stub split.
package poller

import (
	"fmt"

	"github.com/FairRootGroup/fairmq-go/api"
)

// FDProvider is the minimal socket surface the poller needs; satisfied
// by *socket.Socket.
type FDProvider interface {
	RawFD() uintptr
}

// Target names one socket to poll, by its channel name (§4.11 "a flat
// vector or a channel-name+index map").
type Target struct {
	Name string
	Sock FDProvider
}

type slot struct {
	fd       int32
	readable bool
	writable bool
	errored  bool
}

func buildSlotsAndIndex(targets []Target) ([]slot, map[string]int, error) {
	slots := make([]slot, len(targets))
	byName := make(map[string]int, len(targets))
	for i, t := range targets {
		slots[i] = slot{fd: int32(t.Sock.RawFD())}
		if t.Name == "" {
			continue
		}
		if _, dup := byName[t.Name]; dup {
			return nil, nil, api.NewTransportError(fmt.Sprintf("poller: duplicate channel name %q", t.Name))
		}
		byName[t.Name] = i
	}
	return slots, byName, nil
}

// CheckInput reports whether the socket at index i was readable after
// the last Poll.
func (p *Poller) CheckInput(i int) bool {
	if i < 0 || i >= len(p.slots) {
		return false
	}
	return p.slots[i].readable
}

// CheckOutput reports whether the socket at index i was writable after
// the last Poll.
func (p *Poller) CheckOutput(i int) bool {
	if i < 0 || i >= len(p.slots) {
		return false
	}
	return p.slots[i].writable
}

// CheckInputChannel is CheckInput addressed by channel name (§4.11
// "Invalid channel keys are a fatal configuration error").
func (p *Poller) CheckInputChannel(name string) (bool, error) {
	i, ok := p.byName[name]
	if !ok {
		return false, api.NewTransportError(fmt.Sprintf("poller: unknown channel %q", name))
	}
	return p.slots[i].readable, nil
}

// CheckOutputChannel is CheckOutput addressed by channel name.
func (p *Poller) CheckOutputChannel(name string) (bool, error) {
	i, ok := p.byName[name]
	if !ok {
		return false, api.NewTransportError(fmt.Sprintf("poller: unknown channel %q", name))
	}
	return p.slots[i].writable, nil
}
