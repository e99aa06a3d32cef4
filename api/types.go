// Package api holds cross-cutting, dependency-free types and contracts
// shared by the transport, segment, region, message and monitor packages.
package api

import "time"

// Transport identifies the wire transport backing a Socket/Message pair.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportSHM
	TransportDefault // plain stream sockets, payload on the wire (out of scope core, same contract)
)

func (t Transport) String() string {
	switch t {
	case TransportSHM:
		return "shmem"
	case TransportDefault:
		return "default"
	default:
		return "unknown"
	}
}

// SocketType enumerates the supported messaging patterns (§4.7). pub/sub is
// intentionally absent: the shared-memory transport rejects it at socket
// construction since its "payload" is a handle, not a byte stream, and
// multicast sharing of references is not defined.
type SocketType int

const (
	Push SocketType = iota
	Pull
	Req
	Rep
	Pair
)

func (t SocketType) String() string {
	switch t {
	case Push:
		return "push"
	case Pull:
		return "pull"
	case Req:
		return "req"
	case Rep:
		return "rep"
	case Pair:
		return "pair"
	default:
		return "unknown"
	}
}

// AllocAlgorithm selects the managed-segment allocator strategy (§4.2, §6).
type AllocAlgorithm int

const (
	RBTreeBestFit AllocAlgorithm = iota
	SimpleSeqFit
)

func (a AllocAlgorithm) String() string {
	if a == SimpleSeqFit {
		return "simple_seq_fit"
	}
	return "rbtree_best_fit"
}

// Default timeouts and intervals, §5 "Timeouts, defaults".
const (
	DefaultSocketLoop        = 100 * time.Millisecond
	DefaultAckQueueLinger    = 100 * time.Millisecond
	DefaultBadAllocInterval  = 50 * time.Millisecond
	DefaultHeartbeatPeriod   = 100 * time.Millisecond
	DefaultMonitorTimeout    = 2000 * time.Millisecond
	DefaultMonitorInterval   = 500 * time.Millisecond
	DefaultMonitorSpawnGrace = 10 * time.Second
)
