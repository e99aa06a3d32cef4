// Package socket implements the metadata-only Socket (C7): Send/Receive
// transmit nothing but MetaHeader descriptors over a stream transport,
// while the actual payload bytes stay put in the managed segment or an
// unmanaged region. Grounded on protocol/connection.go's loop shape.
package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/concurrency"
	"github.com/FairRootGroup/fairmq-go/internal/wire"
	"github.com/FairRootGroup/fairmq-go/message"
)

// Interrupter reports the transport factory's sticky interrupt flag
// (§5 Cancellation) — Send/Receive loops poll it at loop-period
// granularity instead of owning their own flag.
type Interrupter interface {
	Interrupted() bool
}

// Options configures a Socket's wire behavior (§6 Configuration table).
type Options struct {
	Type            api.SocketType
	MetadataMsgSize int
	LoopPeriod      time.Duration // defaults to api.DefaultSocketLoop
	OutboxCapacity  uint64  // staging ring capacity for queued multi-part sends
	BufPool         BufPool // scratch buffers for single-frame Receive; defaults to a small internal pool
}

// Socket wraps a single stream connection carrying only MetaHeader bytes
// (§4.7). It rejects pub/sub at construction, per the spec's explicit
// non-goal for the shared-memory transport.
type Socket struct {
	conn    api.NetConn
	mgr     message.Manager
	interr  Interrupter
	opts    Options
	bufPool BufPool

	mu     sync.Mutex
	closed int32

	outbox *concurrency.RingBuffer[*message.Message]

	connectedPeers int32

	senderOnce sync.Once
	senderDone chan struct{}
}

// New constructs a Socket. pub/sub socket types are rejected immediately
// (§4.7 "Unsupported on the shared-memory transport").
func New(conn api.NetConn, mgr message.Manager, interr Interrupter, opts Options) (*Socket, error) {
	if opts.Type != api.Push && opts.Type != api.Pull && opts.Type != api.Req &&
		opts.Type != api.Rep && opts.Type != api.Pair {
		return nil, api.NewTransportError("unsupported socket type for the shared-memory transport")
	}
	if opts.LoopPeriod == 0 {
		opts.LoopPeriod = api.DefaultSocketLoop
	}
	if opts.OutboxCapacity == 0 {
		opts.OutboxCapacity = 256
	}
	bufPool := opts.BufPool
	if bufPool == nil {
		bufPool = newSimpleBufPool(8, wire.PaddedSize(opts.MetadataMsgSize))
	}
	return &Socket{
		conn: conn, mgr: mgr, interr: interr, opts: opts,
		outbox:  concurrency.NewRingBuffer[*message.Message](opts.OutboxCapacity),
		bufPool: bufPool,
	}, nil
}

func (s *Socket) isClosed() bool { return atomic.LoadInt32(&s.closed) == 1 }

// Close is idempotent and safe to call once per socket from one thread
// (§5 Cancellation).
func (s *Socket) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.conn.Close()
}

// timedLoop calls body repeatedly, each attempt bounded to at most
// s.opts.LoopPeriod via the conn's own read/write deadline (body is
// expected to arm that deadline itself), until body reports progress,
// the overall timeout (per timeoutMs's §4.7 semantics) elapses, or the
// factory's interrupt flag is observed. This is the idiomatic Go
// substitute for a busy-sleep loop around a blocking Read/Write: the
// deadline itself bounds each attempt, so interrupt/timeout checks run
// at exactly the loop-period granularity the spec requires (§5
// Suspension points) without a dedicated polling thread.
func (s *Socket) timedLoop(timeoutMs int, body func(attemptDeadline time.Time) (bool, error)) (api.TransferCode, int, error) {
	strictNonBlocking := timeoutMs == 0
	var overallDeadline time.Time
	hasOverallDeadline := timeoutMs > 0
	if hasOverallDeadline {
		overallDeadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	for {
		if s.isClosed() {
			return api.TransferError, 0, api.ErrClosed
		}
		if s.interr != nil && s.interr.Interrupted() {
			return api.TransferInterrupted, 0, nil
		}

		attemptDeadline := time.Now().Add(s.opts.LoopPeriod)
		if strictNonBlocking {
			attemptDeadline = time.Now()
		} else if hasOverallDeadline && overallDeadline.Before(attemptDeadline) {
			attemptDeadline = overallDeadline
		}

		done, err := body(attemptDeadline)
		if done {
			return api.TransferOK, 0, nil
		}
		if err != nil && !isTimeoutErr(err) {
			return api.TransferError, 0, err
		}
		if strictNonBlocking {
			return api.TransferTimeout, 0, nil
		}
		if hasOverallDeadline && !time.Now().Before(overallDeadline) {
			return api.TransferTimeout, 0, nil
		}
	}
}

// isTimeoutErr reports whether err is an I/O deadline expiry, the only
// error timedLoop treats as "retry", not "fail".
func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// Send transmits msg's MetaHeader and marks msg queued-for-send: the
// transport now owns reclamation of the underlying buffer (§3, §4.6).
// The wire format is a bare MetaHeader padded to MetadataMsgSize, per
// §6 "Wire format on a sub-socket" — no part-count prefix, unlike
// SendVec's framed vector.
func (s *Socket) Send(msg *message.Message, timeoutMs int) (api.TransferCode, int, error) {
	frame := make([]byte, wire.PaddedSize(s.opts.MetadataMsgSize))
	msg.MetaHeader().Put(frame)

	off := 0
	code, n, err := s.timedLoop(timeoutMs, func(deadline time.Time) (bool, error) {
		return s.writeChunk(frame, &off, deadline)
	})
	if code == api.TransferOK {
		msg.MarkQueued()
		return code, int(msg.Size()), nil
	}
	return code, n, err
}

// SendVec transmits a multi-part frame `[n | MetaHeader_1 .. MetaHeader_n]`
// atomically at the wire: either the whole frame lands or none of it
// (§5 Ordering). Every message is marked queued-for-send only once the
// write fully succeeds.
func (s *Socket) SendVec(msgs []*message.Message, timeoutMs int) (api.TransferCode, int, error) {
	headers := make([]wire.MetaHeader, len(msgs))
	total := 0
	for i, m := range msgs {
		headers[i] = m.MetaHeader()
		total += int(m.Size())
	}
	frame := wire.EncodeFrame(headers, s.opts.MetadataMsgSize)

	off := 0
	code, n, err := s.timedLoop(timeoutMs, func(deadline time.Time) (bool, error) {
		return s.writeChunk(frame, &off, deadline)
	})
	if code == api.TransferOK {
		for _, m := range msgs {
			m.MarkQueued()
		}
		return code, total, nil
	}
	return code, n, err
}

// Receive reads exactly one bare, padded MetaHeader (Send's wire
// counterpart — no part-count prefix) and returns a new Message
// reconstructed from it (§4.7).
func (s *Socket) Receive(timeoutMs int) (*message.Message, api.TransferCode, error) {
	wantLen := wire.PaddedSize(s.opts.MetadataMsgSize)
	buf := s.bufPool.Get()
	if len(buf) != wantLen {
		buf = make([]byte, wantLen)
	}
	defer s.bufPool.Put(buf)

	off := 0
	code, _, err := s.timedLoop(timeoutMs, func(deadline time.Time) (bool, error) {
		return s.readChunk(buf, &off, deadline)
	})
	if code != api.TransferOK {
		return nil, code, err
	}
	hdr, perr := wire.ParseMetaHeader(buf)
	if perr != nil {
		return nil, api.TransferError, api.NewMessageError("malformed single-part frame")
	}
	return message.NewFromMetaHeader(s.mgr, hdr), api.TransferOK, nil
}

// ReceiveVec reads a framed vector and allocates len(n) new Message
// wrappers filled from the headers (§4.7).
func (s *Socket) ReceiveVec(timeoutMs int) ([]*message.Message, api.TransferCode, error) {
	perMsg := wire.PaddedSize(s.opts.MetadataMsgSize)
	lenBuf := make([]byte, 8)

	off := 0
	code, _, err := s.timedLoop(timeoutMs, func(deadline time.Time) (bool, error) {
		return s.readChunk(lenBuf, &off, deadline)
	})
	if code != api.TransferOK {
		return nil, code, err
	}

	n := int(beUint64(lenBuf))
	body := make([]byte, n*perMsg)
	if len(body) > 0 {
		bodyOff := 0
		code, _, err := s.timedLoop(timeoutMs, func(deadline time.Time) (bool, error) {
			return s.readChunk(body, &bodyOff, deadline)
		})
		if code != api.TransferOK {
			return nil, code, err
		}
	}
	full := append(lenBuf, body...)
	headers, perr := wire.DecodeFrame(full, s.opts.MetadataMsgSize)
	if perr != nil {
		return nil, api.TransferError, api.NewMessageError("malformed multi-part frame")
	}
	msgs := make([]*message.Message, len(headers))
	for i, h := range headers {
		msgs[i] = message.NewFromMetaHeader(s.mgr, h)
	}
	return msgs, api.TransferOK, nil
}

// readChunk advances *off by reading into buf[*off:], bounded by
// deadline; returns done=true once buf is fully populated. A deadline
// expiry is reported through err so timedLoop's isTimeoutErr can treat
// it as "retry", not "fail".
func (s *Socket) readChunk(buf []byte, off *int, deadline time.Time) (bool, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}
	for *off < len(buf) {
		n, err := s.conn.Read(buf[*off:])
		*off += n
		if err != nil {
			return *off >= len(buf), err
		}
	}
	return true, nil
}

// writeChunk is readChunk's write-side counterpart.
func (s *Socket) writeChunk(buf []byte, off *int, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return false, err
	}
	for *off < len(buf) {
		n, err := s.conn.Write(buf[*off:])
		*off += n
		if err != nil {
			return *off >= len(buf), err
		}
	}
	return true, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// SetConnectedPeers is called by the poller/monitor-socket event loop
// to maintain the running count behind GetNumberOfConnectedPeers (§4.7).
func (s *Socket) SetConnectedPeers(n int32) { atomic.StoreInt32(&s.connectedPeers, n) }

// GetNumberOfConnectedPeers reports the last value observed by the
// transport's monitor socket events.
func (s *Socket) GetNumberOfConnectedPeers() int32 { return atomic.LoadInt32(&s.connectedPeers) }

// RawFD exposes the underlying descriptor for epoll-backed polling (C11).
func (s *Socket) RawFD() uintptr { return s.conn.RawFD() }

// QueueSend stages msg in the outbound ring for asynchronous delivery by
// the background sender started by StartAsyncSender, rather than
// blocking the caller on the wire write. Returns false if the staging
// ring is full (the caller should fall back to a direct Send).
func (s *Socket) QueueSend(msg *message.Message) bool {
	return s.outbox.Enqueue(msg)
}

// StartAsyncSender launches the background goroutine that drains the
// outbound staging ring and flushes pending messages as multi-part
// frames, batching whatever QueueSend accumulated since the last flush
// (mirrors the reference's outbox-channel send loop, generalized to a
// lock-free MPMC ring since multiple message destructors and user
// goroutines may call QueueSend concurrently). Safe to call once; later
// calls are no-ops.
func (s *Socket) StartAsyncSender() {
	s.senderOnce.Do(func() {
		s.senderDone = make(chan struct{})
		go s.asyncSendLoop()
	})
}

func (s *Socket) asyncSendLoop() {
	defer close(s.senderDone)
	var batch []*message.Message
	for {
		if s.isClosed() {
			return
		}
		batch = batch[:0]
		for len(batch) < 64 {
			m, ok := s.outbox.Dequeue()
			if !ok {
				break
			}
			batch = append(batch, m)
		}
		if len(batch) == 0 {
			time.Sleep(s.opts.LoopPeriod)
			continue
		}
		if len(batch) == 1 {
			s.Send(batch[0], -1)
		} else {
			s.SendVec(batch, -1)
		}
	}
}
