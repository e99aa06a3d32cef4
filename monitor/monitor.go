package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/FairRootGroup/fairmq-go/internal/mgmt"
)

// Options configures a Monitor, grounded on the reference implementation's
// mode flags (original_source/fairmq/shmem/Monitor.h): selfDestruct,
// interactive, viewOnly, runAsDaemon, cleanOnExit. The process-launching
// and signal-handling wrapper around these flags is out of scope (§1); Run
// acts on SelfDestruct, ViewOnly and CleanOnExit, while Interactive and
// RunAsDaemon are carried unused.
type Options struct {
	ShmID string

	TimeoutMs  int // heartbeat staleness threshold (§6 default 2000ms)
	IntervalMs int // poll period (§4.9 "per interval_ms")

	SelfDestruct bool // exit after the first cleanup
	Interactive  bool // reserved for a CLI front-end; carried but unused by Run
	ViewOnly     bool // never clean, observe only
	RunAsDaemon  bool // reserved for a CLI front-end; carried but unused by Run
	CleanOnExit  bool // run one CleanupFull pass when Run returns
}

// DefaultOptions returns the reference implementation's documented
// defaults (§6 "Timeouts, defaults").
func DefaultOptions(shmID string) Options {
	return Options{
		ShmID:      shmID,
		TimeoutMs:  2000,
		IntervalMs: 100,
	}
}

// heartbeatArrival records one device's heartbeat observation, queued in
// arrival order for DebugInfo/introspection consumers.
type heartbeatArrival struct {
	deviceID  string
	value     int64
	timestamp time.Time
}

// Monitor polls a session's heartbeat counter and reclaims its shared
// objects once the session goes quiet (§4.9). Grounded on Monitor.h's
// field set; the device-heartbeat FIFO uses eapache/queue guarded by an
// explicit mutex — the teacher's own Executor.queue uses the same
// queue.Queue without synchronization across worker goroutines, a latent
// bug not worth repeating here.
type Monitor struct {
	opts Options

	ms *mgmt.ManagementSegment

	presenceMtx *mgmt.NamedMutex

	mu              sync.Mutex
	lastHeartbeat   int64
	lastHeartbeatAt time.Time
	arrivals        *queue.Queue
}

// New opens the management segment for shmID and claims the monitor
// presence mutex fmq_<shmID>_ms. Returns an error if another monitor
// already holds the mutex.
func New(opts Options) (*Monitor, error) {
	ms, err := mgmt.OpenOrCreate(opts.ShmID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("monitor: open management segment: %w", err)
	}

	presence, err := mgmt.OpenNamedMutex(fmt.Sprintf("fmq_%s_ms", opts.ShmID))
	if err != nil {
		_ = ms.Close(false)
		return nil, fmt.Errorf("monitor: open presence mutex: %w", err)
	}
	held, err := presence.TryLock()
	if err != nil {
		presence.Close()
		_ = ms.Close(false)
		return nil, fmt.Errorf("monitor: lock presence mutex: %w", err)
	}
	if !held {
		presence.Close()
		_ = ms.Close(false)
		return nil, fmt.Errorf("monitor: a monitor for %s is already running", opts.ShmID)
	}

	return &Monitor{
		opts:            opts,
		ms:              ms,
		presenceMtx:     presence,
		lastHeartbeat:   ms.Heartbeat(),
		lastHeartbeatAt: time.Now(),
		arrivals:        queue.New(),
	}, nil
}

// RecordDeviceHeartbeat records an out-of-band device arrival, e.g. from a
// control channel separate from the shared heartbeat counter. Safe for
// concurrent callers.
func (m *Monitor) RecordDeviceHeartbeat(deviceID string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrivals.Add(heartbeatArrival{deviceID: deviceID, value: value, timestamp: time.Now()})
	for m.arrivals.Length() > 1024 {
		m.arrivals.Remove()
	}
}

// Run executes the main loop (§4.9) until ctx is done or, with
// SelfDestruct set, until the first cleanup completes. It always releases
// and removes the presence mutex before returning.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.shutdown()

	interval := time.Duration(m.opts.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.tick() {
				return nil
			}
		}
	}
}

// tick runs one loop iteration and returns true if Run should exit
// (self-destruct fired after a cleanup).
func (m *Monitor) tick() bool {
	hb := m.ms.Heartbeat()

	m.mu.Lock()
	if hb != m.lastHeartbeat {
		m.lastHeartbeat = hb
		m.lastHeartbeatAt = time.Now()
		m.mu.Unlock()
		return false
	}
	stale := time.Since(m.lastHeartbeatAt) >= time.Duration(m.opts.TimeoutMs)*time.Millisecond
	m.mu.Unlock()

	if !stale {
		return false
	}
	if m.opts.ViewOnly {
		logger.Printf("session %s heartbeat stale, view-only: skipping cleanup", m.opts.ShmID)
		return m.opts.SelfDestruct
	}

	logger.Printf("session %s heartbeat stale (>%dms): running CleanupFull", m.opts.ShmID, m.opts.TimeoutMs)
	CleanupFull(m.opts.ShmID, m.ms)
	return m.opts.SelfDestruct
}

func (m *Monitor) shutdown() {
	if m.opts.CleanOnExit && !m.opts.ViewOnly {
		CleanupFull(m.opts.ShmID, m.ms)
	}
	m.presenceMtx.Unlock()
	m.presenceMtx.Close()
	_ = mgmt.Remove(fmt.Sprintf("fmq_%s_ms", m.opts.ShmID))
	_ = m.ms.Close(false)
}

// DebugInfo is a process's-eye view of recent device heartbeat arrivals,
// for Monitor::GetDebugInfo/PrintDebugInfo parity (supplemented feature).
type DebugInfo struct {
	ShmID         string
	Heartbeat     int64
	HeartbeatAge  time.Duration
	RecentDevices []string
}

// GetDebugInfo snapshots the monitor's current view for introspection.
// Draining and re-adding is eapache/queue's only way to iterate without a
// destructive Remove; the arrivals queue is capped at 1024 so this is cheap.
func (m *Monitor) GetDebugInfo() DebugInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.arrivals.Length()
	devices := make([]string, 0, n)
	for i := 0; i < n; i++ {
		a := m.arrivals.Remove().(heartbeatArrival)
		devices = append(devices, a.deviceID)
		m.arrivals.Add(a)
	}
	return DebugInfo{
		ShmID:         m.opts.ShmID,
		Heartbeat:     m.lastHeartbeat,
		HeartbeatAge:  time.Since(m.lastHeartbeatAt),
		RecentDevices: devices,
	}
}
