// Package events implements region events (C10): a lazily-started
// background watcher over the management segment's EventCounter,
// translating region-registry changes into created/destroyed callbacks.
package events

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/FairRootGroup/fairmq-go/internal/mgmt"
)

// Kind distinguishes a region's lifecycle transition.
type Kind int

const (
	// Created fires the first time a region id is observed in
	// GetRegionInfo. If the region is already marked destroyed at that
	// point, Destroyed follows immediately (§4.10).
	Created Kind = iota
	// Destroyed fires once a previously seen, non-destroyed region flips
	// its Destroyed flag.
	Destroyed
)

func (k Kind) String() string {
	if k == Destroyed {
		return "destroyed"
	}
	return "created"
}

// Event describes a single region lifecycle transition.
type Event struct {
	RegionID uint32
	Managed  bool
	Kind     Kind
}

// Callback receives region events, serialized on the watcher's own
// goroutine (§4.10 "Callback invocations are serialized in this thread").
type Callback func(Event)

// seenKey is the key of Watcher.lastSeen, which tracks the last event
// kind observed for a region, keyed by (id, managed) per §4.10.
type seenKey struct {
	id      uint32
	managed bool
}

// Watcher polls EventCounter for one transport factory and dispatches
// region created/destroyed callbacks. Started lazily by Subscribe;
// Unsubscribe joins the goroutine and clears the callback, matching the
// source's subscribe/unsubscribe pair (§4.10).
type Watcher struct {
	ms *mgmt.ManagementSegment

	pollPeriod time.Duration

	mu       sync.Mutex
	cb       Callback
	started  bool
	stop     chan struct{}
	done     chan struct{}
	lastSeen map[seenKey]Kind
	pending  *queue.Queue
}

// New creates a Watcher bound to a management segment. It does not start
// polling until Subscribe is called.
func New(ms *mgmt.ManagementSegment, pollPeriod time.Duration) *Watcher {
	if pollPeriod <= 0 {
		pollPeriod = 100 * time.Millisecond
	}
	return &Watcher{
		ms:         ms,
		pollPeriod: pollPeriod,
		lastSeen:   make(map[seenKey]Kind),
		pending:    queue.New(),
	}
}

// Subscribe registers cb and lazily starts the poll goroutine (§4.10
// "started lazily on SubscribeToRegionEvents"). A second call while a
// subscription is active replaces the callback without restarting the
// goroutine.
func (w *Watcher) Subscribe(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb = cb
	if w.started {
		return
	}
	w.started = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.stop, w.done)
}

// Unsubscribe joins the poll goroutine and clears the callback.
func (w *Watcher) Unsubscribe() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	stop, done := w.stop, w.done
	w.started = false
	w.cb = nil
	w.mu.Unlock()

	close(stop)
	<-done
}

func (w *Watcher) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.pollPeriod)
	defer ticker.Stop()

	lastEventCounter := w.ms.EventCounter() - 1 // force the first poll to diff
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if ec := w.ms.EventCounter(); ec != lastEventCounter {
				lastEventCounter = ec
				w.diffAndDispatch()
			}
		}
	}
}

// diffAndDispatch compares the current region registry against lastSeen
// and emits events for every transition, per §4.10's rules.
func (w *Watcher) diffAndDispatch() {
	infos := w.ms.GetRegionInfo()
	present := make(map[seenKey]bool, len(infos))

	for _, info := range infos {
		key := seenKey{id: info.ID, managed: true}
		present[key] = true
		prev, seen := w.lastSeen[key]

		switch {
		case !seen && info.Destroyed:
			// unseen and already gone: emit created then destroyed (§4.10).
			w.enqueue(Event{RegionID: info.ID, Managed: true, Kind: Created})
			w.enqueue(Event{RegionID: info.ID, Managed: true, Kind: Destroyed})
			w.lastSeen[key] = Destroyed
		case !seen:
			w.enqueue(Event{RegionID: info.ID, Managed: true, Kind: Created})
			w.lastSeen[key] = Created
		case prev == Created && info.Destroyed:
			w.enqueue(Event{RegionID: info.ID, Managed: true, Kind: Destroyed})
			w.lastSeen[key] = Destroyed
		}
	}

	w.drain()
}

func (w *Watcher) enqueue(e Event) { w.pending.Add(e) }

// drain flushes the pending queue to the registered callback, serialized
// on the watcher's own goroutine.
func (w *Watcher) drain() {
	w.mu.Lock()
	cb := w.cb
	w.mu.Unlock()
	if cb == nil {
		// No subscriber right now (race between Unsubscribe and a final
		// tick); drop what accumulated rather than hold it across a
		// resubscribe with stale semantics.
		for w.pending.Length() > 0 {
			w.pending.Remove()
		}
		return
	}
	for w.pending.Length() > 0 {
		cb(w.pending.Remove().(Event))
	}
}
