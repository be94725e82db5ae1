package watcher

import (
	"sync"
	"time"
)

// Kind classifies a coalesced change event.
type Kind int

const (
	Created Kind = iota
	Modified
	Removed
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is a debounced, per-path change notification.
type Event struct {
	Path string // vault-relative, forward slashes
	Kind Kind
	Time time.Time
}

// Debouncer coalesces raw notifications into one event per path per quiet
// window. Each path runs Idle → Pending(timer) → Dispatch → Idle: the first
// notification arms a timer, later ones within the window reset it and merge
// the event kind, and the event is dispatched only once the window elapses
// with no further notifications. Editors perform several low-level writes
// per logical save; without coalescing each would trigger its own read and
// remote call, risking torn reads mid-write.
type Debouncer struct {
	window time.Duration
	clock  Clock

	mu      sync.Mutex
	pending map[string]*pendingEvent
	out     chan Event
	closed  bool
}

type pendingEvent struct {
	kind  Kind
	timer Timer
}

// NewDebouncer creates a Debouncer with the given quiet window. A nil clock
// uses real timers.
func NewDebouncer(window time.Duration, clock Clock) *Debouncer {
	if clock == nil {
		clock = realClock{}
	}
	return &Debouncer{
		window:  window,
		clock:   clock,
		pending: make(map[string]*pendingEvent),
		out:     make(chan Event, 256),
	}
}

// Events returns the stream of coalesced events.
func (d *Debouncer) Events() <-chan Event {
	return d.out
}

// Offer feeds a raw notification into the state machine.
func (d *Debouncer) Offer(path string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if p, ok := d.pending[path]; ok {
		p.kind = coalesce(p.kind, kind)
		p.timer.Reset(d.window)
		return
	}
	p := &pendingEvent{kind: kind}
	p.timer = d.clock.AfterFunc(d.window, func() { d.dispatch(path) })
	d.pending[path] = p
}

// dispatch fires when a path's window elapses undisturbed.
func (d *Debouncer) dispatch(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	kind := p.kind
	d.mu.Unlock()

	select {
	case d.out <- Event{Path: path, Kind: kind, Time: time.Now()}:
	default:
		// Consumer stalled or gone; dropping beats blocking a timer
		// goroutine forever. The next notification for the path or the
		// next startup reconciliation picks the change up.
	}
}

// Close drops all pending timers without dispatching. Called on shutdown:
// no partial dispatch.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, p := range d.pending {
		p.timer.Stop()
	}
	d.pending = make(map[string]*pendingEvent)
}

// coalesce merges a newly arrived kind into the pending one. The latest
// kind wins, except that a removal is terminal: a removed file cannot be
// subsequently modified.
func coalesce(old, latest Kind) Kind {
	if old == Removed {
		return Removed
	}
	return latest
}

// Pending returns the number of paths currently in the Pending state.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
