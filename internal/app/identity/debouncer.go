package identity

import (
	"sync"
	"time"
)

type TransitionKind int

const (
	SignedIn TransitionKind = iota + 1
	SignedOut
)

func (k TransitionKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Transition is one change of the authenticated identity.
type Transition struct {
	Kind   TransitionKind
	UserID string
	At     time.Time
}

type State int

const (
	StateIdle State = iota
	StatePending
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Debouncer merges bursts of identity transitions. Only the latest pushed transition is
// kept; it is applied once the delay passes without a newer push, or earlier through Flush.
type Debouncer struct {
	delay time.Duration
	apply func(Transition)

	// flushMu serializes calls to apply.
	flushMu sync.Mutex

	mu         sync.Mutex
	pending    Transition
	hasPending bool
	flushing   bool
	timer      *time.Timer
	gen        uint64
	stopped    bool
}

func NewDebouncer(delay time.Duration, apply func(Transition)) *Debouncer {
	return &Debouncer{delay: delay, apply: apply}
}

// Push replaces the pending transition and restarts the delay.
func (d *Debouncer) Push(t Transition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = t
	d.hasPending = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// fire runs when the delay of push gen has passed. The generation is checked in the same
// critical section that takes the pending slot, so a newer push always waits its own delay.
func (d *Debouncer) fire(gen uint64) {
	d.flush(func() bool { return gen == d.gen })
}

// Flush applies the pending transition now, if any, and reports whether one was applied.
// When it returns the identity reflects every transition pushed before the call.
func (d *Debouncer) Flush() bool {
	return d.flush(nil)
}

// flush takes and applies the pending transition. current, when set, runs with d.mu held
// and can veto the flush.
func (d *Debouncer) flush(current func() bool) bool {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	if !d.hasPending || d.stopped || (current != nil && !current()) {
		d.mu.Unlock()
		return false
	}
	t := d.pending
	d.hasPending = false
	d.pending = Transition{}
	d.flushing = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.apply(t)

	d.mu.Lock()
	d.flushing = false
	d.mu.Unlock()
	return true
}

func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.hasPending:
		return StatePending
	case d.flushing:
		return StateFlushing
	default:
		return StateIdle
	}
}

// Pending returns the transition waiting to be applied.
func (d *Debouncer) Pending() (Transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.hasPending
}

// Stop drops the pending transition; later pushes are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.hasPending = false
	d.pending = Transition{}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
