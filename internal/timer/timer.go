// Package timer implements the named, independently controllable timers
// this speaker's session needs (ConnectRetry, Hold, Keepalive). Each Timer
// is an explicit handle, owned by the session and driven from the
// session's single event loop via its channel — not a bound-method
// callback reference running on its own goroutine.
package timer

import "time"

// Timer is a one-shot, restartable interval timer bound to a name. The
// owning event loop selects on C() and, on receipt, posts the
// corresponding typed event to the FSM; this keeps every expiry on the
// single session goroutine (see internal/bgp), matching the "handlers
// run in the same scheduling domain as transport callbacks" requirement.
//
// A Timer is driven exclusively by its owning session's event loop; it
// is not safe for concurrent use.
type Timer struct {
	name     string
	duration time.Duration
	running  bool
	t        *time.Timer
	// never is returned by C() before the first Start: an open channel
	// that nothing sends on, so a select on an unarmed timer never fires.
	never <-chan time.Time
}

// New returns a stopped Timer named name. Call Start to arm it.
func New(name string) *Timer {
	return &Timer{name: name, never: make(chan time.Time)}
}

// Name returns the timer's name, for logging.
func (tm *Timer) Name() string {
	return tm.name
}

// Running reports whether the timer currently has a pending expiry.
func (tm *Timer) Running() bool {
	return tm.running
}

// C returns the channel the event loop should select on. It always
// returns a valid, non-nil channel: the "never fires" placeholder before
// the first Start, and the live *time.Timer channel once armed.
func (tm *Timer) C() <-chan time.Time {
	if tm.t == nil {
		return tm.never
	}
	return tm.t.C
}

// Start arms a one-shot expiry after duration. Starting a timer whose
// duration is zero is a no-op (RFC 4271: a zero HoldTime/KeepaliveTime
// permanently suppresses the corresponding timer). Starting an already
// running timer re-arms it with the new duration.
func (tm *Timer) Start(duration time.Duration) {
	if duration <= 0 {
		return
	}
	tm.duration = duration
	if tm.t == nil {
		tm.t = time.NewTimer(duration)
		tm.running = true
		return
	}
	if !tm.t.Stop() {
		drain(tm.t)
	}
	tm.t.Reset(duration)
	tm.running = true
}

// Stop cancels a pending expiry. Calling Stop on an unstarted or already
// fired timer is a no-op.
func (tm *Timer) Stop() {
	if !tm.running {
		return
	}
	if tm.t != nil && !tm.t.Stop() {
		drain(tm.t)
	}
	tm.running = false
}

// Fired must be called by the event loop immediately after a receive from
// C() succeeds, so the Timer's internal running flag stays accurate for
// a subsequent Start/Restart.
func (tm *Timer) Fired() {
	tm.running = false
}

// Restart is equivalent to Stop followed by Start with the original
// duration (the duration last passed to Start).
func (tm *Timer) Restart() {
	tm.Start(tm.duration)
}

// Reset is a synonym for Restart, matching RFC 4271 §8's interchangeable
// use of "restart timer" and "reset timer" across its action vocabulary.
func (tm *Timer) Reset() {
	tm.Restart()
}

// drain non-blockingly empties a stopped timer's channel, required before
// Reset per the time.Timer contract.
func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
