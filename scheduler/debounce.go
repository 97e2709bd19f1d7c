package scheduler

import (
	"sync"
	"time"
)

type debounceState struct {
	lastInvokedAt time.Time
	pending       Timer
	pendingFn     func()
}

// Debouncer coalesces bursts of calls to an expensive routine into one
// trailing execution per routine id. The last call of a burst always runs
// exactly once; earlier ones are replaced, never silently dropped.
type Debouncer struct {
	clock    Clock
	mu       sync.Mutex
	routines map[string]*debounceState
}

// NewDebouncer creates a debouncer reading time from the given clock.
func NewDebouncer(clock Clock) *Debouncer {
	return &Debouncer{
		clock:    clock,
		routines: make(map[string]*debounceState),
	}
}

// Invoke runs fn immediately when at least minInterval has passed since the
// routine last ran. Otherwise it replaces any pending deferred run with one
// carrying this fn, scheduled for the remainder of the interval.
func (d *Debouncer) Invoke(routineID string, minInterval time.Duration, fn func()) {
	d.mu.Lock()
	st, ok := d.routines[routineID]
	if !ok {
		st = &debounceState{}
		d.routines[routineID] = st
	}

	now := d.clock.Now()
	elapsed := now.Sub(st.lastInvokedAt)
	if st.lastInvokedAt.IsZero() || elapsed >= minInterval {
		// A deferred run scheduled earlier in the burst is superseded by
		// this call; without stopping it, a stale closure could still fire
		// after the newer one.
		if st.pending != nil {
			st.pending.Stop()
			st.pending = nil
			st.pendingFn = nil
		}
		st.lastInvokedAt = now
		d.mu.Unlock()
		fn()
		return
	}

	if st.pending != nil {
		st.pending.Stop()
	}
	st.pendingFn = fn
	st.pending = d.clock.AfterFunc(minInterval-elapsed, func() {
		d.firePending(routineID)
	})
	d.mu.Unlock()
}

// firePending runs the deferred call for a routine, if one is still pending.
func (d *Debouncer) firePending(routineID string) {
	d.mu.Lock()
	st, ok := d.routines[routineID]
	if !ok || st.pendingFn == nil {
		d.mu.Unlock()
		return
	}
	fn := st.pendingFn
	st.pendingFn = nil
	st.pending = nil
	st.lastInvokedAt = d.clock.Now()
	d.mu.Unlock()
	fn()
}

// Cancel drops any pending deferred run for a routine. Used on teardown.
func (d *Debouncer) Cancel(routineID string) {
	d.mu.Lock()
	if st, ok := d.routines[routineID]; ok {
		if st.pending != nil {
			st.pending.Stop()
		}
		st.pending = nil
		st.pendingFn = nil
	}
	d.mu.Unlock()
}
