package timer

import (
	"sync"
	"time"
)

// Timer is a single-instance, single-shot timer on an EventScheduler.
// Arming replaces any pending expiry, so at most one callback is ever
// outstanding.
type Timer struct {
	sched EventScheduler

	mu       sync.Mutex
	idle     *sync.Cond
	gen      uint64
	id       string
	pending  bool
	fn       func()
	deadline time.Time
	firing   int
}

// New returns a disarmed timer on sched.
func New(sched EventScheduler) *Timer {
	t := &Timer{sched: sched}
	t.idle = sync.NewCond(&t.mu)
	return t
}

// Arm schedules fn to run once after d, cancelling any pending expiry.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.fn = fn
	t.scheduleLocked(d)
}

// Modify moves a pending expiry to d from now. It reports false when the
// timer is not armed.
func (t *Timer) Modify(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.pending {
		return false
	}
	t.cancelLocked()
	t.scheduleLocked(d)
	return true
}

// Stop cancels a pending expiry without waiting for a callback that is
// already running. It is safe to call from the callback itself.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// CancelAndWait cancels a pending expiry and blocks until any callback that
// already started has returned. It must not be called from the callback or
// while holding a lock the callback takes.
func (t *Timer) CancelAndWait() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	for t.firing > 0 {
		t.idle.Wait()
	}
}

// Pending reports whether an expiry is scheduled and returns its time.
func (t *Timer) Pending() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.pending
}

func (t *Timer) scheduleLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.gen++
	gen := t.gen
	t.deadline = t.sched.Now().Add(d)
	t.pending = true
	t.id = t.sched.Schedule(t.deadline, func() { t.fire(gen) })
}

func (t *Timer) cancelLocked() {
	if !t.pending {
		return
	}
	t.sched.Cancel(t.id)
	t.pending = false
	t.gen++
}

// fire runs the callback armed as generation gen, unless it was cancelled
// or re-armed in the meantime.
func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	fn := t.fn
	t.firing++
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.firing--
		t.idle.Broadcast()
		t.mu.Unlock()
	}()
	if fn != nil {
		fn()
	}
}
