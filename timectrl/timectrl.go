package timectrl

import (
	"sync"
	"time"
)

// SimClock is the clock the precac timer service reads. The daemon backs it
// with a TimeController in real time; tests and the replay tool step it.
type SimClock interface {
	// Now returns the current clock time.
	Now() time.Time
	// After returns a channel that receives the clock time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances by Tick as fast as the loop can run.
	Accelerated
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// TimeController drives clock time and notifies registered listeners on
// every step.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	waiters     []waiter
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// After implements SimClock. The channel fires on the first step that
// reaches Now()+d.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	at := tc.currentTime.Add(d)
	if d <= 0 {
		ch <- tc.currentTime
		return ch
	}
	tc.waiters = append(tc.waiters, waiter{at: at, ch: ch})
	return ch
}

// SetTime moves the clock to t and notifies listeners. Time never moves
// backwards.
func (tc *TimeController) SetTime(t time.Time) {
	tc.advance(t)
}

// Step advances the clock by one Tick.
func (tc *TimeController) Step() {
	tc.advance(tc.Now().Add(tc.Tick))
}

// AddListener registers a callback invoked after every time change.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

func (tc *TimeController) advance(t time.Time) {
	tc.mu.Lock()
	if t.Before(tc.currentTime) {
		tc.mu.Unlock()
		return
	}
	tc.currentTime = t

	pending := tc.waiters[:0]
	var due []waiter
	for _, w := range tc.waiters {
		if w.at.After(t) {
			pending = append(pending, w)
			continue
		}
		due = append(due, w)
	}
	tc.waiters = pending
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
	for _, fn := range listeners {
		fn(t)
	}
}

// Start runs the controller for the specified duration in a separate
// goroutine; a zero duration runs until stop is closed. It returns a
// channel that is closed when the controller finishes.
//
// RealTime steps once per Tick of wall time; Accelerated steps back to back.
func (tc *TimeController) Start(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticker != nil {
				select {
				case <-stop:
					return
				case <-ticker.C:
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}
