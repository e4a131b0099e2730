package timer

import (
	"fmt"
	"sync"
	"time"
)

// FakeEventScheduler is an EventScheduler with its own notion of time for
// tests. AdvanceTo and Advance move time forward and run due events on the
// calling goroutine, which keeps precac scenarios deterministic.
type FakeEventScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	events []*scheduledEvent
	index  map[string]*scheduledEvent
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the current fake time.
func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the given time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("fake-ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	inserted := false
	for i, existing := range s.events {
		if at.Before(existing.when) {
			s.events = append(s.events[:i], append([]*scheduledEvent{ev}, s.events[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		s.events = append(s.events, ev)
	}

	s.index[id] = ev
	return id
}

// Cancel drops a pending event.
func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

// Pending returns the number of live events.
func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// RunDue executes all events whose time is <= now.
func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.events[0].when.After(s.now) {
			s.mu.Unlock()
			return
		}
		ev := s.events[0]
		s.events = s.events[1:]
		if ev.cancelled {
			s.mu.Unlock()
			continue
		}
		delete(s.index, ev.id)
		s.mu.Unlock()

		if ev.f != nil {
			ev.f()
		}
	}
}

// AdvanceTo sets the fake time to t and executes all due events. Time is
// kept monotonic.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.Before(s.now) {
		s.mu.Unlock()
		return
	}
	s.now = t
	s.mu.Unlock()

	s.RunDue()
}

// Advance moves fake time forward by d.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
