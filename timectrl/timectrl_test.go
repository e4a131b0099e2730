package timectrl

import (
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}

	tc.SetTime(start)
	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() moved backwards to %v", got)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)

	done := tc.Start(15*time.Millisecond, nil)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerStopEndsRun(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, RealTime)

	stop := make(chan struct{})
	done := tc.Start(0, stop)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("controller did not stop")
	}
}

func TestTimeControllerAfterFiresOnStep(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Minute, Accelerated)

	ch := tc.After(90 * time.Second)
	tc.Step()
	select {
	case <-ch:
		t.Fatalf("After fired before its deadline")
	default:
	}

	tc.Step()
	select {
	case got := <-ch:
		if want := start.Add(2 * time.Minute); !got.Equal(want) {
			t.Fatalf("After delivered %v, want %v", got, want)
		}
	default:
		t.Fatalf("After did not fire once its deadline passed")
	}
}

func TestTimeControllerListenersSeeEveryStep(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })
	tc.Step()
	tc.Step()

	if len(seen) != 2 || !seen[1].Equal(start.Add(2*time.Second)) {
		t.Fatalf("listener saw %v", seen)
	}
}
