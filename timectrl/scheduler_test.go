package timectrl

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSchedulerFiresInDueOrder(t *testing.T) {
	s := NewScheduler()
	var got []string
	s.Every("b", 300*time.Millisecond, func() { got = append(got, "b") })
	s.Every("a", 200*time.Millisecond, func() { got = append(got, "a") })
	s.Every("c", 300*time.Millisecond, func() { got = append(got, "c") })

	if n := s.Advance(600 * time.Millisecond); n != 7 {
		t.Fatalf("Advance fired %d callbacks, want 7", n)
	}
	// Ties break by registration order: b, a, c.
	want := []string{"a", "b", "c", "a", "b", "a", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("firing order (-want +got):\n%s", diff)
	}
	if s.Now() != 600*time.Millisecond {
		t.Fatalf("Now = %v", s.Now())
	}
}

func TestSchedulerCancelAndReplace(t *testing.T) {
	s := NewScheduler()
	fired := map[string]int{}
	s.Every("x", time.Second, func() { fired["x"]++ })
	s.Every("y", time.Second, func() { fired["y"]++ })

	if !s.Cancel("x") || s.Cancel("x") {
		t.Fatalf("Cancel results wrong")
	}
	s.Advance(1500 * time.Millisecond)

	// Re-registering restarts the period from the current time.
	s.Every("y", time.Second, func() { fired["y"] += 10 })
	s.Advance(900 * time.Millisecond)
	if fired["y"] != 1 {
		t.Fatalf("replaced timer fired early: %v", fired)
	}
	s.Advance(100 * time.Millisecond)
	if fired["x"] != 0 || fired["y"] != 11 {
		t.Fatalf("fired = %v", fired)
	}

	s.CancelAll()
	if s.Len() != 0 || s.Advance(10*time.Second) != 0 {
		t.Fatalf("CancelAll left timers")
	}
}

func TestSchedulerCallbackMayRearm(t *testing.T) {
	s := NewScheduler()
	n := 0
	var fn func()
	fn = func() {
		n++
		s.Cancel("k")
		s.Every("k", 2*time.Second, fn)
	}
	s.Every("k", time.Second, fn)
	s.Advance(5 * time.Second) // fires at 1s, 3s, 5s
	if n != 3 {
		t.Fatalf("fired %d times, want 3", n)
	}
}

func TestSchedulerIgnoresBadIntervals(t *testing.T) {
	s := NewScheduler()
	s.Every("z", 0, func() {})
	s.Every("n", time.Second, nil)
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}
