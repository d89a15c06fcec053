package timectrl

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	ch := c.After(time.Second)
	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatalf("fired early")
	default:
	}

	now := c.Advance(500 * time.Millisecond)
	if !now.Equal(start.Add(time.Second)) || !c.Now().Equal(now) {
		t.Fatalf("Now = %v", c.Now())
	}
	select {
	case got := <-ch:
		if !got.Equal(now) {
			t.Fatalf("After delivered %v, want %v", got, now)
		}
	default:
		t.Fatalf("After did not fire")
	}

	if got := <-c.After(0); !got.Equal(now) {
		t.Fatalf("After(0) = %v", got)
	}
}
