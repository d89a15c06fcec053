package timectrl

import (
	"sync"
	"time"
)

// SimClock gives components access to simulation time without depending on
// a concrete driver.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
	// elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

// TimeController drives simulation time in fixed steps and notifies
// registered listeners with the new time and the step length. The headless
// runner uses it to push frames through a diagram faster than real time.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(now time.Time, dt time.Duration)
	waiters     []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
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

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the simulation clock, releasing any waiter whose deadline
// has passed.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	ready := tc.dueWaitersLocked()
	tc.mu.Unlock()
	release(ready, t)
}

// After implements SimClock. The channel fires when a later tick (or
// SetTime) moves simulation time to or past now+d.
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

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(now time.Time, dt time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for the specified duration in a separate goroutine.
// It returns a channel that is closed when the controller finishes. A zero
// duration runs forever.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		elapsed := time.Duration(0)

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticker != nil {
				<-ticker.C
			}
			simTime = simTime.Add(tc.Tick)
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.currentTime = simTime
			listeners := append([]func(time.Time, time.Duration){}, tc.listeners...)
			ready := tc.dueWaitersLocked()
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime, tc.Tick)
			}
			release(ready, simTime)
		}
	}()
	return done
}

func (tc *TimeController) dueWaitersLocked() []chan time.Time {
	var ready []chan time.Time
	kept := tc.waiters[:0]
	for _, w := range tc.waiters {
		if !w.at.After(tc.currentTime) {
			ready = append(ready, w.ch)
			continue
		}
		kept = append(kept, w)
	}
	tc.waiters = kept
	return ready
}

func release(chs []chan time.Time, t time.Time) {
	for _, ch := range chs {
		ch <- t
	}
}

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}
