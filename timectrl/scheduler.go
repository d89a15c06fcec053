package timectrl

import (
	"sync"
	"time"
)

// Scheduler runs keyed interval timers against virtual time. Time only
// moves through Advance, so callbacks run on the caller's goroutine, in
// due-time order, with ties broken by registration order.
//
// Callbacks may call Every and Cancel on the same scheduler.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers map[string]*timer
}

type timer struct {
	every time.Duration
	due   time.Duration
	seq   uint64
	fn    func()
}

// NewScheduler returns an empty scheduler at virtual time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*timer)}
}

// Every registers fn to run every interval, first firing one interval from
// now. An existing timer under key is replaced. Non-positive intervals are
// ignored.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) {
	if interval <= 0 || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.timers[key] = &timer{every: interval, due: s.now + interval, seq: s.seq, fn: fn}
}

// Cancel removes the timer under key and reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	delete(s.timers, key)
	return ok
}

// CancelAll removes every timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.timers)
}

// Len returns the number of registered timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Now returns the virtual time elapsed since the scheduler was created.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves virtual time forward by dt, firing every timer that falls
// due on the way (a timer may fire several times). It returns the number of
// callbacks run.
func (s *Scheduler) Advance(dt time.Duration) int {
	if dt < 0 {
		dt = 0
	}
	s.mu.Lock()
	target := s.now + dt
	fired := 0
	for {
		t := s.nextLocked(target)
		if t == nil {
			break
		}
		s.now = t.due
		t.due += t.every
		fn := t.fn

		s.mu.Unlock()
		fn()
		fired++
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
	return fired
}

func (s *Scheduler) nextLocked(limit time.Duration) *timer {
	var next *timer
	for _, t := range s.timers {
		if t.due > limit {
			continue
		}
		if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
			next = t
		}
	}
	return next
}
