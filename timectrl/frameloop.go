package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopRunning is returned by Start on a loop that is already running.
var ErrLoopRunning = errors.New("frame loop already running")

// DefaultMaxFrameDelta caps the delta handed to the step function so a
// stalled process does not teleport particles on resume.
const DefaultMaxFrameDelta = 250 * time.Millisecond

// FrameLoop calls a step function at a fixed wall-clock cadence with the
// measured delta since the previous frame. It owns exactly one goroutine
// while running.
type FrameLoop struct {
	interval time.Duration
	maxDelta time.Duration
	step     func(dt time.Duration)
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// FrameLoopOption customises a FrameLoop.
type FrameLoopOption func(*FrameLoop)

// WithMaxDelta overrides DefaultMaxFrameDelta. Zero disables the cap.
func WithMaxDelta(d time.Duration) FrameLoopOption {
	return func(l *FrameLoop) { l.maxDelta = d }
}

// WithWallClock replaces time.Now for delta measurement.
func WithWallClock(now func() time.Time) FrameLoopOption {
	return func(l *FrameLoop) {
		if now != nil {
			l.now = now
		}
	}
}

// NewFrameLoop builds a stopped loop.
func NewFrameLoop(interval time.Duration, step func(dt time.Duration), opts ...FrameLoopOption) *FrameLoop {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	l := &FrameLoop{
		interval: interval,
		maxDelta: DefaultMaxFrameDelta,
		step:     step,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop. It stops when ctx is cancelled or Stop is called.
func (l *FrameLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return ErrLoopRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	return nil
}

// Stop cancels the loop and waits for its goroutine to exit. Stopping a
// stopped loop is a no-op.
func (l *FrameLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop goroutine is active.
func (l *FrameLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

func (l *FrameLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	last := l.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := l.now()
			dt := t.Sub(last)
			last = t
			if dt < 0 {
				dt = 0
			}
			if l.maxDelta > 0 && dt > l.maxDelta {
				dt = l.maxDelta
			}
			l.step(dt)
		}
	}
}
