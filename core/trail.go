package core

import "github.com/signalsfoundry/unifilar/model"

// Trail is a bounded ring of the cells a particle has left, most recent
// first.
type Trail struct {
	buf  []model.Point
	head int
	n    int
}

// Push records p as the most recent entry, dropping the oldest entries past
// limit. A limit change resizes the ring keeping the newest points.
func (t *Trail) Push(p model.Point, limit int) {
	if limit < 1 {
		limit = 1
	}
	if len(t.buf) != limit {
		t.resize(limit)
	}
	t.head = (t.head - 1 + len(t.buf)) % len(t.buf)
	t.buf[t.head] = p
	if t.n < len(t.buf) {
		t.n++
	}
}

// Len returns the number of recorded points.
func (t *Trail) Len() int { return t.n }

// At returns the i-th most recent point.
func (t *Trail) At(i int) model.Point {
	return t.buf[(t.head+i)%len(t.buf)]
}

// Points returns the recorded points, most recent first.
func (t *Trail) Points() []model.Point {
	out := make([]model.Point, t.n)
	for i := range out {
		out[i] = t.At(i)
	}
	return out
}

func (t *Trail) resize(limit int) {
	pts := t.Points()
	if len(pts) > limit {
		pts = pts[:limit]
	}
	t.buf = make([]model.Point, limit)
	copy(t.buf, pts)
	t.head = 0
	t.n = len(pts)
}

func (t *Trail) clone() Trail {
	cp := Trail{head: t.head, n: t.n}
	cp.buf = append([]model.Point(nil), t.buf...)
	return cp
}
