package kb

import "github.com/signalsfoundry/unifilar/model"

// Axis is the direction a straight stroke is locked to.
type Axis int

const (
	AxisNone Axis = iota
	AxisHorizontal
	AxisVertical
)

// LineLock constrains a paint stroke to a straight horizontal or vertical
// line. The axis is decided by the first point that strays more than one
// cell from the anchor and stays fixed until Reset.
type LineLock struct {
	anchor *model.Point
	axis   Axis
}

// Begin sets the anchor of a new stroke.
func (l *LineLock) Begin(p model.Point) {
	l.anchor = &p
	l.axis = AxisNone
}

// Reset ends the stroke.
func (l *LineLock) Reset() {
	l.anchor = nil
	l.axis = AxisNone
}

// Axis returns the locked axis, AxisNone until decided.
func (l *LineLock) Axis() Axis { return l.axis }

// Project maps p onto the locked line. Without an anchor p is returned as is.
func (l *LineLock) Project(p model.Point) model.Point {
	if l.anchor == nil {
		return p
	}
	a := *l.anchor
	dx := abs(p.X - a.X)
	dy := abs(p.Y - a.Y)

	if l.axis == AxisNone && (dx > 1 || dy > 1) {
		if dx > dy {
			l.axis = AxisHorizontal
		} else {
			l.axis = AxisVertical
		}
	}

	switch l.axis {
	case AxisHorizontal:
		p.Y = a.Y
	case AxisVertical:
		p.X = a.X
	}
	return p
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
