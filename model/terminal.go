package model

import "strings"

// TerminalKind distinguishes emitters from receptors ("bornes").
type TerminalKind string

const (
	// TerminalEmitter spawns particles.
	TerminalEmitter TerminalKind = "EMISOR"
	// TerminalReceptor absorbs particles.
	TerminalReceptor TerminalKind = "RECEPTOR"
)

// Valid reports whether k is a known terminal kind.
func (k TerminalKind) Valid() bool {
	return k == TerminalEmitter || k == TerminalReceptor
}

// ParseTerminalKind is tolerant about case and accepts the English aliases.
func ParseTerminalKind(s string) (TerminalKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EMISOR", "EMITTER":
		return TerminalEmitter, true
	case "RECEPTOR", "RECEIVER":
		return TerminalReceptor, true
	default:
		return "", false
	}
}

// Default marker colours per terminal kind.
const (
	EmitterColor  Color = "#22d3ee"
	ReceptorColor Color = "#f97316"
)

// Terminal is a typed anchor bound to a painted cell.
type Terminal struct {
	ID     string
	Kind   TerminalKind
	X      int
	Y      int
	Active bool

	// Name is the short label shown next to the marker (E1, R2, ...).
	Name  string
	Color Color

	// IntervalMs records the emission interval in force when the terminal
	// was created. The simulator uses the global interval.
	IntervalMs int
}

// Cell returns the coordinate the terminal is bound to.
func (t *Terminal) Cell() Point { return Point{X: t.X, Y: t.Y} }

// Route is a shortest path from an emitter cell to a receptor cell,
// both ends inclusive.
type Route struct {
	EmitterID  string
	ReceptorID string
	Cells      []Point
}

// Len returns the number of cells on the route.
func (r Route) Len() int { return len(r.Cells) }

// Hops returns the number of edges on the route.
func (r Route) Hops() int {
	if len(r.Cells) == 0 {
		return 0
	}
	return len(r.Cells) - 1
}
