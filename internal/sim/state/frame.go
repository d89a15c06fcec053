package state

import (
	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/model"
)

// Frame is an immutable render snapshot. Positions are in pixels, with the
// line width as the cell size.
type Frame struct {
	TopologyVersion uint64          `json:"topologyVersion"`
	Running         bool            `json:"running"`
	CellSize        int             `json:"cellSize"`
	Cells           []FrameCell     `json:"cells"`
	Terminals       []FrameTerminal `json:"terminals"`
	Particles       []FrameParticle `json:"particles"`
	Spark           FrameSpark      `json:"spark"`
}

// FrameCell is one painted cell.
type FrameCell struct {
	X     int         `json:"x"`
	Y     int         `json:"y"`
	Color model.Color `json:"color"`
}

// FrameTerminal is one terminal marker. Stale marks a terminal whose cell
// has been erased.
type FrameTerminal struct {
	ID     string             `json:"id"`
	Kind   model.TerminalKind `json:"kind"`
	Name   string             `json:"name"`
	X      int                `json:"x"`
	Y      int                `json:"y"`
	Color  model.Color        `json:"color"`
	Active bool               `json:"active"`
	Stale  bool               `json:"stale,omitempty"`
}

// FrameParticle is one particle with its interpolated position and trail.
type FrameParticle struct {
	ID         uint64            `json:"id"`
	EmitterID  string            `json:"emitterId"`
	ReceptorID string            `json:"receptorId"`
	Position   core.PixelPoint   `json:"position"`
	Trail      []core.TrailPixel `json:"trail,omitempty"`
}

// FrameSpark carries the rendering part of the spark configuration.
type FrameSpark struct {
	Size  int         `json:"size"`
	Color model.Color `json:"color"`
	Trail bool        `json:"trail"`
}

// Frame renders the current state. The trail is omitted when trail
// rendering is off.
func (s *DiagramState) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.sim.Config()
	cellSize := float64(s.lineWidth)

	f := Frame{
		TopologyVersion: s.topologyVersionLocked(),
		Running:         s.sim.Running(),
		CellSize:        s.lineWidth,
		Spark:           FrameSpark{Size: cfg.Size, Color: cfg.Color, Trail: cfg.Trail},
	}

	cells := s.grid.Cells()
	f.Cells = make([]FrameCell, len(cells))
	for i, c := range cells {
		f.Cells[i] = FrameCell{X: c.X, Y: c.Y, Color: c.Color}
	}

	terms := s.terms.All()
	f.Terminals = make([]FrameTerminal, len(terms))
	for i, t := range terms {
		f.Terminals[i] = FrameTerminal{
			ID:     t.ID,
			Kind:   t.Kind,
			Name:   t.Name,
			X:      t.X,
			Y:      t.Y,
			Color:  t.Color,
			Active: t.Active,
			Stale:  !s.grid.Has(t.Cell()),
		}
	}

	particles := s.sim.Particles()
	f.Particles = make([]FrameParticle, len(particles))
	for i, p := range particles {
		fp := FrameParticle{
			ID:         p.ID,
			EmitterID:  p.EmitterID,
			ReceptorID: p.ReceptorID,
			Position:   core.PixelPosition(p, cellSize),
		}
		if cfg.Trail {
			fp.Trail = core.TrailPixels(p, cellSize)
		}
		f.Particles[i] = fp
	}
	return f
}
