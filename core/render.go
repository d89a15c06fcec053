package core

import "github.com/signalsfoundry/unifilar/model"

// PixelPoint is a position in renderer pixels.
type PixelPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TrailPixel is one trail point with its opacity.
type TrailPixel struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Opacity float64 `json:"opacity"`
}

// CellCenter converts a grid cell to the pixel at its centre.
func CellCenter(p model.Point, cellSize float64) PixelPoint {
	return PixelPoint{
		X: float64(p.X)*cellSize + cellSize/2,
		Y: float64(p.Y)*cellSize + cellSize/2,
	}
}

// PixelPosition interpolates linearly between route[StepIndex] and the next
// cell using StepProgress, so motion is constant speed rather than jumping
// from cell to cell. At the end of the route it returns the last cell.
func PixelPosition(p *Particle, cellSize float64) PixelPoint {
	if len(p.Route) == 0 {
		return PixelPoint{}
	}
	i := p.StepIndex
	if i >= len(p.Route)-1 {
		return CellCenter(p.Route[len(p.Route)-1], cellSize)
	}
	a, b := p.Route[i], p.Route[i+1]
	x := float64(a.X) + float64(b.X-a.X)*p.StepProgress
	y := float64(a.Y) + float64(b.Y-a.Y)*p.StepProgress
	return PixelPoint{
		X: x*cellSize + cellSize/2,
		Y: y*cellSize + cellSize/2,
	}
}

// TrailPixels returns the trail centres, most recent first, with opacity
// falling off linearly: the point of rank r (1-based) among n gets
// 1 - r/(n+1).
func TrailPixels(p *Particle, cellSize float64) []TrailPixel {
	n := p.Trail.Len()
	if n == 0 {
		return nil
	}
	out := make([]TrailPixel, n)
	for i := 0; i < n; i++ {
		c := CellCenter(p.Trail.At(i), cellSize)
		out[i] = TrailPixel{
			X:       c.X,
			Y:       c.Y,
			Opacity: 1 - float64(i+1)/float64(n+1),
		}
	}
	return out
}
