package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/unifilar/model"
)

func TestPixelPositionInterpolates(t *testing.T) {
	p := &Particle{
		Route:        []model.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}},
		StepProgress: 0.5,
	}
	if got := PixelPosition(p, 12); got != (PixelPoint{X: 12, Y: 6}) {
		t.Fatalf("PixelPosition = %+v, want {12 6}", got)
	}

	p.StepIndex, p.StepProgress = 1, 0.25
	if got := PixelPosition(p, 10); got != (PixelPoint{X: 15, Y: 7.5}) {
		t.Fatalf("PixelPosition = %+v, want {15 7.5}", got)
	}

	p.StepIndex = 2
	if got := PixelPosition(p, 10); got != (PixelPoint{X: 15, Y: 15}) {
		t.Fatalf("PixelPosition at end = %+v, want last cell centre", got)
	}
}

func TestTrailPixelsFadeOut(t *testing.T) {
	p := &Particle{Route: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}}
	if TrailPixels(p, 12) != nil {
		t.Fatalf("empty trail rendered points")
	}
	p.Trail.Push(model.Pt(0, 0), 5)
	p.Trail.Push(model.Pt(1, 0), 5)

	got := TrailPixels(p, 12)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	want := []TrailPixel{
		{X: 18, Y: 6, Opacity: 2.0 / 3},
		{X: 6, Y: 6, Opacity: 1.0 / 3},
	}
	for i := range want {
		if got[i].X != want[i].X || got[i].Y != want[i].Y || math.Abs(got[i].Opacity-want[i].Opacity) > 1e-9 {
			t.Errorf("trail[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
