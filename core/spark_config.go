package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/signalsfoundry/unifilar/model"
)

// BranchMode selects how particles behave at junctions.
type BranchMode int

const (
	// BranchModeRoute follows the precomputed single route. This is the
	// default.
	BranchModeRoute BranchMode = iota
	// BranchModeSplit applies the bifurcation rule live: at every junction
	// the particle spawns siblings along each receptor-reaching branch, or
	// retires when none exists.
	BranchModeSplit
)

func (m BranchMode) String() string {
	if m == BranchModeSplit {
		return "split"
	}
	return "route"
}

// ParseBranchMode accepts "route" and "split".
func ParseBranchMode(s string) (BranchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "route":
		return BranchModeRoute, nil
	case "split":
		return BranchModeSplit, nil
	default:
		return BranchModeRoute, fmt.Errorf("unknown branch mode %q", s)
	}
}

// Ranges accepted by SparkConfig. Values outside are clamped.
const (
	MinSpeed, MaxSpeed               = 1.0, 20.0
	MinIntervalMs, MaxIntervalMs     = 300, 5000
	MinTrailLength, MaxTrailLength   = 1, 10
	MinSize, MaxSize                 = 2, 10
	MinMaxParticles, MaxMaxParticles = 1, 600
)

// Default spark settings.
const (
	DefaultSpeed        = 8.0
	DefaultSize         = 4
	DefaultSparkColor   = model.Color("#fef08a")
	DefaultTrailLength  = 5
	DefaultMaxParticles = 100
	DefaultLineWidth    = 12
)

// SparkConfig is the particle configuration surface.
type SparkConfig struct {
	// Speed in cells per second.
	Speed float64
	// Size is the particle radius in pixels; only the renderer uses it.
	Size  int
	Color model.Color
	// Trail toggles trail rendering. The trail is always recorded.
	Trail       bool
	TrailLength int
	// IntervalMs is the emission interval of every active emitter.
	IntervalMs   int
	MaxParticles int
}

// DefaultSparkConfig returns the stock settings.
func DefaultSparkConfig() SparkConfig {
	return SparkConfig{
		Speed:        DefaultSpeed,
		Size:         DefaultSize,
		Color:        DefaultSparkColor,
		Trail:        true,
		TrailLength:  DefaultTrailLength,
		IntervalMs:   DefaultEmissionIntervalMs,
		MaxParticles: DefaultMaxParticles,
	}
}

// Clamp returns a copy with every field forced into range. Zero values fall
// back to the defaults first.
func (c SparkConfig) Clamp() SparkConfig {
	d := DefaultSparkConfig()
	if c.Speed == 0 {
		c.Speed = d.Speed
	}
	if c.Size == 0 {
		c.Size = d.Size
	}
	if c.Color == "" {
		c.Color = d.Color
	}
	if c.TrailLength == 0 {
		c.TrailLength = d.TrailLength
	}
	if c.IntervalMs == 0 {
		c.IntervalMs = d.IntervalMs
	}
	if c.MaxParticles == 0 {
		c.MaxParticles = d.MaxParticles
	}

	c.Speed = clampFloat(c.Speed, MinSpeed, MaxSpeed)
	c.Size = clampInt(c.Size, MinSize, MaxSize)
	c.TrailLength = clampInt(c.TrailLength, MinTrailLength, MaxTrailLength)
	c.IntervalMs = clampInt(c.IntervalMs, MinIntervalMs, MaxIntervalMs)
	c.MaxParticles = clampInt(c.MaxParticles, MinMaxParticles, MaxMaxParticles)
	return c
}

// Interval returns the emission interval as a duration.
func (c SparkConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// SparkPatch carries a partial config update. Nil fields are left untouched.
type SparkPatch struct {
	Speed        *float64
	Size         *int
	Color        *model.Color
	Trail        *bool
	TrailLength  *int
	IntervalMs   *int
	MaxParticles *int
}

// Apply merges the patch into c and clamps the result.
func (p SparkPatch) Apply(c SparkConfig) SparkConfig {
	if p.Speed != nil {
		c.Speed = *p.Speed
	}
	if p.Size != nil {
		c.Size = *p.Size
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.Trail != nil {
		c.Trail = *p.Trail
	}
	if p.TrailLength != nil {
		c.TrailLength = *p.TrailLength
	}
	if p.IntervalMs != nil {
		c.IntervalMs = *p.IntervalMs
	}
	if p.MaxParticles != nil {
		c.MaxParticles = *p.MaxParticles
	}
	return c.Clamp()
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
