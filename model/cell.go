package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an opaque colour token attached to a painted cell, e.g. "#dc2626".
type Color string

// Point is an integer grid coordinate.
type Point struct {
	X int
	Y int
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y int) Point { return Point{X: x, Y: y} }

// Key renders the point in the "x,y" form used by persisted diagrams.
func (p Point) Key() string {
	return strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y)
}

func (p Point) String() string { return "(" + p.Key() + ")" }

// Add returns the point offset by (dx, dy).
func (p Point) Add(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Neighbors4 returns the four orthogonal neighbours in the canonical order
// up, down, left, right. Every traversal in the engine enumerates neighbours
// in this order so results are reproducible.
func (p Point) Neighbors4() [4]Point {
	return [4]Point{
		{X: p.X, Y: p.Y - 1},
		{X: p.X, Y: p.Y + 1},
		{X: p.X - 1, Y: p.Y},
		{X: p.X + 1, Y: p.Y},
	}
}

// ParsePoint parses an "x,y" key.
func ParsePoint(key string) (Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(key), ",")
	if !ok {
		return Point{}, fmt.Errorf("malformed cell key %q", key)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Point{}, fmt.Errorf("malformed cell key %q: %w", key, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Point{}, fmt.Errorf("malformed cell key %q: %w", key, err)
	}
	return Point{X: x, Y: y}, nil
}

// Cell is a painted grid cell.
type Cell struct {
	Point
	Color Color
}
