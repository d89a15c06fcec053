package kb

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/unifilar/model"
)

// EventType indicates what kind of change happened in the grid.
type EventType int

const (
	EventCellsPainted EventType = iota
	EventCellsErased
	EventCellsRecolored
	EventCellsMoved
	EventGridCleared
	EventGridReplaced
)

func (t EventType) String() string {
	switch t {
	case EventCellsPainted:
		return "painted"
	case EventCellsErased:
		return "erased"
	case EventCellsRecolored:
		return "recolored"
	case EventCellsMoved:
		return "moved"
	case EventGridCleared:
		return "cleared"
	case EventGridReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers after every grid mutation that changed
// at least one cell.
type Event struct {
	Type    EventType
	Version uint64
	Cells   []model.Point
}

// Grid is the sparse conductor grid: a map from coordinate to colour.
// A painted cell is a conductor, an absent cell is not. All operations are
// total over int coordinates.
type Grid struct {
	mu sync.RWMutex

	cells   map[model.Point]model.Color
	version uint64

	subs map[int]func(Event)
	next int
}

// NewGrid constructs an empty grid.
func NewGrid() *Grid {
	return &Grid{
		cells: make(map[model.Point]model.Color),
		subs:  make(map[int]func(Event)),
	}
}

// Version is bumped on every mutation that changed the cell set or colours.
func (g *Grid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// Len returns the number of painted cells.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cells)
}

// Color returns the colour at p and whether p is painted.
func (g *Grid) Color(p model.Point) (model.Color, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.cells[p]
	return c, ok
}

// Has reports whether p is painted.
func (g *Grid) Has(p model.Point) bool {
	_, ok := g.Color(p)
	return ok
}

// Cells returns a snapshot of every painted cell ordered by (y, x).
func (g *Grid) Cells() []model.Cell {
	g.mu.RLock()
	out := make([]model.Cell, 0, len(g.cells))
	for p, c := range g.cells {
		out = append(out, model.Cell{Point: p, Color: c})
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return lessPoint(out[i].Point, out[j].Point) })
	return out
}

// Map returns a copy of the underlying cell map.
func (g *Grid) Map() map[model.Point]model.Color {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[model.Point]model.Color, len(g.cells))
	for p, c := range g.cells {
		out[p] = c
	}
	return out
}

// Snapshot returns a copy of the cell map together with the version it was
// taken at.
func (g *Grid) Snapshot() (map[model.Point]model.Color, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[model.Point]model.Color, len(g.cells))
	for p, c := range g.cells {
		out[p] = c
	}
	return out, g.version
}

// Paint sets or overwrites the cell at p.
func (g *Grid) Paint(p model.Point, color model.Color) {
	g.mu.Lock()
	if cur, ok := g.cells[p]; ok && cur == color {
		g.mu.Unlock()
		return
	}
	g.cells[p] = color
	g.commitLocked(EventCellsPainted, []model.Point{p})
}

// Erase removes the cell at p. It reports whether a cell was removed.
func (g *Grid) Erase(p model.Point) bool {
	g.mu.Lock()
	if _, ok := g.cells[p]; !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.cells, p)
	g.commitLocked(EventCellsErased, []model.Point{p})
	return true
}

// FloodFill recolours the maximal 4-connected region sharing the origin's
// current colour. It returns the recoloured cells; the result is empty when
// the origin is unpainted or already has newColor.
func (g *Grid) FloodFill(origin model.Point, newColor model.Color) []model.Point {
	g.mu.Lock()
	orig, ok := g.cells[origin]
	if !ok || orig == newColor {
		g.mu.Unlock()
		return nil
	}
	region := g.componentLocked(origin, orig)
	for _, p := range region {
		g.cells[p] = newColor
	}
	g.commitLocked(EventCellsRecolored, region)
	return region
}

// ConnectedComponent returns every cell reachable from origin through
// 4-neighbours of the origin's colour, origin included, in BFS order.
func (g *Grid) ConnectedComponent(origin model.Point) []model.Point {
	g.mu.RLock()
	defer g.mu.RUnlock()
	orig, ok := g.cells[origin]
	if !ok {
		return nil
	}
	return g.componentLocked(origin, orig)
}

func (g *Grid) componentLocked(origin model.Point, color model.Color) []model.Point {
	visited := map[model.Point]struct{}{origin: {}}
	queue := []model.Point{origin}
	var out []model.Point

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)

		for _, n := range cur.Neighbors4() {
			if _, seen := visited[n]; seen {
				continue
			}
			if c, ok := g.cells[n]; !ok || c != color {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	return out
}

// TranslateGroup moves the given cells by (dx, dy), keeping their colours.
// Every source cell is removed before any destination is written, so
// overlapping source and destination sets do not clobber each other. A
// destination painted outside the group takes the moved colour. Unpainted
// points in the input are ignored. It reports whether anything
// moved.
func (g *Grid) TranslateGroup(points []model.Point, dx, dy int) bool {
	if (dx == 0 && dy == 0) || len(points) == 0 {
		return false
	}

	g.mu.Lock()
	colors := make(map[model.Point]model.Color, len(points))
	for _, p := range points {
		if c, ok := g.cells[p]; ok {
			colors[p] = c
		}
	}
	if len(colors) == 0 {
		g.mu.Unlock()
		return false
	}
	for p := range colors {
		delete(g.cells, p)
	}
	moved := make([]model.Point, 0, len(colors))
	for p, c := range colors {
		dst := p.Add(dx, dy)
		g.cells[dst] = c
		moved = append(moved, dst)
	}
	sort.Slice(moved, func(i, j int) bool { return lessPoint(moved[i], moved[j]) })
	g.commitLocked(EventCellsMoved, moved)
	return true
}

// EraseArea deletes every painted cell inside the inclusive rectangle spanned
// by a and b, in any corner order. It reports whether anything was removed.
func (g *Grid) EraseArea(a, b model.Point) bool {
	minX, maxX := minmax(a.X, b.X)
	minY, maxY := minmax(a.Y, b.Y)

	g.mu.Lock()
	var removed []model.Point
	// Walk whichever side is smaller: the rectangle or the painted set.
	if !smallArea(minX, maxX, minY, maxY, len(g.cells)) {
		for p := range g.cells {
			if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
				removed = append(removed, p)
			}
		}
	} else {
		for y := minY; ; y++ {
			for x := minX; ; x++ {
				p := model.Point{X: x, Y: y}
				if _, ok := g.cells[p]; ok {
					removed = append(removed, p)
				}
				if x == maxX {
					break
				}
			}
			if y == maxY {
				break
			}
		}
	}
	if len(removed) == 0 {
		g.mu.Unlock()
		return false
	}
	for _, p := range removed {
		delete(g.cells, p)
	}
	sort.Slice(removed, func(i, j int) bool { return lessPoint(removed[i], removed[j]) })
	g.commitLocked(EventCellsErased, removed)
	return true
}

// Clear removes every cell.
func (g *Grid) Clear() bool {
	g.mu.Lock()
	if len(g.cells) == 0 {
		g.mu.Unlock()
		return false
	}
	g.cells = make(map[model.Point]model.Color)
	g.commitLocked(EventGridCleared, nil)
	return true
}

// Replace swaps the whole cell set, e.g. after loading a persisted diagram.
func (g *Grid) Replace(cells map[model.Point]model.Color) {
	g.mu.Lock()
	g.cells = make(map[model.Point]model.Color, len(cells))
	for p, c := range cells {
		g.cells[p] = c
	}
	g.commitLocked(EventGridReplaced, nil)
}

// Subscribe registers a callback for grid events. It returns an unsubscribe
// function.
func (g *Grid) Subscribe(fn func(Event)) (unsubscribe func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	g.subs[id] = fn

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

// commitLocked bumps the version and releases the lock before notifying
// subscribers, so callbacks may read the grid.
func (g *Grid) commitLocked(t EventType, cells []model.Point) {
	g.version++
	event := Event{Type: t, Version: g.version, Cells: cells}
	subs := make([]func(Event), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

func lessPoint(a, b model.Point) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

// smallArea reports whether the rectangle holds no more points than limit.
func smallArea(minX, maxX, minY, maxY, limit int) bool {
	dx := uint64(maxX) - uint64(minX)
	dy := uint64(maxY) - uint64(minY)
	if dx >= uint64(limit) || dy >= uint64(limit) {
		return false
	}
	return (dx+1)*(dy+1) <= uint64(limit)
}

func minmax(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}
