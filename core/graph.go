package core

import "github.com/signalsfoundry/unifilar/model"

// CellSource is what the graph builder needs from the grid.
type CellSource interface {
	Snapshot() (map[model.Point]model.Color, uint64)
}

// ConnectivityGraph is the undirected adjacency list over painted cells.
// Two painted cells are connected when they are 4-neighbours, whatever their
// colours. A graph is immutable once built.
type ConnectivityGraph struct {
	adj         map[model.Point][]model.Point
	gridVersion uint64
}

// BuildGraph derives the adjacency list from the current grid contents.
func BuildGraph(src CellSource) *ConnectivityGraph {
	cells, version := src.Snapshot()
	g := NewGraph(cells)
	g.gridVersion = version
	return g
}

// NewGraph builds a graph over an explicit cell set.
func NewGraph(cells map[model.Point]model.Color) *ConnectivityGraph {
	adj := make(map[model.Point][]model.Point, len(cells))
	for p := range cells {
		var ns []model.Point
		for _, n := range p.Neighbors4() {
			if _, ok := cells[n]; ok {
				ns = append(ns, n)
			}
		}
		adj[p] = ns
	}
	return &ConnectivityGraph{adj: adj}
}

// GridVersion is the grid version the graph was built from.
func (g *ConnectivityGraph) GridVersion() uint64 { return g.gridVersion }

// Len returns the number of vertices.
func (g *ConnectivityGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.adj)
}

// Has reports whether p is a vertex (a painted cell).
func (g *ConnectivityGraph) Has(p model.Point) bool {
	if g == nil {
		return false
	}
	_, ok := g.adj[p]
	return ok
}

// Neighbors returns the painted neighbours of p in up, down, left, right
// order. The returned slice must not be modified.
func (g *ConnectivityGraph) Neighbors(p model.Point) []model.Point {
	if g == nil {
		return nil
	}
	return g.adj[p]
}

// Degree returns the number of connections of p.
func (g *ConnectivityGraph) Degree(p model.Point) int {
	return len(g.Neighbors(p))
}

// Edges returns the number of undirected edges.
func (g *ConnectivityGraph) Edges() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, ns := range g.adj {
		n += len(ns)
	}
	return n / 2
}
