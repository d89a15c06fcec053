package core

import (
	"github.com/signalsfoundry/unifilar/model"
)

// RouteIndex holds, for every active live emitter, the hop-count shortest
// route to each reachable receptor. It is a derived cache: it is never
// patched, only rebuilt wholesale for a newer topology version.
type RouteIndex struct {
	graph     *ConnectivityGraph
	version   uint64
	emitters  []string
	byEmitter map[string][]model.Route
	receptors map[model.Point]string
}

// BuildRouteIndex computes every route over g. terminals should already be
// filtered to live ones; inactive emitters get no routes. version tags the
// index with the topology generation it was built from.
func BuildRouteIndex(g *ConnectivityGraph, terminals []*model.Terminal, version uint64) *RouteIndex {
	idx := &RouteIndex{
		graph:     g,
		version:   version,
		byEmitter: make(map[string][]model.Route),
		receptors: ReceptorCells(terminals),
	}
	for _, t := range terminals {
		if t.Kind != model.TerminalEmitter || !t.Active {
			continue
		}
		idx.emitters = append(idx.emitters, t.ID)
		idx.byEmitter[t.ID] = RoutesFromEmitter(g, t, idx.receptors)
	}
	return idx
}

// ReceptorCells maps each receptor's cell to its ID.
func ReceptorCells(terminals []*model.Terminal) map[model.Point]string {
	out := make(map[model.Point]string)
	for _, t := range terminals {
		if t.Kind == model.TerminalReceptor {
			out[t.Cell()] = t.ID
		}
	}
	return out
}

// RoutesFromEmitter runs one BFS from the emitter's cell and records the
// first path discovered to every receptor, continuing past each hit. An
// emitter whose cell is not in the graph has no routes.
func RoutesFromEmitter(g *ConnectivityGraph, emitter *model.Terminal, receptors map[model.Point]string) []model.Route {
	start := emitter.Cell()
	if !g.Has(start) || len(receptors) == 0 {
		return nil
	}

	parent := map[model.Point]model.Point{start: start}
	queue := []model.Point{start}
	var routes []model.Route

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if id, ok := receptors[cur]; ok && cur != start {
			routes = append(routes, model.Route{
				EmitterID:  emitter.ID,
				ReceptorID: id,
				Cells:      walkBack(parent, start, cur),
			})
		}

		for _, n := range g.Neighbors(cur) {
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = cur
			queue = append(queue, n)
		}
	}
	return routes
}

func walkBack(parent map[model.Point]model.Point, start, end model.Point) []model.Point {
	var rev []model.Point
	for p := end; ; p = parent[p] {
		rev = append(rev, p)
		if p == start {
			break
		}
	}
	out := make([]model.Point, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}

// Version is the topology version the index was built from.
func (idx *RouteIndex) Version() uint64 {
	if idx == nil {
		return 0
	}
	return idx.version
}

// Graph returns the graph the index was computed over.
func (idx *RouteIndex) Graph() *ConnectivityGraph {
	if idx == nil {
		return nil
	}
	return idx.graph
}

// RoutesFrom returns the routes of one emitter in discovery order. The
// result is shared and must not be modified.
func (idx *RouteIndex) RoutesFrom(emitterID string) []model.Route {
	if idx == nil {
		return nil
	}
	return idx.byEmitter[emitterID]
}

// Route returns the route keyed by (emitterID, receptorID).
func (idx *RouteIndex) Route(emitterID, receptorID string) (model.Route, bool) {
	for _, r := range idx.RoutesFrom(emitterID) {
		if r.ReceptorID == receptorID {
			return r, true
		}
	}
	return model.Route{}, false
}

// All returns every route, grouped by emitter in terminal order.
func (idx *RouteIndex) All() []model.Route {
	if idx == nil {
		return nil
	}
	var out []model.Route
	for _, id := range idx.emitters {
		out = append(out, idx.byEmitter[id]...)
	}
	return out
}

// Len returns the total number of routes.
func (idx *RouteIndex) Len() int {
	if idx == nil {
		return 0
	}
	n := 0
	for _, rs := range idx.byEmitter {
		n += len(rs)
	}
	return n
}

// Emitters returns the IDs of the emitters the index was built for, routed
// or not.
func (idx *RouteIndex) Emitters() []string {
	if idx == nil {
		return nil
	}
	return append([]string(nil), idx.emitters...)
}

// HasEmitter reports whether the emitter was active and live when the index
// was built.
func (idx *RouteIndex) HasEmitter(emitterID string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.byEmitter[emitterID]
	return ok
}

// ReceptorAt returns the receptor bound to p.
func (idx *RouteIndex) ReceptorAt(p model.Point) (string, bool) {
	if idx == nil {
		return "", false
	}
	id, ok := idx.receptors[p]
	return id, ok
}
