package core

import "github.com/signalsfoundry/unifilar/model"

// ResolveBifurcation decides where a particle standing on at, having come
// from from, may continue. Candidates are the neighbours of at other than
// from. With zero or one candidate there is nothing to decide and the
// candidates are returned as they are. Otherwise every candidate that can
// reach a receptor without passing back through at or from is returned; an
// empty result means the particle must retire at this junction.
func ResolveBifurcation(g *ConnectivityGraph, at, from model.Point, terminals []*model.Terminal) []model.Point {
	return resolveBifurcation(g, at, from, ReceptorCells(terminals))
}

func resolveBifurcation(g *ConnectivityGraph, at, from model.Point, receptors map[model.Point]string) []model.Point {
	var candidates []model.Point
	for _, n := range g.Neighbors(at) {
		if n != from {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) <= 1 {
		return candidates
	}

	var out []model.Point
	for _, c := range candidates {
		if reachesReceptor(g, c, receptors, at, from) {
			out = append(out, c)
		}
	}
	return out
}

// reachesReceptor is a depth-first search from start that may not enter any
// of the blocked cells.
func reachesReceptor(g *ConnectivityGraph, start model.Point, receptors map[model.Point]string, blocked ...model.Point) bool {
	visited := make(map[model.Point]struct{}, len(blocked)+1)
	for _, b := range blocked {
		visited[b] = struct{}{}
	}
	if _, ok := receptors[start]; ok {
		return true
	}
	visited[start] = struct{}{}
	stack := []model.Point{start}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, n := range g.Neighbors(cur) {
			if _, seen := visited[n]; seen {
				continue
			}
			if _, ok := receptors[n]; ok {
				return true
			}
			visited[n] = struct{}{}
			stack = append(stack, n)
		}
	}
	return false
}

// NextStep reports how a particle at route[pos] continues. Past the end of
// the route it stops. When the next cell is a junction (more than two
// connections) the bifurcation rule picks the continuations, measured from
// the junction; otherwise the particle simply proceeds to route[pos+1].
func NextStep(g *ConnectivityGraph, route []model.Point, pos int, terminals []*model.Terminal) (cont bool, next []model.Point) {
	return nextStep(g, route, pos, ReceptorCells(terminals))
}

func nextStep(g *ConnectivityGraph, route []model.Point, pos int, receptors map[model.Point]string) (bool, []model.Point) {
	if pos < 0 || pos >= len(route)-1 {
		return false, nil
	}
	cur, nxt := route[pos], route[pos+1]
	if g.Degree(nxt) > 2 {
		dirs := resolveBifurcation(g, nxt, cur, receptors)
		if len(dirs) == 0 {
			return false, nil
		}
		return true, dirs
	}
	return true, []model.Point{nxt}
}

// pathToReceptor returns the shortest path from start to the nearest
// receptor avoiding the blocked cells, start included, or nil.
func pathToReceptor(g *ConnectivityGraph, start model.Point, receptors map[model.Point]string, blocked ...model.Point) ([]model.Point, string) {
	parent := map[model.Point]model.Point{start: start}
	for _, b := range blocked {
		if b != start {
			parent[b] = b
		}
	}
	queue := []model.Point{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if id, ok := receptors[cur]; ok {
			return walkBack(parent, start, cur), id
		}
		for _, n := range g.Neighbors(cur) {
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = cur
			queue = append(queue, n)
		}
	}
	return nil, ""
}
