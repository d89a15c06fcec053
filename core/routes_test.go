package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/unifilar/kb"
	"github.com/signalsfoundry/unifilar/model"
)

func TestRouteShortestLength(t *testing.T) {
	for _, L := range []int{1, 4, 9} {
		g := kb.NewGrid()
		paintCells(g, hline(0, 0, L)...)
		reg := newRegistry(g)
		e := mustAdd(t, reg, model.Pt(0, 0), model.TerminalEmitter)
		r := mustAdd(t, reg, model.Pt(L, 0), model.TerminalReceptor)

		idx := buildIndex(g, reg)
		route, ok := idx.Route(e.ID, r.ID)
		if !ok {
			t.Fatalf("L=%d: no route", L)
		}
		if route.Len() != L+1 {
			t.Fatalf("L=%d: route has %d cells, want %d", L, route.Len(), L+1)
		}
		if route.Cells[0] != e.Cell() || route.Cells[L] != r.Cell() {
			t.Fatalf("L=%d: route endpoints %v..%v", L, route.Cells[0], route.Cells[L])
		}
	}
}

func TestRouteReachabilityCompleteness(t *testing.T) {
	g := kb.NewGrid()
	paintCells(g, hline(0, 0, 4)...)
	reg := newRegistry(g)
	e := mustAdd(t, reg, model.Pt(2, 0), model.TerminalEmitter)
	left := mustAdd(t, reg, model.Pt(0, 0), model.TerminalReceptor)
	right := mustAdd(t, reg, model.Pt(4, 0), model.TerminalReceptor)

	routes := buildIndex(g, reg).RoutesFrom(e.ID)
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	want := []model.Route{
		{EmitterID: e.ID, ReceptorID: left.ID, Cells: []model.Point{{X: 2, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}}},
		{EmitterID: e.ID, ReceptorID: right.ID, Cells: []model.Point{{X: 2, Y: 0}, {X: 3, Y: 0}, {X: 4, Y: 0}}},
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Fatalf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestRouteContinuesPastFirstReceptor(t *testing.T) {
	g := kb.NewGrid()
	paintCells(g, hline(0, 0, 6)...)
	reg := newRegistry(g)
	e := mustAdd(t, reg, model.Pt(0, 0), model.TerminalEmitter)
	near := mustAdd(t, reg, model.Pt(3, 0), model.TerminalReceptor)
	far := mustAdd(t, reg, model.Pt(6, 0), model.TerminalReceptor)

	idx := buildIndex(g, reg)
	if _, ok := idx.Route(e.ID, near.ID); !ok {
		t.Fatalf("missing route to near receptor")
	}
	r, ok := idx.Route(e.ID, far.ID)
	if !ok || r.Len() != 7 {
		t.Fatalf("route to far receptor = %+v,%v", r, ok)
	}
}

func TestRouteTieBreakFollowsNeighborOrder(t *testing.T) {
	// 3x3 ring: two equal-length paths from (0,0) to (2,2).
	g := kb.NewGrid()
	paintCells(g, hline(0, 0, 2)...)
	paintCells(g, hline(2, 0, 2)...)
	paintCells(g, model.Pt(0, 1), model.Pt(2, 1))
	reg := newRegistry(g)
	e := mustAdd(t, reg, model.Pt(0, 0), model.TerminalEmitter)
	mustAdd(t, reg, model.Pt(2, 2), model.TerminalReceptor)

	for i := 0; i < 5; i++ {
		routes := buildIndex(g, reg).RoutesFrom(e.ID)
		if len(routes) != 1 {
			t.Fatalf("got %d routes, want 1", len(routes))
		}
		want := []model.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 2}, {X: 1, Y: 2}, {X: 2, Y: 2}}
		if diff := cmp.Diff(want, routes[0].Cells); diff != "" {
			t.Fatalf("tie-break path (-want +got):\n%s", diff)
		}
	}
}

func TestRouteIndexSkipsInactiveAndStale(t *testing.T) {
	g := kb.NewGrid()
	paintCells(g, hline(0, 0, 4)...)
	reg := newRegistry(g)
	e1 := mustAdd(t, reg, model.Pt(0, 0), model.TerminalEmitter)
	e2 := mustAdd(t, reg, model.Pt(1, 0), model.TerminalEmitter)
	r := mustAdd(t, reg, model.Pt(4, 0), model.TerminalReceptor)

	off := false
	if _, err := reg.Update(e2.ID, TerminalPatch{Active: &off}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	idx := buildIndex(g, reg)
	if idx.HasEmitter(e2.ID) || len(idx.RoutesFrom(e2.ID)) != 0 {
		t.Fatalf("inactive emitter has routes")
	}
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}

	// Erasing the receptor's cell leaves a stale terminal that is ignored.
	g.Erase(r.Cell())
	idx = buildIndex(g, reg)
	if !idx.HasEmitter(e1.ID) {
		t.Fatalf("live emitter missing from index")
	}
	if n := len(idx.RoutesFrom(e1.ID)); n != 0 {
		t.Fatalf("routes to stale receptor: %d", n)
	}
}

func TestRoutesFromEmitterOutsideGraph(t *testing.T) {
	g := kb.NewGrid()
	paintCells(g, hline(0, 0, 2)...)
	graph := BuildGraph(g)
	e := &model.Terminal{ID: "e", Kind: model.TerminalEmitter, X: 9, Y: 9, Active: true}
	if routes := RoutesFromEmitter(graph, e, map[model.Point]string{{X: 2, Y: 0}: "r"}); routes != nil {
		t.Fatalf("routes = %v, want none", routes)
	}
}

func TestDisconnectedReceptorHasNoRoute(t *testing.T) {
	g := kb.NewGrid()
	paintCells(g, hline(0, 0, 1)...)
	paintCells(g, hline(0, 3, 4)...)
	reg := newRegistry(g)
	e := mustAdd(t, reg, model.Pt(0, 0), model.TerminalEmitter)
	mustAdd(t, reg, model.Pt(4, 0), model.TerminalReceptor)

	idx := buildIndex(g, reg)
	if !idx.HasEmitter(e.ID) || len(idx.RoutesFrom(e.ID)) != 0 {
		t.Fatalf("unreachable receptor produced routes")
	}
}
