package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/unifilar/kb"
	"github.com/signalsfoundry/unifilar/model"
)

const wire model.Color = "#dc2626"

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func paintCells(g *kb.Grid, pts ...model.Point) {
	for _, p := range pts {
		g.Paint(p, wire)
	}
}

func hline(y, x0, x1 int) []model.Point {
	var out []model.Point
	for x := x0; x <= x1; x++ {
		out = append(out, model.Pt(x, y))
	}
	return out
}

func vline(x, y0, y1 int) []model.Point {
	var out []model.Point
	for y := y0; y <= y1; y++ {
		out = append(out, model.Pt(x, y))
	}
	return out
}

func newRegistry(g *kb.Grid) *TerminalRegistry {
	return NewTerminalRegistry(g, WithIDGenerator(seqIDs("t")))
}

func mustAdd(t *testing.T, reg *TerminalRegistry, p model.Point, kind model.TerminalKind) *model.Terminal {
	t.Helper()
	term, err := reg.Add(p, kind)
	if err != nil {
		t.Fatalf("Add(%v, %s): %v", p, kind, err)
	}
	return term
}

func buildIndex(g *kb.Grid, reg *TerminalRegistry) *RouteIndex {
	return BuildRouteIndex(BuildGraph(g), reg.Live(g), g.Version()+reg.Version())
}

// crossFixture paints an emitter arm entering a four-way junction at (2,2):
//
//	    R1 (2,0)
//	       |
//	E (0,2)-(2,2)-(4,2) R2
//	       |
//	     (2,4) dead end
func crossFixture(t *testing.T) (*kb.Grid, *TerminalRegistry, *model.Terminal, *model.Terminal, *model.Terminal) {
	t.Helper()
	g := kb.NewGrid()
	paintCells(g, hline(2, 0, 4)...)
	paintCells(g, vline(2, 0, 4)...)
	reg := newRegistry(g)
	e := mustAdd(t, reg, model.Pt(0, 2), model.TerminalEmitter)
	r1 := mustAdd(t, reg, model.Pt(2, 0), model.TerminalReceptor)
	r2 := mustAdd(t, reg, model.Pt(4, 2), model.TerminalReceptor)
	return g, reg, e, r1, r2
}

type fixedRNG struct{ picks []int }

func (r *fixedRNG) IntN(n int) int {
	if len(r.picks) == 0 {
		return 0
	}
	v := r.picks[0]
	r.picks = r.picks[1:]
	return v % n
}

type fakeScheduler struct {
	fns       map[string]func()
	intervals map[string]time.Duration
	log       []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		fns:       make(map[string]func()),
		intervals: make(map[string]time.Duration),
	}
}

func (f *fakeScheduler) Every(key string, d time.Duration, fn func()) {
	f.log = append(f.log, "every "+key+" "+d.String())
	f.fns[key] = fn
	f.intervals[key] = d
}

func (f *fakeScheduler) Cancel(key string) bool {
	f.log = append(f.log, "cancel "+key)
	_, ok := f.fns[key]
	delete(f.fns, key)
	delete(f.intervals, key)
	return ok
}

func (f *fakeScheduler) fire(key string) {
	if fn, ok := f.fns[key]; ok {
		fn()
	}
}

type countingObserver struct {
	spawned int
	retired map[RetireReason]int
	dropped map[DropReason]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		retired: make(map[RetireReason]int),
		dropped: make(map[DropReason]int),
	}
}

func (o *countingObserver) ParticleSpawned(string, int)           { o.spawned++ }
func (o *countingObserver) ParticleRetired(r RetireReason, n int) { o.retired[r] += n }
func (o *countingObserver) EmissionDropped(r DropReason)          { o.dropped[r]++ }
