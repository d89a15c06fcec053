package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	"github.com/signalsfoundry/unifilar/model"
)

const wire model.Color = "#dc2626"

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("b%d", n)
	}
}

func newTestState(t *testing.T, opts ...Option) *DiagramState {
	t.Helper()
	opts = append([]Option{WithTerminalIDs(seqIDs()), WithRNG(core.NewSeededRNG(1))}, opts...)
	return NewDiagramState(logging.Noop(), opts...)
}

// lineDiagram paints (0,0)..(n,0) with an emitter on the left end and a
// receptor on the right end.
func lineDiagram(t *testing.T, s *DiagramState, n int) (e, r *model.Terminal) {
	t.Helper()
	ctx := context.Background()
	s.PaintLine(ctx, model.Pt(0, 0), model.Pt(n, 0), wire)
	e, err := s.AddTerminal(ctx, model.Pt(0, 0), model.TerminalEmitter)
	if err != nil {
		t.Fatalf("AddTerminal emitter: %v", err)
	}
	r, err = s.AddTerminal(ctx, model.Pt(n, 0), model.TerminalReceptor)
	if err != nil {
		t.Fatalf("AddTerminal receptor: %v", err)
	}
	return e, r
}

func ptr[T any](v T) *T { return &v }

func TestFiveCellScenarioThroughState(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 4)
	s.SetSparkConfig(ctx, core.SparkPatch{Speed: ptr(1.0), IntervalMs: ptr(5000)})

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Step(time.Second)
	s.Step(time.Second)

	f := s.Frame()
	if len(f.Particles) != 1 {
		t.Fatalf("particles = %d, want 1", len(f.Particles))
	}
	p := f.Particles[0]
	if p.Position != (core.PixelPoint{X: 30, Y: 6}) {
		t.Fatalf("position = %+v, want {30 6}", p.Position)
	}
	if len(p.Trail) != 2 || p.Trail[0].X != 18 || p.Trail[1].X != 6 {
		t.Fatalf("trail = %+v, want cells (1,0),(0,0)", p.Trail)
	}
	if math.Abs(p.Trail[0].Opacity-2.0/3) > 1e-9 || math.Abs(p.Trail[1].Opacity-1.0/3) > 1e-9 {
		t.Fatalf("trail opacity = %v, %v", p.Trail[0].Opacity, p.Trail[1].Opacity)
	}

	s.Step(time.Second)
	s.Step(time.Second)
	if n := len(s.Frame().Particles); n != 0 {
		t.Fatalf("particles after 4 steps = %d, want 0", n)
	}
	if !s.Running() {
		t.Fatalf("simulation stopped by itself")
	}
}

func TestEmissionScheduleFiresDuringSteps(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 20)
	s.SetSparkConfig(ctx, core.SparkPatch{Speed: ptr(1.0), IntervalMs: ptr(500)})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10; i++ {
		s.Step(100 * time.Millisecond)
	}
	// One immediate emission plus one at 500ms and one at 1s.
	if n := len(s.Frame().Particles); n != 3 {
		t.Fatalf("particles = %d, want 3", n)
	}
}

func TestTrailHiddenWhenDisabled(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 6)
	s.SetSparkConfig(ctx, core.SparkPatch{Speed: ptr(1.0), Trail: ptr(false)})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Step(2 * time.Second)
	f := s.Frame()
	if len(f.Particles) == 0 || f.Particles[0].Trail != nil || f.Spark.Trail {
		t.Fatalf("frame = %+v", f)
	}
}

func TestStartRequiresEmitterAndReceptor(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	s.PaintLine(ctx, model.Pt(0, 0), model.Pt(4, 0), wire)

	if err := s.Start(ctx); !errors.Is(err, ErrNoEmitters) {
		t.Fatalf("Start on empty diagram err = %v, want ErrNoEmitters", err)
	}
	e, _ := s.AddTerminal(ctx, model.Pt(0, 0), model.TerminalEmitter)
	if err := s.Start(ctx); !errors.Is(err, ErrNoReceptors) {
		t.Fatalf("Start without receptor err = %v, want ErrNoReceptors", err)
	}
	r, _ := s.AddTerminal(ctx, model.Pt(4, 0), model.TerminalReceptor)

	if _, err := s.UpdateTerminal(ctx, e.ID, core.TerminalPatch{Active: ptr(false)}); err != nil {
		t.Fatalf("UpdateTerminal: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrNoEmitters) {
		t.Fatalf("Start with inactive emitter err = %v, want ErrNoEmitters", err)
	}
	if _, err := s.UpdateTerminal(ctx, e.ID, core.TerminalPatch{Active: ptr(true)}); err != nil {
		t.Fatalf("UpdateTerminal: %v", err)
	}

	// A receptor on an erased cell does not count.
	s.Erase(ctx, r.Cell())
	if err := s.Start(ctx); !errors.Is(err, ErrNoReceptors) {
		t.Fatalf("Start with stale receptor err = %v, want ErrNoReceptors", err)
	}
	s.Paint(ctx, r.Cell(), wire)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if running, err := s.Toggle(ctx); err != nil || running {
		t.Fatalf("Toggle = %v,%v want stopped", running, err)
	}
	if running, err := s.Toggle(ctx); err != nil || !running {
		t.Fatalf("Toggle = %v,%v want running", running, err)
	}
}

func TestTopologyChangeRebuildsRoutes(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	e, _ := lineDiagram(t, s, 4)

	routes := s.Routes()
	if len(routes) != 1 || routes[0].EmitterID != e.ID || routes[0].Len() != 5 {
		t.Fatalf("routes = %+v", routes)
	}
	v := s.TopologyVersion()

	s.PaintLine(ctx, model.Pt(4, 0), model.Pt(4, 3), wire)
	r2, err := s.AddTerminal(ctx, model.Pt(4, 3), model.TerminalReceptor)
	if err != nil {
		t.Fatalf("AddTerminal: %v", err)
	}
	if s.TopologyVersion() == v {
		t.Fatalf("topology version did not move")
	}
	routes = s.Routes()
	if len(routes) != 2 || routes[1].ReceptorID != r2.ID {
		t.Fatalf("routes after extension = %+v", routes)
	}

	// Cutting the line drops every route.
	s.Erase(ctx, model.Pt(2, 0))
	if routes := s.Routes(); len(routes) != 0 {
		t.Fatalf("routes after cut = %+v", routes)
	}
}

func TestInFlightParticleKeepsRouteAfterCut(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 6)
	s.SetSparkConfig(ctx, core.SparkPatch{Speed: ptr(1.0), IntervalMs: ptr(5000)})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Step(time.Second)
	s.Erase(ctx, model.Pt(3, 0))
	s.Step(time.Second)
	if n := len(s.Frame().Particles); n != 1 {
		t.Fatalf("particles = %d, want the in-flight one", n)
	}
}

func TestPaintLineLocksAxis(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	got := s.PaintLine(ctx, model.Pt(0, 0), model.Pt(5, 1), wire)
	want := []model.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}, {X: 4, Y: 0}, {X: 5, Y: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("horizontal stroke (-want +got):\n%s", diff)
	}

	got = s.PaintLine(ctx, model.Pt(9, 4), model.Pt(8, 1), wire)
	want = []model.Point{{X: 9, Y: 4}, {X: 9, Y: 3}, {X: 9, Y: 2}, {X: 9, Y: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("vertical stroke (-want +got):\n%s", diff)
	}

	if got := s.PaintLine(ctx, model.Pt(20, 20), model.Pt(21, 21), wire); len(got) != 2 {
		t.Fatalf("short diagonal stroke = %v", got)
	}
}

func TestClearKeepsTerminals(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 4)
	if err := s.Import(ctx, []byte(`{"celdas":{"0,0":"#dc2626"},"textos":[{"id":"t1"}]}`)); err != nil {
		t.Fatalf("Import: %v", err)
	}
	lineDiagram(t, s, 4)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Clear(ctx)
	d := s.Snapshot()
	if s.Running() || len(d.Cells) != 0 || len(d.Texts) != 0 {
		t.Fatalf("after Clear: running=%v diagram=%+v", s.Running(), d)
	}
	if len(d.Terminals) != 2 {
		t.Fatalf("terminals after Clear = %d, want 2", len(d.Terminals))
	}
	for _, ft := range s.Frame().Terminals {
		if !ft.Stale {
			t.Errorf("terminal %s not stale after Clear", ft.ID)
		}
	}
	if got := s.Routes(); len(got) != 0 {
		t.Errorf("routes after Clear = %v", got)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrNoEmitters) {
		t.Errorf("Start after Clear = %v, want ErrNoEmitters", err)
	}

	// Repainting the line brings the terminals back.
	s.PaintLine(ctx, model.Pt(0, 0), model.Pt(4, 0), wire)
	if got := s.Routes(); len(got) != 1 {
		t.Fatalf("routes after repaint = %d, want 1", len(got))
	}
}

func TestPersistHookRunsInMutationOrder(t *testing.T) {
	ctx := context.Background()
	var (
		mu      sync.Mutex
		calls   int
		saved   []int
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	hook := func(_ context.Context, d core.Diagram) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		saved = append(saved, len(d.Cells))
		mu.Unlock()
	}
	s := newTestState(t, WithPersistHook(hook))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Paint(ctx, model.Pt(0, 0), wire)
	}()
	<-entered
	go func() {
		defer wg.Done()
		s.Paint(ctx, model.Pt(1, 0), wire)
	}()
	// Give the second edit time to reach its save while the first is held.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if diff := cmp.Diff([]int{1, 2}, saved); diff != "" {
		t.Fatalf("saved cell counts (-want +got):\n%s", diff)
	}
	if got := len(s.Snapshot().Cells); got != saved[len(saved)-1] {
		t.Fatalf("last save has %d cells, diagram has %d", saved[len(saved)-1], got)
	}
}

type persisted struct {
	mu    sync.Mutex
	docs  []core.Diagram
	calls int
}

func (p *persisted) hook(_ context.Context, d core.Diagram) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, d)
	p.calls++
}

func (p *persisted) last() core.Diagram {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docs[len(p.docs)-1]
}

func TestPersistHook(t *testing.T) {
	ctx := context.Background()
	p := &persisted{}
	s := newTestState(t, WithPersistHook(p.hook))

	s.Paint(ctx, model.Pt(1, 1), wire)
	if p.calls != 1 || p.last().Cells[model.Pt(1, 1)] != wire {
		t.Fatalf("paint not persisted: %+v", p.docs)
	}

	// No-ops are not persisted.
	s.Erase(ctx, model.Pt(7, 7))
	s.FloodFill(ctx, model.Pt(7, 7), "#000")
	s.EraseArea(ctx, model.Pt(5, 5), model.Pt(6, 6))
	s.TranslateGroup(ctx, []model.Point{{X: 1, Y: 1}}, 0, 0)
	if _, err := s.AddTerminal(ctx, model.Pt(9, 9), model.TerminalEmitter); err == nil {
		t.Fatalf("AddTerminal on empty cell succeeded")
	}
	if p.calls != 1 {
		t.Fatalf("no-op mutations persisted: calls = %d", p.calls)
	}

	if _, err := s.AddTerminal(ctx, model.Pt(1, 1), model.TerminalEmitter); err != nil {
		t.Fatalf("AddTerminal: %v", err)
	}
	if got := p.last().Terminals; len(got) != 1 || got[0].Name != "E1" {
		t.Fatalf("terminal not persisted: %+v", got)
	}

	s.SetSparkConfig(ctx, core.SparkPatch{MaxParticles: ptr(42)})
	if p.last().Sparks.MaxParticles != 42 {
		t.Fatalf("spark config not persisted")
	}
	calls := p.calls
	s.SetSparkConfig(ctx, core.SparkPatch{MaxParticles: ptr(42)})
	if p.calls != calls {
		t.Fatalf("unchanged spark config persisted")
	}

	if w := s.SetLineWidth(ctx, 100); w != MaxLineWidth || p.last().LineWidth != MaxLineWidth {
		t.Fatalf("SetLineWidth = %d, persisted %d", w, p.last().LineWidth)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	src := newTestState(t, WithClock(func() time.Time { return now }))
	lineDiagram(t, src, 3)
	src.Paint(ctx, model.Pt(10, 10), "#2563eb")
	src.SetSparkConfig(ctx, core.SparkPatch{Speed: ptr(3.0)})

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Contains(data, []byte(`"exportadoEn": "2025-02-03T04:05:06.000Z"`)) {
		t.Fatalf("export lacks timestamp:\n%s", data)
	}

	dst := newTestState(t)
	if err := dst.Import(ctx, data); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Fatalf("round trip (-src +dst):\n%s", diff)
	}
	if dst.SparkConfig().Speed != 3 {
		t.Fatalf("spark config not imported")
	}
	if len(dst.Routes()) != 1 {
		t.Fatalf("imported diagram has no route")
	}
}

func TestImportRejectsCorruptDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 2)
	before := s.Snapshot()

	if err := s.Import(ctx, []byte(`{"celdas": [`)); !errors.Is(err, core.ErrCorruptDiagram) {
		t.Fatalf("Import err = %v, want ErrCorruptDiagram", err)
	}
	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Fatalf("corrupt import changed the diagram (-before +after):\n%s", diff)
	}
}

func TestLoadCorruptStartsEmpty(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &logs})
	s := NewDiagramState(log)
	s.Paint(ctx, model.Pt(0, 0), wire)

	if err := s.Load(ctx, strings.NewReader("not json")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Snapshot().IsEmpty() {
		t.Fatalf("corrupt load kept cells")
	}
	if !strings.Contains(logs.String(), "stored diagram is corrupt") {
		t.Fatalf("corrupt load was not logged:\n%s", logs.String())
	}

	if err := s.Load(ctx, strings.NewReader(`{"2,3":"#16a34a"}`)); err != nil {
		t.Fatalf("Load legacy: %v", err)
	}
	if c := s.Snapshot().Cells[model.Pt(2, 3)]; c != "#16a34a" {
		t.Fatalf("legacy load cell = %q", c)
	}
}

type stubMetrics struct {
	cells, emitters, receptors, routes int
	running                            bool
}

func (m *stubMetrics) SetDiagramCounts(cells, emitters, receptors, routes int) {
	m.cells, m.emitters, m.receptors, m.routes = cells, emitters, receptors, routes
}

func (m *stubMetrics) SetRunning(running bool) { m.running = running }

type stubSparkMetrics struct {
	spawned, retired, dropped int
	active                    int
	rebuilds                  int
}

func (m *stubSparkMetrics) ParticleSpawned(string, int)                { m.spawned++ }
func (m *stubSparkMetrics) ParticleRetired(_ core.RetireReason, n int) { m.retired += n }
func (m *stubSparkMetrics) EmissionDropped(core.DropReason)            { m.dropped++ }
func (m *stubSparkMetrics) SetActiveParticles(n int)                   { m.active = n }
func (m *stubSparkMetrics) ObserveRouteComputation(time.Duration)      { m.rebuilds++ }

func TestMetricsRecorders(t *testing.T) {
	ctx := context.Background()
	m := &stubMetrics{}
	sm := &stubSparkMetrics{}
	s := newTestState(t, WithMetricsRecorder(m), WithSparkMetrics(sm))
	lineDiagram(t, s, 4)

	if m.cells != 5 || m.emitters != 1 || m.receptors != 1 {
		t.Fatalf("counts = %+v", m)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.running || m.routes != 1 || sm.spawned != 1 || sm.active != 1 || sm.rebuilds == 0 {
		t.Fatalf("after Start: metrics=%+v spark=%+v", m, sm)
	}
	s.Stop(ctx)
	if m.running || sm.retired != 1 || sm.active != 0 {
		t.Fatalf("after Stop: metrics=%+v spark=%+v", m, sm)
	}
}

func TestConcurrentEditsAndSteps(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	lineDiagram(t, s, 30)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Step(16 * time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s.Paint(ctx, model.Pt(i%30, 1), wire)
			s.Erase(ctx, model.Pt(i%30, 1))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.Frame()
			_ = s.Routes()
		}
	}()
	wg.Wait()

	if len(s.Routes()) != 1 {
		t.Fatalf("routes = %d after concurrent edits, want 1", len(s.Routes()))
	}
}

func TestMultiSparkMetricsFansOut(t *testing.T) {
	ctx := context.Background()
	a, b := &stubSparkMetrics{}, &stubSparkMetrics{}
	s := newTestState(t, WithSparkMetrics(MultiSparkMetrics(a, nil, b)))
	lineDiagram(t, s, 4)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(ctx)
	for i, m := range []*stubSparkMetrics{a, b} {
		if m.spawned != 1 || m.retired != 1 || m.rebuilds == 0 {
			t.Fatalf("recorder %d = %+v", i, m)
		}
	}
}
