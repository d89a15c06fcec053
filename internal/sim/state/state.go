// internal/sim/state/state.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	"github.com/signalsfoundry/unifilar/kb"
	"github.com/signalsfoundry/unifilar/model"
	"github.com/signalsfoundry/unifilar/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Re-export terminal sentinel errors so callers can depend on state.*
// instead of core.* directly if they want to.
var (
	// ErrCellNotPainted indicates a terminal was placed on an empty cell.
	ErrCellNotPainted = core.ErrCellNotPainted
	// ErrTerminalOccupied indicates the cell already holds a terminal.
	ErrTerminalOccupied = core.ErrTerminalOccupied
	// ErrTerminalNotFound indicates a requested terminal was not found.
	ErrTerminalNotFound = core.ErrTerminalNotFound
	// ErrInvalidTerminalKind indicates an unknown terminal kind.
	ErrInvalidTerminalKind = core.ErrInvalidTerminalKind
	// ErrNoEmitters indicates Start found no active emitter on a painted cell.
	ErrNoEmitters = errors.New("no active emitter")
	// ErrNoReceptors indicates Start found no receptor on a painted cell.
	ErrNoReceptors = errors.New("no receptor")
)

// Line widths accepted by SetLineWidth, in pixels per cell.
const (
	MinLineWidth = 8
	MaxLineWidth = 28
)

// MetricsRecorder receives count updates for the diagram.
type MetricsRecorder interface {
	SetDiagramCounts(cells, emitters, receptors, routes int)
	SetRunning(running bool)
}

// SparkMetricsRecorder observes the particle simulation.
type SparkMetricsRecorder interface {
	core.SimulatorObserver
	SetActiveParticles(n int)
	ObserveRouteComputation(d time.Duration)
}

// MultiSparkMetrics fans observations out to every non-nil recorder.
func MultiSparkMetrics(rs ...SparkMetricsRecorder) SparkMetricsRecorder {
	var out multiSparkMetrics
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiSparkMetrics []SparkMetricsRecorder

func (m multiSparkMetrics) ParticleSpawned(emitterID string, routeLen int) {
	for _, r := range m {
		r.ParticleSpawned(emitterID, routeLen)
	}
}

func (m multiSparkMetrics) ParticleRetired(reason core.RetireReason, n int) {
	for _, r := range m {
		r.ParticleRetired(reason, n)
	}
}

func (m multiSparkMetrics) EmissionDropped(reason core.DropReason) {
	for _, r := range m {
		r.EmissionDropped(reason)
	}
}

func (m multiSparkMetrics) SetActiveParticles(n int) {
	for _, r := range m {
		r.SetActiveParticles(n)
	}
}

func (m multiSparkMetrics) ObserveRouteComputation(d time.Duration) {
	for _, r := range m {
		r.ObserveRouteComputation(d)
	}
}

// PersistFunc is called after every mutation that changed the diagram, with
// a snapshot taken under the state lock. It runs outside that lock, one call
// at a time, in mutation order.
type PersistFunc func(ctx context.Context, d core.Diagram)

// DiagramState owns one diagram: the grid, its terminals, the route index
// derived from both and the particle simulation running over it.
//
// A single mutex serialises every mutation and every frame step, so the
// emission schedules (virtual timers advanced by Step) never fire
// concurrently with a tick or an edit.
type DiagramState struct {
	mu sync.Mutex
	// persistMu orders persist hook calls; acquired while holding mu.
	persistMu sync.Mutex

	grid  *kb.Grid
	terms *core.TerminalRegistry
	sched *timectrl.Scheduler
	sim   *core.ParticleSimulator

	texts     []json.RawMessage
	lineWidth int

	// settingsVersion moves when line width or spark settings change.
	settingsVersion uint64

	// routes is rebuilt lazily whenever the topology version moves.
	routes *core.RouteIndex

	lastEvent kb.Event

	log          logging.Logger
	metrics      MetricsRecorder
	sparkMetrics SparkMetricsRecorder
	persist      PersistFunc
	now          func() time.Time
	tracer       trace.Tracer

	// construction-only settings
	simOpts []core.SimulatorOption
	regOpts []core.RegistryOption
}

// Option customises DiagramState construction.
type Option func(*DiagramState)

// WithMetricsRecorder attaches an optional metrics recorder for diagram counts.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *DiagramState) {
		s.metrics = m
	}
}

// WithSparkMetrics attaches an observer for the particle simulation.
func WithSparkMetrics(m SparkMetricsRecorder) Option {
	return func(s *DiagramState) {
		s.sparkMetrics = m
		if m != nil {
			s.simOpts = append(s.simOpts, core.WithObserver(m))
		}
	}
}

// WithPersistHook registers the function that stores the diagram after
// each change.
func WithPersistHook(fn PersistFunc) Option {
	return func(s *DiagramState) {
		s.persist = fn
	}
}

// WithRNG injects the route picker, typically core.NewSeededRNG.
func WithRNG(rng core.RNG) Option {
	return func(s *DiagramState) {
		s.simOpts = append(s.simOpts, core.WithRNG(rng))
	}
}

// WithBranchMode selects how particles behave at junctions.
func WithBranchMode(m core.BranchMode) Option {
	return func(s *DiagramState) {
		s.simOpts = append(s.simOpts, core.WithBranchMode(m))
	}
}

// WithSparkConfig sets the initial spark configuration.
func WithSparkConfig(cfg core.SparkConfig) Option {
	return func(s *DiagramState) {
		cfg = cfg.Clamp()
		s.simOpts = append(s.simOpts, core.WithSparkConfig(cfg))
		s.regOpts = append(s.regOpts, core.WithEmissionInterval(cfg.IntervalMs))
	}
}

// WithTerminalIDs replaces the UUID-based terminal ID generator.
func WithTerminalIDs(fn func() string) Option {
	return func(s *DiagramState) {
		s.regOpts = append(s.regOpts, core.WithIDGenerator(fn))
	}
}

// WithClock replaces time.Now for export timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *DiagramState) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDiagramState builds an empty diagram.
func NewDiagramState(log logging.Logger, opts ...Option) *DiagramState {
	s := &DiagramState{
		grid:      kb.NewGrid(),
		sched:     timectrl.NewScheduler(),
		lineWidth: core.DefaultLineWidth,
		log:       logging.OrNoop(log),
		now:       time.Now,
		tracer:    otel.Tracer("github.com/signalsfoundry/unifilar/internal/sim/state"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.terms = core.NewTerminalRegistry(s.grid, s.regOpts...)
	s.sim = core.NewParticleSimulator(s.sched, s.simOpts...)
	s.grid.Subscribe(func(e kb.Event) {
		// Grid mutations only happen under s.mu.
		s.lastEvent = e
	})

	s.mu.Lock()
	s.ensureRoutesLocked()
	s.updateMetricsLocked()
	s.mu.Unlock()
	return s
}

// TopologyVersion changes whenever cells or terminals change.
func (s *DiagramState) TopologyVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topologyVersionLocked()
}

// RenderVersion changes whenever anything drawn in an idle frame changes:
// the topology, the line width or the spark settings.
func (s *DiagramState) RenderVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topologyVersionLocked() + s.settingsVersion
}

func (s *DiagramState) topologyVersionLocked() uint64 {
	return s.grid.Version() + s.terms.Version()
}

// ---------------------------------------------------------------------------
// Grid editing

// Paint sets p to color.
func (s *DiagramState) Paint(ctx context.Context, p model.Point, color model.Color) {
	s.mu.Lock()
	s.grid.Paint(p, color)
	snap := s.changedLocked(ctx, "paint")
	s.unlockAndPersist(ctx, snap)
}

// PaintLine paints a straight stroke from a towards b. Once b strays more
// than one cell from a the stroke locks to the dominant axis and b is
// projected onto it. It returns the painted cells.
func (s *DiagramState) PaintLine(ctx context.Context, a, b model.Point, color model.Color) []model.Point {
	var lock kb.LineLock
	lock.Begin(a)
	b = lock.Project(b)
	pts := linePoints(a, b)

	s.mu.Lock()
	for _, p := range pts {
		s.grid.Paint(p, color)
	}
	snap := s.changedLocked(ctx, "paint_line")
	s.unlockAndPersist(ctx, snap)
	return pts
}

// Erase removes p and reports whether it was painted.
func (s *DiagramState) Erase(ctx context.Context, p model.Point) bool {
	s.mu.Lock()
	if !s.grid.Erase(p) {
		s.mu.Unlock()
		return false
	}
	snap := s.changedLocked(ctx, "erase")
	s.unlockAndPersist(ctx, snap)
	return true
}

// FloodFill recolours the same-colour region around p.
func (s *DiagramState) FloodFill(ctx context.Context, p model.Point, color model.Color) []model.Point {
	s.mu.Lock()
	changed := s.grid.FloodFill(p, color)
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	snap := s.changedLocked(ctx, "flood_fill")
	s.unlockAndPersist(ctx, snap)
	return changed
}

// ConnectedComponent returns the same-colour region around p.
func (s *DiagramState) ConnectedComponent(p model.Point) []model.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.ConnectedComponent(p)
}

// TranslateGroup moves the given cells by (dx, dy). Terminals stay where
// they are.
func (s *DiagramState) TranslateGroup(ctx context.Context, pts []model.Point, dx, dy int) bool {
	s.mu.Lock()
	if !s.grid.TranslateGroup(pts, dx, dy) {
		s.mu.Unlock()
		return false
	}
	snap := s.changedLocked(ctx, "translate")
	s.unlockAndPersist(ctx, snap)
	return true
}

// EraseArea deletes every cell in the inclusive rectangle a..b.
func (s *DiagramState) EraseArea(ctx context.Context, a, b model.Point) bool {
	s.mu.Lock()
	if !s.grid.EraseArea(a, b) {
		s.mu.Unlock()
		return false
	}
	snap := s.changedLocked(ctx, "erase_area")
	s.unlockAndPersist(ctx, snap)
	return true
}

// SetLineWidth changes the cell size in pixels, clamped to
// [MinLineWidth, MaxLineWidth], and returns the value applied.
func (s *DiagramState) SetLineWidth(ctx context.Context, w int) int {
	w = max(MinLineWidth, min(MaxLineWidth, w))
	s.mu.Lock()
	if s.lineWidth == w {
		s.mu.Unlock()
		return w
	}
	s.lineWidth = w
	s.settingsVersion++
	snap := s.changedLocked(ctx, "line_width")
	s.unlockAndPersist(ctx, snap)
	return w
}

// LineWidth returns the cell size in pixels.
func (s *DiagramState) LineWidth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineWidth
}

// Clear stops the simulation and removes every cell and text. Terminals
// are kept; with their cells gone they are stale until repainted.
func (s *DiagramState) Clear(ctx context.Context) {
	log := logging.FromContext(ctx, s.log)

	s.mu.Lock()
	cells, terminals, texts := s.grid.Len(), s.terms.Len(), len(s.texts)
	log.Debug(ctx, "clearing diagram",
		logging.String("operation", "clear"),
		logging.Int("cells", cells),
		logging.Int("terminals", terminals),
		logging.Int("texts", texts),
	)
	s.stopLocked()
	s.grid.Clear()
	s.texts = nil
	snap := s.changedLocked(ctx, "clear")
	s.unlockAndPersist(ctx, snap)
}

// ---------------------------------------------------------------------------
// Terminals

// AddTerminal places an emitter or receptor on a painted cell.
func (s *DiagramState) AddTerminal(ctx context.Context, p model.Point, kind model.TerminalKind) (*model.Terminal, error) {
	s.mu.Lock()
	t, err := s.terms.Add(p, kind)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := s.changedLocked(ctx, "add_terminal")
	logging.FromContext(ctx, s.log).Debug(ctx, "terminal added",
		logging.String("terminal_id", t.ID),
		logging.String("kind", string(t.Kind)),
		logging.String("cell", p.Key()),
	)
	s.unlockAndPersist(ctx, snap)
	return t, nil
}

// RemoveTerminal deletes a terminal by ID.
func (s *DiagramState) RemoveTerminal(ctx context.Context, id string) error {
	s.mu.Lock()
	if err := s.terms.Remove(id); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.changedLocked(ctx, "remove_terminal")
	s.unlockAndPersist(ctx, snap)
	return nil
}

// RemoveTerminalAt deletes the terminal on p, if any.
func (s *DiagramState) RemoveTerminalAt(ctx context.Context, p model.Point) bool {
	s.mu.Lock()
	if !s.terms.RemoveAt(p) {
		s.mu.Unlock()
		return false
	}
	snap := s.changedLocked(ctx, "remove_terminal")
	s.unlockAndPersist(ctx, snap)
	return true
}

// UpdateTerminal patches a terminal's active flag, name or colour.
func (s *DiagramState) UpdateTerminal(ctx context.Context, id string, patch core.TerminalPatch) (*model.Terminal, error) {
	s.mu.Lock()
	t, err := s.terms.Update(id, patch)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := s.changedLocked(ctx, "update_terminal")
	s.unlockAndPersist(ctx, snap)
	return t, nil
}

// TerminalAt returns the terminal on p.
func (s *DiagramState) TerminalAt(p model.Point) (*model.Terminal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terms.At(p)
}

// Terminals returns every terminal, stale ones included, in creation order.
func (s *DiagramState) Terminals() []*model.Terminal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terms.All()
}

// Routes returns every emitter to receptor route of the current topology.
func (s *DiagramState) Routes() []model.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRoutesLocked().All()
}

// ---------------------------------------------------------------------------
// Simulation

// SparkConfig returns the active spark configuration.
func (s *DiagramState) SparkConfig() core.SparkConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Config()
}

// SetSparkConfig applies a partial configuration update and returns the
// clamped result. An interval change re-arms running emitters and is
// stamped on terminals created afterwards.
func (s *DiagramState) SetSparkConfig(ctx context.Context, patch core.SparkPatch) core.SparkConfig {
	s.mu.Lock()
	prev := s.sim.Config()
	cfg := patch.Apply(prev)
	if cfg == prev {
		s.mu.Unlock()
		return cfg
	}
	s.sim.SetConfig(cfg)
	s.terms.SetEmissionInterval(cfg.IntervalMs)
	s.settingsVersion++
	snap := s.snapshotLocked()
	logging.FromContext(ctx, s.log).Debug(ctx, "spark config updated",
		logging.Float("speed", cfg.Speed),
		logging.Int("interval_ms", cfg.IntervalMs),
		logging.Int("trail_length", cfg.TrailLength),
		logging.Int("max_particles", cfg.MaxParticles),
	)
	s.unlockAndPersist(ctx, snap)
	return cfg
}

// Start begins emitting. It fails with ErrNoEmitters or ErrNoReceptors when
// the live diagram lacks an active emitter or a receptor. Starting a running
// simulation restarts it.
func (s *DiagramState) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emitters, receptors := 0, 0
	for _, t := range s.terms.Live(s.grid) {
		switch {
		case t.Kind == model.TerminalEmitter && t.Active:
			emitters++
		case t.Kind == model.TerminalReceptor:
			receptors++
		}
	}
	if emitters == 0 {
		return ErrNoEmitters
	}
	if receptors == 0 {
		return ErrNoReceptors
	}

	idx := s.ensureRoutesLocked()
	s.sim.Start()
	if s.metrics != nil {
		s.metrics.SetRunning(true)
	}
	s.reportParticlesLocked()

	logging.FromContext(ctx, s.log).Info(ctx, "simulation started",
		logging.Int("emitters", emitters),
		logging.Int("receptors", receptors),
		logging.Int("routes", idx.Len()),
		logging.String("branch_mode", s.sim.Mode().String()),
	)
	return nil
}

// Stop cancels every emission schedule and discards every particle.
func (s *DiagramState) Stop(ctx context.Context) {
	s.mu.Lock()
	wasRunning := s.sim.Running()
	s.stopLocked()
	s.mu.Unlock()
	if wasRunning {
		logging.FromContext(ctx, s.log).Info(ctx, "simulation stopped")
	}
}

// Toggle starts a stopped simulation or stops a running one, returning the
// new running state.
func (s *DiagramState) Toggle(ctx context.Context) (bool, error) {
	if s.Running() {
		s.Stop(ctx)
		return false, nil
	}
	if err := s.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Running reports whether the simulation is emitting.
func (s *DiagramState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Running()
}

// Step advances the simulation by dt: routes are refreshed if the topology
// moved, particles advance, then emission schedules due within dt fire.
// Particles spawned by those schedules start moving on the next step.
func (s *DiagramState) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sim.Running() {
		return
	}
	s.ensureRoutesLocked()
	s.sim.Tick(dt)
	s.sched.Advance(dt)
	s.reportParticlesLocked()
}

func (s *DiagramState) stopLocked() {
	if !s.sim.Running() {
		return
	}
	s.sim.Stop()
	s.sched.CancelAll()
	if s.metrics != nil {
		s.metrics.SetRunning(false)
	}
	s.reportParticlesLocked()
}

// ---------------------------------------------------------------------------
// Persistence

// Snapshot returns the persisted form of the diagram.
func (s *DiagramState) Snapshot() core.Diagram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Export renders the diagram as a versioned export document.
func (s *DiagramState) Export(ctx context.Context) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "diagram.export")
	defer span.End()

	d := s.Snapshot()
	data, err := core.ExportDiagram(d, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("export diagram: %w", err)
	}
	span.SetAttributes(attribute.Int("cells", len(d.Cells)), attribute.Int("bytes", len(data)))
	return data, nil
}

// Import replaces the whole diagram with a document in any supported
// format. A document that fails to decode leaves the diagram untouched and
// returns an error wrapping core.ErrCorruptDiagram.
func (s *DiagramState) Import(ctx context.Context, data []byte) error {
	ctx, span := s.tracer.Start(ctx, "diagram.import")
	defer span.End()

	d, err := core.DecodeDiagram(data)
	if err != nil {
		span.RecordError(err)
		logging.FromContext(ctx, s.log).Warn(ctx, "diagram import rejected", logging.Err(err))
		return err
	}
	s.mu.Lock()
	snap := s.replaceLocked(ctx, d, "import")
	span.SetAttributes(attribute.Int("cells", s.grid.Len()), attribute.Int("terminals", s.terms.Len()))
	s.unlockAndPersist(ctx, snap)
	return nil
}

// Load restores a stored diagram from r, typically at startup. A corrupt
// document is logged and replaced by the empty diagram; only read failures
// are returned. Load does not call the persist hook.
func (s *DiagramState) Load(ctx context.Context, r io.Reader) error {
	d, err := core.ReadDiagram(r)
	if err != nil {
		if !errors.Is(err, core.ErrCorruptDiagram) {
			return err
		}
		logging.FromContext(ctx, s.log).Warn(ctx, "stored diagram is corrupt; starting empty", logging.Err(err))
	}
	s.mu.Lock()
	s.replaceLocked(ctx, d, "load")
	s.mu.Unlock()
	return nil
}

func (s *DiagramState) replaceLocked(ctx context.Context, d core.Diagram, op string) core.Diagram {
	s.grid.Replace(d.Cells)
	if skipped := s.terms.Replace(d.Terminals); skipped > 0 {
		logging.FromContext(ctx, s.log).Warn(ctx, "skipped invalid terminals",
			logging.String("operation", op),
			logging.Int("skipped", skipped),
		)
	}
	s.texts = d.Texts
	s.lineWidth = d.LineWidth
	if s.lineWidth <= 0 {
		s.lineWidth = core.DefaultLineWidth
	}
	s.sim.SetConfig(d.Sparks)
	s.terms.SetEmissionInterval(s.sim.Config().IntervalMs)
	s.settingsVersion++
	return s.changedLocked(ctx, op)
}

func (s *DiagramState) snapshotLocked() core.Diagram {
	cells, _ := s.grid.Snapshot()
	all := s.terms.All()
	terms := make([]model.Terminal, len(all))
	for i, t := range all {
		terms[i] = *t
	}
	return core.Diagram{
		Cells:     cells,
		Texts:     append([]json.RawMessage(nil), s.texts...),
		LineWidth: s.lineWidth,
		Terminals: terms,
		Sparks:    s.sim.Config(),
	}
}

// unlockAndPersist releases s.mu and hands d to the persist hook. persistMu
// is taken before s.mu is released, so snapshots reach the hook in the
// order they were taken and a slow save cannot land after a newer one.
func (s *DiagramState) unlockAndPersist(ctx context.Context, d core.Diagram) {
	if s.persist == nil {
		s.mu.Unlock()
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Unlock()
	s.persist(ctx, d)
}

// changedLocked runs the bookkeeping shared by every mutation and returns
// the snapshot to hand to the persist hook.
func (s *DiagramState) changedLocked(ctx context.Context, op string) core.Diagram {
	logging.FromContext(ctx, s.log).Debug(ctx, "diagram changed",
		logging.String("operation", op),
		logging.String("grid_event", s.lastEvent.Type.String()),
		logging.Int("event_cells", len(s.lastEvent.Cells)),
		logging.Uint64("topology_version", s.topologyVersionLocked()),
	)
	s.updateMetricsLocked()
	if s.persist == nil {
		return core.Diagram{}
	}
	return s.snapshotLocked()
}

// ensureRoutesLocked rebuilds the graph and route index when the topology
// version moved since the last build, and hands the new index to the
// simulator.
func (s *DiagramState) ensureRoutesLocked() *core.RouteIndex {
	v := s.topologyVersionLocked()
	if s.routes != nil && s.routes.Version() == v {
		return s.routes
	}

	_, span := s.tracer.Start(context.Background(), "diagram.routes")
	start := time.Now()
	graph := core.BuildGraph(s.grid)
	idx := core.BuildRouteIndex(graph, s.terms.Live(s.grid), v)
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("cells", graph.Len()),
		attribute.Int("routes", idx.Len()),
		attribute.Int64("topology_version", int64(v)),
	)
	span.End()

	s.routes = idx
	s.sim.SetRoutes(idx)
	if s.sparkMetrics != nil {
		s.sparkMetrics.ObserveRouteComputation(elapsed)
	}
	s.updateMetricsLocked()
	return idx
}

// updateMetricsLocked pushes current entity counts into the metrics recorder.
// Caller must hold s.mu when invoking this helper.
func (s *DiagramState) updateMetricsLocked() {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.SetDiagramCounts(
		s.grid.Len(),
		len(s.terms.ByKind(model.TerminalEmitter)),
		len(s.terms.ByKind(model.TerminalReceptor)),
		s.routes.Len(),
	)
}

func (s *DiagramState) reportParticlesLocked() {
	if s.sparkMetrics != nil {
		s.sparkMetrics.SetActiveParticles(s.sim.Len())
	}
}

// linePoints enumerates the cells of an axis-aligned segment a..b,
// inclusive. Diagonal input (a stroke that never left the one-cell
// neighbourhood) yields just the two endpoints.
func linePoints(a, b model.Point) []model.Point {
	switch {
	case a == b:
		return []model.Point{a}
	case a.Y == b.Y:
		step := 1
		if b.X < a.X {
			step = -1
		}
		pts := make([]model.Point, 0, abs(b.X-a.X)+1)
		for x := a.X; ; x += step {
			pts = append(pts, model.Pt(x, a.Y))
			if x == b.X {
				break
			}
		}
		return pts
	case a.X == b.X:
		step := 1
		if b.Y < a.Y {
			step = -1
		}
		pts := make([]model.Point, 0, abs(b.Y-a.Y)+1)
		for y := a.Y; ; y += step {
			pts = append(pts, model.Pt(a.X, y))
			if y == b.Y {
				break
			}
		}
		return pts
	default:
		return []model.Point{a, b}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
