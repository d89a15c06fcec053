package core

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/signalsfoundry/unifilar/model"
)

// EmissionScheduler arms the interval timers that drive emission. Every
// replaces any schedule already registered under key.
type EmissionScheduler interface {
	Every(key string, interval time.Duration, fn func())
	Cancel(key string) bool
}

// RNG picks among an emitter's routes. *rand.Rand satisfies it.
type RNG interface {
	IntN(n int) int
}

// NewSeededRNG returns a deterministic PCG-backed generator.
func NewSeededRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}

// RetireReason says why a particle left the simulation.
type RetireReason string

const (
	RetireArrived RetireReason = "arrived"
	RetireDeadEnd RetireReason = "dead_end"
	RetireStopped RetireReason = "stopped"
)

// DropReason says why an emission produced no particle.
type DropReason string

const (
	DropNoRoute  DropReason = "no_route"
	DropCapacity DropReason = "capacity"
	DropInactive DropReason = "inactive"
)

// SimulatorObserver receives lifecycle notifications, typically to feed
// metrics. Calls happen on the goroutine driving the simulator.
type SimulatorObserver interface {
	ParticleSpawned(emitterID string, routeLen int)
	ParticleRetired(reason RetireReason, n int)
	EmissionDropped(reason DropReason)
}

type noopObserver struct{}

func (noopObserver) ParticleSpawned(string, int)      {}
func (noopObserver) ParticleRetired(RetireReason, int) {}
func (noopObserver) EmissionDropped(DropReason)        {}

// Particle travels along a route from an emitter to a receptor.
// StepProgress stays in [0, 1) between ticks.
type Particle struct {
	ID           uint64
	EmitterID    string
	ReceptorID   string
	Route        []model.Point
	StepIndex    int
	StepProgress float64
	Trail        Trail

	// junction already evaluated in split mode
	checked int
}

// Retired reports whether the particle reached the last route cell.
func (p *Particle) Retired() bool {
	return p.StepIndex >= len(p.Route)-1
}

// SimulatorOption customises a ParticleSimulator.
type SimulatorOption func(*ParticleSimulator)

// WithRNG injects the route picker.
func WithRNG(rng RNG) SimulatorOption {
	return func(s *ParticleSimulator) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o SimulatorObserver) SimulatorOption {
	return func(s *ParticleSimulator) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithBranchMode selects route-following or live splitting.
func WithBranchMode(m BranchMode) SimulatorOption {
	return func(s *ParticleSimulator) {
		s.mode = m
	}
}

// WithSparkConfig sets the initial configuration.
func WithSparkConfig(cfg SparkConfig) SimulatorOption {
	return func(s *ParticleSimulator) {
		s.cfg = cfg.Clamp()
	}
}

// ParticleSimulator owns every particle and the per-emitter emission
// schedules. It is not safe for concurrent use; the owner serialises calls,
// and the scheduler must fire its callbacks from within those calls.
type ParticleSimulator struct {
	cfg   SparkConfig
	sched EmissionScheduler
	rng   RNG
	obs   SimulatorObserver
	mode  BranchMode

	routes    *RouteIndex
	running   bool
	particles []*Particle
	nextID    uint64
	armed     map[string]struct{}
}

// NewParticleSimulator constructs a stopped simulator.
func NewParticleSimulator(sched EmissionScheduler, opts ...SimulatorOption) *ParticleSimulator {
	s := &ParticleSimulator{
		cfg:   DefaultSparkConfig(),
		sched: sched,
		rng:   NewSeededRNG(uint64(time.Now().UnixNano())),
		obs:   noopObserver{},
		armed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active configuration.
func (s *ParticleSimulator) Config() SparkConfig { return s.cfg }

// Mode returns the branch mode.
func (s *ParticleSimulator) Mode() BranchMode { return s.mode }

// Running reports whether emission schedules are armed.
func (s *ParticleSimulator) Running() bool { return s.running }

// Len returns the number of particles in flight.
func (s *ParticleSimulator) Len() int { return len(s.particles) }

// Particles returns the live particles. The slice and its elements must be
// treated as read-only and are only valid until the next call.
func (s *ParticleSimulator) Particles() []*Particle { return s.particles }

// Routes returns the route index particles are spawned from.
func (s *ParticleSimulator) Routes() *RouteIndex { return s.routes }

// SetRoutes swaps the route index. In-flight particles keep the route they
// were spawned on. While running, emitters that appeared get a schedule and
// emitters that vanished lose theirs.
func (s *ParticleSimulator) SetRoutes(idx *RouteIndex) {
	s.routes = idx
	if !s.running {
		return
	}
	want := make(map[string]struct{})
	for _, id := range idx.Emitters() {
		want[id] = struct{}{}
	}
	for id := range s.armed {
		if _, ok := want[id]; !ok {
			s.disarm(id)
		}
	}
	for _, id := range idx.Emitters() {
		if _, ok := s.armed[id]; !ok {
			s.arm(id)
		}
	}
}

// SetConfig applies a new configuration. An interval change while running
// re-arms every schedule with the new interval; particles in flight are
// kept.
func (s *ParticleSimulator) SetConfig(cfg SparkConfig) {
	cfg = cfg.Clamp()
	prev := s.cfg
	s.cfg = cfg
	if s.running && prev.IntervalMs != cfg.IntervalMs {
		s.rearm()
	}
}

// Start clears any particles, emits once from every routed emitter and arms
// one schedule per emitter. Starting a running simulator restarts it.
func (s *ParticleSimulator) Start() {
	if s.running {
		s.Stop()
	}
	s.running = true
	s.particles = nil
	for _, id := range s.routes.Emitters() {
		s.Emit(id)
		s.arm(id)
	}
}

// Stop cancels every schedule and discards every particle.
func (s *ParticleSimulator) Stop() {
	for id := range s.armed {
		s.disarm(id)
	}
	if n := len(s.particles); n > 0 {
		s.obs.ParticleRetired(RetireStopped, n)
	}
	s.particles = nil
	s.running = false
}

// Emit spawns one particle from the emitter on a uniformly chosen route.
// Nothing is spawned when the emitter is unknown or inactive, when the
// particle cap is reached, or when the emitter has no route.
func (s *ParticleSimulator) Emit(emitterID string) *Particle {
	if !s.routes.HasEmitter(emitterID) {
		s.obs.EmissionDropped(DropInactive)
		return nil
	}
	if len(s.particles) >= s.cfg.MaxParticles {
		s.obs.EmissionDropped(DropCapacity)
		return nil
	}
	routes := s.routes.RoutesFrom(emitterID)
	if len(routes) == 0 {
		s.obs.EmissionDropped(DropNoRoute)
		return nil
	}

	r := routes[s.rng.IntN(len(routes))]
	p := s.spawn(emitterID, r.ReceptorID, r.Cells)

	if s.mode == BranchModeSplit {
		var siblings []*Particle
		if !s.branch(p, &siblings) {
			s.retire(p, RetireDeadEnd)
			p = nil
		}
		s.particles = append(s.particles, siblings...)
	}
	return p
}

// Tick advances every particle by Speed*dt cells. Each whole cell crossed
// pushes the cell left behind onto the trail; a particle reaching the last
// route cell is retired in the same tick.
func (s *ParticleSimulator) Tick(dt time.Duration) {
	adv := s.cfg.Speed * dt.Seconds()
	if adv <= 0 || len(s.particles) == 0 {
		return
	}

	var siblings []*Particle
	arrived, deadEnds := 0, 0
	kept := s.particles[:0]
	for _, p := range s.particles {
		switch s.advance(p, adv, &siblings) {
		case "":
			kept = append(kept, p)
		case RetireArrived:
			arrived++
		case RetireDeadEnd:
			deadEnds++
		}
	}
	for i := len(kept); i < len(s.particles); i++ {
		s.particles[i] = nil
	}
	s.particles = append(kept, siblings...)

	if arrived > 0 {
		s.obs.ParticleRetired(RetireArrived, arrived)
	}
	if deadEnds > 0 {
		s.obs.ParticleRetired(RetireDeadEnd, deadEnds)
	}
}

// advance moves one particle and returns a retire reason, or "" while it is
// still travelling.
func (s *ParticleSimulator) advance(p *Particle, adv float64, siblings *[]*Particle) RetireReason {
	p.StepProgress += adv
	for p.StepProgress >= 1 {
		p.Trail.Push(p.Route[p.StepIndex], s.cfg.TrailLength)
		p.StepIndex++
		p.StepProgress--
		if p.Retired() {
			return RetireArrived
		}
		if s.mode == BranchModeSplit && !s.branch(p, siblings) {
			return RetireDeadEnd
		}
	}
	return ""
}

// branch applies the bifurcation rule when the particle's next cell is a
// junction. The particle keeps its own route if that branch reaches a
// receptor; every other reaching branch gets a sibling on the shortest path
// to its nearest receptor. It returns false when the particle must retire.
func (s *ParticleSimulator) branch(p *Particle, siblings *[]*Particle) bool {
	g := s.routes.Graph()
	nxt := p.StepIndex + 1
	if nxt >= len(p.Route)-1 || p.checked == nxt || g.Degree(p.Route[nxt]) <= 2 {
		return true
	}
	p.checked = nxt

	cont, dirs := nextStep(g, p.Route, p.StepIndex, s.routes.receptors)
	if !cont {
		return false
	}
	junction, from, own := p.Route[nxt], p.Route[p.StepIndex], p.Route[nxt+1]

	follow := false
	for _, d := range dirs {
		if d == own {
			follow = true
			continue
		}
		tail, receptorID := pathToReceptor(g, d, s.routes.receptors, junction, from)
		if tail == nil {
			continue
		}
		if len(s.particles)+len(*siblings) >= s.cfg.MaxParticles {
			s.obs.EmissionDropped(DropCapacity)
			continue
		}
		route := make([]model.Point, 0, nxt+1+len(tail))
		route = append(route, p.Route[:nxt+1]...)
		route = append(route, tail...)

		sib := s.newParticle(p.EmitterID, receptorID, route)
		sib.StepIndex = p.StepIndex
		sib.StepProgress = p.StepProgress
		sib.Trail = p.Trail.clone()
		sib.checked = nxt
		*siblings = append(*siblings, sib)
		s.obs.ParticleSpawned(p.EmitterID, len(route))
	}
	return follow
}

func (s *ParticleSimulator) spawn(emitterID, receptorID string, route []model.Point) *Particle {
	p := s.newParticle(emitterID, receptorID, route)
	s.particles = append(s.particles, p)
	s.obs.ParticleSpawned(emitterID, len(route))
	return p
}

func (s *ParticleSimulator) newParticle(emitterID, receptorID string, route []model.Point) *Particle {
	s.nextID++
	return &Particle{
		ID:         s.nextID,
		EmitterID:  emitterID,
		ReceptorID: receptorID,
		Route:      route,
		checked:    -1,
	}
}

func (s *ParticleSimulator) retire(p *Particle, reason RetireReason) {
	for i, q := range s.particles {
		if q == p {
			s.particles = append(s.particles[:i], s.particles[i+1:]...)
			s.obs.ParticleRetired(reason, 1)
			return
		}
	}
}

func (s *ParticleSimulator) arm(emitterID string) {
	s.armed[emitterID] = struct{}{}
	if s.sched == nil {
		return
	}
	s.sched.Every(scheduleKey(emitterID), s.cfg.Interval(), func() {
		if s.running {
			s.Emit(emitterID)
		}
	})
}

func (s *ParticleSimulator) disarm(emitterID string) {
	delete(s.armed, emitterID)
	if s.sched != nil {
		s.sched.Cancel(scheduleKey(emitterID))
	}
}

// rearm cancels and recreates every schedule.
func (s *ParticleSimulator) rearm() {
	ids := make([]string, 0, len(s.armed))
	for id := range s.armed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.disarm(id)
	}
	for _, id := range ids {
		s.arm(id)
	}
}

// Armed returns the number of armed emission schedules.
func (s *ParticleSimulator) Armed() int { return len(s.armed) }

func scheduleKey(emitterID string) string { return "emit/" + emitterID }
