package core

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/signalsfoundry/unifilar/model"
)

var (
	ErrCellNotPainted      = errors.New("terminal cell is not painted")
	ErrTerminalOccupied    = errors.New("cell already holds a terminal")
	ErrTerminalNotFound    = errors.New("terminal not found")
	ErrInvalidTerminalKind = errors.New("invalid terminal kind")
)

// DefaultEmissionIntervalMs is recorded on terminals created without an
// explicit interval.
const DefaultEmissionIntervalMs = 2000

// PaintedChecker is the weak reference the registry keeps into the grid: a
// coordinate lookup, no lifetime coupling.
type PaintedChecker interface {
	Has(p model.Point) bool
}

// TerminalPatch carries the mutable terminal attributes. Nil fields are left
// untouched.
type TerminalPatch struct {
	Active *bool
	Name   *string
	Color  *model.Color
}

// TerminalRegistry stores emitters and receptors, at most one per cell.
// Terminals whose cell has since been erased are kept; Live filters them out
// at route computation time.
type TerminalRegistry struct {
	mu sync.RWMutex

	cells PaintedChecker

	byID   map[string]*model.Terminal
	byCell map[model.Point]string
	order  []string

	newID      func() string
	intervalMs int
	version    uint64
}

// RegistryOption customises a TerminalRegistry.
type RegistryOption func(*TerminalRegistry)

// WithIDGenerator replaces the UUID-based terminal ID generator.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *TerminalRegistry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithEmissionInterval sets the interval stamped on new terminals.
func WithEmissionInterval(ms int) RegistryOption {
	return func(r *TerminalRegistry) {
		r.intervalMs = ms
	}
}

// NewTerminalRegistry constructs an empty registry bound to a cell lookup.
func NewTerminalRegistry(cells PaintedChecker, opts ...RegistryOption) *TerminalRegistry {
	r := &TerminalRegistry{
		cells:      cells,
		byID:       make(map[string]*model.Terminal),
		byCell:     make(map[model.Point]string),
		newID:      func() string { return "borne-" + uuid.NewString() },
		intervalMs: DefaultEmissionIntervalMs,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetEmissionInterval changes the interval stamped on subsequently created
// terminals.
func (r *TerminalRegistry) SetEmissionInterval(ms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervalMs = ms
}

// Version is bumped on every membership or attribute change.
func (r *TerminalRegistry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Len returns the number of registered terminals, stale ones included.
func (r *TerminalRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Add places a terminal of the given kind on p. The terminal gets a name
// numbered per kind (E1, R1, ...), the kind's marker colour and starts
// active.
func (r *TerminalRegistry) Add(p model.Point, kind model.TerminalKind) (*model.Terminal, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTerminalKind, kind)
	}
	if r.cells == nil || !r.cells.Has(p) {
		return nil, fmt.Errorf("%w: %s", ErrCellNotPainted, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byCell[p]; ok {
		return nil, fmt.Errorf("%w: %s holds %s", ErrTerminalOccupied, p, id)
	}

	t := &model.Terminal{
		ID:         r.newID(),
		Kind:       kind,
		X:          p.X,
		Y:          p.Y,
		Active:     true,
		Name:       namePrefix(kind) + strconv.Itoa(r.countKindLocked(kind)+1),
		Color:      kindColor(kind),
		IntervalMs: r.intervalMs,
	}
	r.insertLocked(t)
	return cloneTerminal(t), nil
}

// Remove deletes the terminal with the given ID.
func (r *TerminalRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.removeLocked(id) {
		return fmt.Errorf("%w: %q", ErrTerminalNotFound, id)
	}
	return nil
}

// RemoveAt deletes the terminal bound to p, if any.
func (r *TerminalRegistry) RemoveAt(p model.Point) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCell[p]
	if !ok {
		return false
	}
	return r.removeLocked(id)
}

// Update applies a patch to the terminal's mutable attributes.
func (r *TerminalRegistry) Update(id string, patch TerminalPatch) (*model.Terminal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTerminalNotFound, id)
	}
	if patch.Active != nil {
		t.Active = *patch.Active
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Color != nil {
		t.Color = *patch.Color
	}
	r.version++
	return cloneTerminal(t), nil
}

// Get returns a copy of the terminal with the given ID.
func (r *TerminalRegistry) Get(id string) (*model.Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return cloneTerminal(t), true
}

// At returns a copy of the terminal bound to p.
func (r *TerminalRegistry) At(p model.Point) (*model.Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCell[p]
	if !ok {
		return nil, false
	}
	return cloneTerminal(r.byID[id]), true
}

// All returns copies of every terminal in creation order.
func (r *TerminalRegistry) All() []*model.Terminal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Terminal, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneTerminal(r.byID[id]))
	}
	return out
}

// ByKind returns the terminals of one kind in creation order.
func (r *TerminalRegistry) ByKind(kind model.TerminalKind) []*model.Terminal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Terminal
	for _, id := range r.order {
		if t := r.byID[id]; t.Kind == kind {
			out = append(out, cloneTerminal(t))
		}
	}
	return out
}

// Live returns the terminals whose cell is painted in cells, in creation
// order. Stale terminals stay registered.
func (r *TerminalRegistry) Live(cells PaintedChecker) []*model.Terminal {
	all := r.All()
	out := all[:0]
	for _, t := range all {
		if cells != nil && cells.Has(t.Cell()) {
			out = append(out, t)
		}
	}
	return out
}

// Replace swaps the terminal set, e.g. after loading a persisted diagram.
// Entries with an unknown kind, an empty or duplicate ID, or a cell already
// taken are skipped and reported in the returned count. Cell membership is
// not checked here: stale entries are tolerated like any other.
func (r *TerminalRegistry) Replace(terminals []model.Terminal) (skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*model.Terminal, len(terminals))
	r.byCell = make(map[model.Point]string, len(terminals))
	r.order = nil
	for i := range terminals {
		t := terminals[i]
		if !t.Kind.Valid() || t.ID == "" {
			skipped++
			continue
		}
		if _, dup := r.byID[t.ID]; dup {
			skipped++
			continue
		}
		if _, taken := r.byCell[t.Cell()]; taken {
			skipped++
			continue
		}
		r.byID[t.ID] = &t
		r.byCell[t.Cell()] = t.ID
		r.order = append(r.order, t.ID)
	}
	r.version++
	return skipped
}

func (r *TerminalRegistry) insertLocked(t *model.Terminal) {
	r.byID[t.ID] = t
	r.byCell[t.Cell()] = t.ID
	r.order = append(r.order, t.ID)
	r.version++
}

func (r *TerminalRegistry) removeLocked(id string) bool {
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if r.byCell[t.Cell()] == id {
		delete(r.byCell, t.Cell())
	}
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.version++
	return true
}

func (r *TerminalRegistry) countKindLocked(kind model.TerminalKind) int {
	n := 0
	for _, t := range r.byID {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func namePrefix(kind model.TerminalKind) string {
	if kind == model.TerminalEmitter {
		return "E"
	}
	return "R"
}

func kindColor(kind model.TerminalKind) model.Color {
	if kind == model.TerminalEmitter {
		return model.EmitterColor
	}
	return model.ReceptorColor
}

func cloneTerminal(t *model.Terminal) *model.Terminal {
	cp := *t
	return &cp
}
