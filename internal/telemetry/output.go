package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/signalsfoundry/unifilar/config"
	"github.com/signalsfoundry/unifilar/model"
)

// RouteRecord is one row of routes.csv.
type RouteRecord struct {
	EmitterID  string `csv:"emitter_id"`
	ReceptorID string `csv:"receptor_id"`
	Cells      int    `csv:"cells"`
	Hops       int    `csv:"hops"`
	StartX     int    `csv:"start_x"`
	StartY     int    `csv:"start_y"`
	EndX       int    `csv:"end_x"`
	EndY       int    `csv:"end_y"`
}

// OutputManager writes run output: config.yaml, sparks.csv with one row per
// window, routes.csv with the route table and diagram.json.
type OutputManager struct {
	dir        string
	sparksFile *os.File

	sparksHeaderWritten bool
}

// NewOutputManager creates dir and opens sparks.csv.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "sparks.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating sparks.csv: %w", err)
	}
	return &OutputManager{dir: dir, sparksFile: f}, nil
}

// WriteConfig saves the run configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteWindow appends a window to sparks.csv.
func (om *OutputManager) WriteWindow(stats WindowStats) error {
	if om == nil {
		return nil
	}

	records := []WindowStats{stats}
	if !om.sparksHeaderWritten {
		if err := gocsv.Marshal(records, om.sparksFile); err != nil {
			return fmt.Errorf("writing sparks: %w", err)
		}
		om.sparksHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.sparksFile); err != nil {
		return fmt.Errorf("writing sparks: %w", err)
	}
	return nil
}

// WriteRoutes replaces routes.csv with the given routes.
func (om *OutputManager) WriteRoutes(routes []model.Route) error {
	if om == nil {
		return nil
	}

	records := make([]RouteRecord, 0, len(routes))
	for _, r := range routes {
		rec := RouteRecord{
			EmitterID:  r.EmitterID,
			ReceptorID: r.ReceptorID,
			Cells:      r.Len(),
			Hops:       r.Hops(),
		}
		if n := len(r.Cells); n > 0 {
			rec.StartX, rec.StartY = r.Cells[0].X, r.Cells[0].Y
			rec.EndX, rec.EndY = r.Cells[n-1].X, r.Cells[n-1].Y
		}
		records = append(records, rec)
	}

	f, err := os.Create(filepath.Join(om.dir, "routes.csv"))
	if err != nil {
		return fmt.Errorf("creating routes.csv: %w", err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&records, f); err != nil {
		return fmt.Errorf("writing routes: %w", err)
	}
	return nil
}

// WriteDiagram saves an exported diagram document as diagram.json.
func (om *OutputManager) WriteDiagram(doc []byte) error {
	if om == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(om.dir, "diagram.json"), doc, 0o644); err != nil {
		return fmt.Errorf("writing diagram.json: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes sparks.csv.
func (om *OutputManager) Close() error {
	if om == nil || om.sparksFile == nil {
		return nil
	}
	return om.sparksFile.Close()
}
