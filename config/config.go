// Package config loads the YAML settings shared by the server and the
// headless simulator.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/model"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds every tunable.
type Config struct {
	Sparks     SparksConfig     `yaml:"sparks"`
	Diagram    DiagramConfig    `yaml:"diagram"`
	Simulation SimulationConfig `yaml:"simulation"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Watch      WatchConfig      `yaml:"watch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// SparksConfig is the initial particle configuration.
type SparksConfig struct {
	Speed        float64 `yaml:"speed"`
	Size         int     `yaml:"size"`
	Color        string  `yaml:"color"`
	Trail        bool    `yaml:"trail"`
	TrailLength  int     `yaml:"trail_length"`
	IntervalMs   int     `yaml:"interval_ms"`
	MaxParticles int     `yaml:"max_particles"`
	BranchMode   string  `yaml:"branch_mode"`
}

// DiagramConfig selects which stored diagram to work on.
type DiagramConfig struct {
	LineWidth int    `yaml:"line_width"`
	Workspace string `yaml:"workspace"`
	Station   string `yaml:"station"`
}

// SimulationConfig drives the frame loop.
type SimulationConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	MaxFrameDelta time.Duration `yaml:"max_frame_delta"`
	Seed          uint64        `yaml:"seed"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	WSAddr      string `yaml:"ws_addr"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig enables reloading a diagram file from disk.
type WatchConfig struct {
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
}

// TelemetryConfig controls the per-window CSV output. An empty OutputDir
// disables it.
type TelemetryConfig struct {
	Window    time.Duration `yaml:"window"`
	OutputDir string        `yaml:"output_dir"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("parsing embedded defaults: %v", err))
	}
	cfg.Clamp()
	return cfg
}

// Load reads the embedded defaults and merges the file at path over them.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only fields present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if _, err := core.ParseBranchMode(cfg.Sparks.BranchMode); err != nil {
		return nil, fmt.Errorf("sparks.branch_mode: %w", err)
	}
	cfg.Clamp()
	return cfg, nil
}

// Clamp forces every value into its accepted range.
func (c *Config) Clamp() {
	sc := c.SparkConfig()
	c.Sparks.Speed = sc.Speed
	c.Sparks.Size = sc.Size
	c.Sparks.Color = string(sc.Color)
	c.Sparks.TrailLength = sc.TrailLength
	c.Sparks.IntervalMs = sc.IntervalMs
	c.Sparks.MaxParticles = sc.MaxParticles

	if c.Diagram.LineWidth <= 0 {
		c.Diagram.LineWidth = core.DefaultLineWidth
	}
	if c.Simulation.FrameInterval <= 0 {
		c.Simulation.FrameInterval = 16 * time.Millisecond
	}
	if c.Simulation.MaxFrameDelta < 0 {
		c.Simulation.MaxFrameDelta = 0
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 200 * time.Millisecond
	}
	if c.Telemetry.Window <= 0 {
		c.Telemetry.Window = 5 * time.Second
	}
	if c.Tracing.SampleRatio < 0 {
		c.Tracing.SampleRatio = 0
	}
	if c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
}

// SparkConfig converts the sparks section, clamped.
func (c *Config) SparkConfig() core.SparkConfig {
	return core.SparkConfig{
		Speed:        c.Sparks.Speed,
		Size:         c.Sparks.Size,
		Color:        model.Color(c.Sparks.Color),
		Trail:        c.Sparks.Trail,
		TrailLength:  c.Sparks.TrailLength,
		IntervalMs:   c.Sparks.IntervalMs,
		MaxParticles: c.Sparks.MaxParticles,
	}.Clamp()
}

// BranchMode parses sparks.branch_mode. Load has already validated it.
func (c *Config) BranchMode() core.BranchMode {
	m, _ := core.ParseBranchMode(c.Sparks.BranchMode)
	return m
}

// WriteYAML saves the configuration, e.g. next to telemetry output.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
