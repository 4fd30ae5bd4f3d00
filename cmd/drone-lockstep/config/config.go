package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
)

// Engine hard limits. Values beyond them are clamped, never accepted.
const (
	MaxAgents      = 50
	MaxTimeSteps   = 500
	MaxLogCapacity = 500
)

// Report formats
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// SimulationConfig holds the complete simulation configuration
type SimulationConfig struct {
	// Basic simulation settings
	Simulation SimulationSettings `yaml:"simulation"`

	// Lockstep engine sizing and timing
	Engine Engine `yaml:"engine"`

	// Trajectory data location
	Data DataConfig `yaml:"data"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`

	// Final report artifacts
	Report ReportConfig `yaml:"report"`

	// Run history persistence
	Storage StorageConfig `yaml:"storage"`

	// Metrics and tracing
	Observability ObservabilityConfig `yaml:"observability"`
}

// SimulationSettings holds basic simulation settings
type SimulationSettings struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Engine is the resolved configuration the coordinator runs with
type Engine struct {
	NumAgents     int           `yaml:"num_agents"`
	DroneSize     float64       `yaml:"drone_size"`
	MaxCollisions int           `yaml:"max_collisions"`
	TimeSteps     int           `yaml:"time_steps"`
	LogCapacity   int           `yaml:"log_capacity"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	StepTimeout   time.Duration `yaml:"step_timeout"` // 0 disables the barrier timeout
}

// DataConfig points at the legacy data directory
type DataConfig struct {
	Dir               string `yaml:"dir"`
	InfoFile          string `yaml:"info_file"`          // relative to Dir
	TrajectoryPattern string `yaml:"trajectory_pattern"` // e.g. drone%d_movement.csv, 1-based
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	ConsoleLevel string `yaml:"console_level"` // "debug", "info", "warn", "error"
	JournalPath  string `yaml:"journal_path"`  // JSONL event journal, empty disables
}

// ReportConfig defines which report artifacts are written
type ReportConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Formats    []string `yaml:"formats"` // "text", "json", "markdown"
	OutputPath string   `yaml:"output_path"`
}

// StorageConfig defines the run history database
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObservabilityConfig defines metrics and tracing
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the /metrics listener
	Trace       bool   `yaml:"trace"`
	ServiceName string `yaml:"service_name"`
}

// Validate checks the engine values are usable
func (e Engine) Validate() error {
	if e.NumAgents <= 0 {
		return fmt.Errorf("%w: number of agents must be positive", core.ErrConfig)
	}
	if e.NumAgents > MaxAgents {
		return fmt.Errorf("%w: number of agents %d exceeds limit %d", core.ErrConfig, e.NumAgents, MaxAgents)
	}
	if e.DroneSize <= 0 {
		return fmt.Errorf("%w: drone size must be positive", core.ErrConfig)
	}
	if e.MaxCollisions <= 0 {
		return fmt.Errorf("%w: max collisions must be positive", core.ErrConfig)
	}
	if e.TimeSteps <= 0 {
		return fmt.Errorf("%w: time steps must be positive", core.ErrConfig)
	}
	if e.TimeSteps > MaxTimeSteps {
		return fmt.Errorf("%w: time steps %d exceeds limit %d", core.ErrConfig, e.TimeSteps, MaxTimeSteps)
	}
	if e.LogCapacity <= 0 || e.LogCapacity > MaxLogCapacity {
		return fmt.Errorf("%w: log capacity must be in [1, %d]", core.ErrConfig, MaxLogCapacity)
	}
	if e.MaxCollisions > e.LogCapacity {
		return fmt.Errorf("%w: max collisions %d exceeds log capacity %d", core.ErrConfig, e.MaxCollisions, e.LogCapacity)
	}
	if e.GracePeriod < 0 || e.StepTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", core.ErrConfig)
	}
	return nil
}

// Clamp pulls out-of-range values back inside the engine limits and returns
// one warning per adjustment. Non-positive values fall back to the defaults.
func (e *Engine) Clamp() []string {
	var warnings []string
	def := DefaultEngine()

	if e.NumAgents <= 0 {
		warnings = append(warnings, fmt.Sprintf("num_agents %d is not positive, using %d", e.NumAgents, def.NumAgents))
		e.NumAgents = def.NumAgents
	} else if e.NumAgents > MaxAgents {
		warnings = append(warnings, fmt.Sprintf("num_agents %d exceeds limit, clamped to %d", e.NumAgents, MaxAgents))
		e.NumAgents = MaxAgents
	}

	if e.DroneSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("drone_size %g is not positive, using %g", e.DroneSize, def.DroneSize))
		e.DroneSize = def.DroneSize
	}

	if e.TimeSteps <= 0 {
		warnings = append(warnings, fmt.Sprintf("time_steps %d is not positive, using %d", e.TimeSteps, def.TimeSteps))
		e.TimeSteps = def.TimeSteps
	} else if e.TimeSteps > MaxTimeSteps {
		warnings = append(warnings, fmt.Sprintf("time_steps %d exceeds limit, clamped to %d", e.TimeSteps, MaxTimeSteps))
		e.TimeSteps = MaxTimeSteps
	}

	if e.LogCapacity <= 0 {
		e.LogCapacity = MaxLogCapacity
	} else if e.LogCapacity > MaxLogCapacity {
		warnings = append(warnings, fmt.Sprintf("log_capacity %d exceeds limit, clamped to %d", e.LogCapacity, MaxLogCapacity))
		e.LogCapacity = MaxLogCapacity
	}

	if e.MaxCollisions <= 0 {
		warnings = append(warnings, fmt.Sprintf("max_collisions %d is not positive, using %d", e.MaxCollisions, def.MaxCollisions))
		e.MaxCollisions = def.MaxCollisions
	}
	if e.MaxCollisions > e.LogCapacity {
		warnings = append(warnings, fmt.Sprintf("max_collisions %d exceeds log capacity, clamped to %d", e.MaxCollisions, e.LogCapacity))
		e.MaxCollisions = e.LogCapacity
	}

	if e.GracePeriod <= 0 {
		e.GracePeriod = def.GracePeriod
	}
	if e.StepTimeout < 0 {
		warnings = append(warnings, "step_timeout is negative, disabling the barrier timeout")
		e.StepTimeout = 0
	}

	return warnings
}

// Validate checks if the configuration is valid
func (c *SimulationConfig) Validate() error {
	if c.Simulation.Name == "" {
		return fmt.Errorf("%w: simulation name is required", core.ErrConfig)
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}

	for _, f := range c.Report.Formats {
		if !isValidFormat(f) {
			return fmt.Errorf("%w: unknown report format %q", core.ErrConfig, f)
		}
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage path is required when storage is enabled", core.ErrConfig)
	}

	return nil
}

func isValidFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatMarkdown:
		return true
	}
	return false
}

// String returns a human-readable representation of the configuration
func (c *SimulationConfig) String() string {
	return fmt.Sprintf(`Simulation Configuration:
  Name: %s
  Description: %s

Engine:
  Drones: %d
  Drone Size: %.2f
  Max Collisions: %d
  Time Steps: %d
  Log Capacity: %d
  Grace Period: %v
  Step Timeout: %v

Data:
  Directory: %s

Report:
  Enabled: %t
  Formats: %s
  Output Path: %s

Storage:
  Enabled: %t
  Path: %s`,
		c.Simulation.Name,
		c.Simulation.Description,
		c.Engine.NumAgents,
		c.Engine.DroneSize,
		c.Engine.MaxCollisions,
		c.Engine.TimeSteps,
		c.Engine.LogCapacity,
		c.Engine.GracePeriod,
		c.Engine.StepTimeout,
		c.Data.Dir,
		c.Report.Enabled,
		strings.Join(c.Report.Formats, ", "),
		c.Report.OutputPath,
		c.Storage.Enabled,
		c.Storage.Path,
	)
}

// DefaultEngine is the standard 10 drones / size 5 / 5 collisions / 50 steps
func DefaultEngine() Engine {
	return Engine{
		NumAgents:     10,
		DroneSize:     5,
		MaxCollisions: 5,
		TimeSteps:     50,
		LogCapacity:   MaxLogCapacity,
		GracePeriod:   2 * time.Second,
		StepTimeout:   10 * time.Second,
	}
}

// MinimalEngine is the small preset: 2 drones / size 4 / 5 collisions / 20 steps
func MinimalEngine() Engine {
	e := DefaultEngine()
	e.NumAgents = 2
	e.DroneSize = 4
	e.TimeSteps = 20
	return e
}

// GetDefaultConfig returns the default configuration for the standard preset
func GetDefaultConfig() *SimulationConfig {
	return &SimulationConfig{
		Simulation: SimulationSettings{
			Name:        "drone-lockstep",
			Description: "Lockstep drone fleet with AABB collision detection",
		},

		Engine: DefaultEngine(),

		Data: DataConfig{
			Dir:               "data",
			InfoFile:          "info.csv",
			TrajectoryPattern: core.DefaultTrajectoryPattern,
		},

		Logging: LoggingConfig{
			ConsoleLevel: "info",
		},

		Report: ReportConfig{
			Enabled:    true,
			Formats:    []string{FormatText, FormatJSON},
			OutputPath: "./reports/",
		},

		Storage: StorageConfig{
			Enabled: false,
			Path:    "./drone-lockstep.db",
		},

		Observability: ObservabilityConfig{
			ServiceName: "drone-lockstep",
		},
	}
}

// GetMinimalConfig returns the default configuration for the minimal preset
func GetMinimalConfig() *SimulationConfig {
	cfg := GetDefaultConfig()
	cfg.Simulation.Name = "drone-lockstep-minimal"
	cfg.Simulation.Description = "Two-drone lockstep smoke scenario"
	cfg.Engine = MinimalEngine()
	return cfg
}
