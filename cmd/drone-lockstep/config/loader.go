package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// LoadConfig loads configuration from a YAML file on top of the standard defaults
func LoadConfig(path string) (*SimulationConfig, error) {
	return loadFile(path, GetDefaultConfig())
}

func loadFile(path string, base *SimulationConfig) (*SimulationConfig, error) {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: config file not found: %s", core.ErrConfig, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading config file: %v", core.ErrConfig, err)
	}

	// Fields absent from the file keep the base values
	config := base
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", core.ErrConfig, err)
	}

	for _, w := range config.Engine.Clamp() {
		logger.Warnf("%s: %s", path, w)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigOrDefault loads config from file or returns the standard default,
// with info.csv and environment overrides applied
func LoadConfigOrDefault(path string) (*SimulationConfig, error) {
	return LoadConfigOrPreset(path, GetDefaultConfig)
}

// LoadConfigOrPreset is LoadConfigOrDefault with a caller supplied default
func LoadConfigOrPreset(path string, preset func() *SimulationConfig) (*SimulationConfig, error) {
	var config *SimulationConfig
	var err error

	if path != "" {
		config, err = loadFile(path, preset())
		if err != nil {
			// Log error but continue with default
			logger.Warnf("Could not load config from %s: %v", path, err)
			config = nil
		}
	}

	// Try default locations if no config loaded yet
	if config == nil {
		defaultPaths := []string{
			"drone-lockstep.yaml",
			filepath.Join("cmd", "drone-lockstep", "config.yaml"),
			filepath.Join(".", "config.yaml"),
		}

		want := preset().Simulation.Name
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				loaded, err := loadFile(p, preset())
				if err != nil {
					logger.Warnf("Ignoring %s: %v", p, err)
					continue
				}
				// A default file only applies to the preset it names
				if loaded.Simulation.Name != want {
					logger.Debugf("Skipping %s: configures %s, not %s", p, loaded.Simulation.Name, want)
					continue
				}
				config = loaded
				logger.Infof("Loaded config from: %s", p)
				break
			}
		}
	}

	// Use default config if still no config loaded
	if config == nil {
		logger.Debug("Using default configuration")
		config = preset()
	}

	ApplyInfoCSV(config)

	// Always apply environment variable overrides
	MergeWithEnvironment(config)

	return config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *SimulationConfig, path string) error {
	// Validate before saving
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// LoadInfoCSV reads the legacy "n, size, max, steps" header line
func LoadInfoCSV(path string) (Engine, error) {
	var e Engine

	f, err := os.Open(path)
	if err != nil {
		return e, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := ""
	for scanner.Scan() {
		if line = strings.TrimSpace(scanner.Text()); line != "" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return e, fmt.Errorf("%w: reading %s: %v", core.ErrConfig, path, err)
	}
	if line == "" {
		return e, fmt.Errorf("%w: %s is empty", core.ErrConfig, path)
	}

	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return e, fmt.Errorf("%w: %s: expected 4 fields, got %d", core.ErrConfig, path, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if e.NumAgents, err = strconv.Atoi(fields[0]); err != nil {
		return Engine{}, fmt.Errorf("%w: %s: drone count: %v", core.ErrConfig, path, err)
	}
	if e.DroneSize, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return Engine{}, fmt.Errorf("%w: %s: drone size: %v", core.ErrConfig, path, err)
	}
	if e.MaxCollisions, err = strconv.Atoi(fields[2]); err != nil {
		return Engine{}, fmt.Errorf("%w: %s: max collisions: %v", core.ErrConfig, path, err)
	}
	if e.TimeSteps, err = strconv.Atoi(fields[3]); err != nil {
		return Engine{}, fmt.Errorf("%w: %s: time steps: %v", core.ErrConfig, path, err)
	}

	return e, nil
}

// ApplyInfoCSV overlays info.csv from the data directory when present.
// An unparsable file keeps the current values.
func ApplyInfoCSV(config *SimulationConfig) bool {
	if config.Data.Dir == "" || config.Data.InfoFile == "" {
		return false
	}
	path := filepath.Join(config.Data.Dir, config.Data.InfoFile)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	info, err := LoadInfoCSV(path)
	if err != nil {
		logger.Warnf("Keeping configured engine values: %v", err)
		return false
	}

	config.Engine.NumAgents = info.NumAgents
	config.Engine.DroneSize = info.DroneSize
	config.Engine.MaxCollisions = info.MaxCollisions
	config.Engine.TimeSteps = info.TimeSteps
	logger.Debugf("Loaded engine values from %s", path)
	return true
}

// MergeWithCLIOverrides applies CLI parameter overrides to the configuration
func MergeWithCLIOverrides(config *SimulationConfig, overrides map[string]interface{}) {
	for key, value := range overrides {
		switch key {
		case "num_agents":
			if n, ok := asInt(value); ok {
				config.Engine.NumAgents = n
			}
		case "drone_size":
			if size, ok := asFloat(value); ok {
				config.Engine.DroneSize = size
			}
		case "max_collisions":
			if n, ok := asInt(value); ok {
				config.Engine.MaxCollisions = n
			}
		case "time_steps":
			if n, ok := asInt(value); ok {
				config.Engine.TimeSteps = n
			}
		case "log_capacity":
			if n, ok := asInt(value); ok {
				config.Engine.LogCapacity = n
			}
		case "grace_period":
			if d, ok := asDuration(value); ok && d > 0 {
				config.Engine.GracePeriod = d
			}
		case "step_timeout":
			if d, ok := asDuration(value); ok && d >= 0 {
				config.Engine.StepTimeout = d
			}
		case "data_dir":
			if dir, ok := value.(string); ok && dir != "" {
				config.Data.Dir = dir
			}
		case "report_path":
			if path, ok := value.(string); ok && path != "" {
				config.Report.OutputPath = path
			}
		case "report_formats":
			if formats := asFormats(value); len(formats) > 0 {
				config.Report.Formats = formats
			}
		case "enable_report":
			if enable, ok := value.(bool); ok {
				config.Report.Enabled = enable
			}
		case "storage_path":
			if path, ok := value.(string); ok && path != "" {
				config.Storage.Path = path
				config.Storage.Enabled = true
			}
		case "journal_path":
			if path, ok := value.(string); ok {
				config.Logging.JournalPath = path
			}
		case "metrics_addr":
			if addr, ok := value.(string); ok {
				config.Observability.MetricsAddr = addr
			}
		case "trace":
			if enable, ok := value.(bool); ok {
				config.Observability.Trace = enable
			}
		case "log_level":
			if level, ok := value.(string); ok && isValidLevel(level) {
				config.Logging.ConsoleLevel = strings.ToLower(level)
			}
		}
	}
}

// LoadConfigWithOverrides loads config and applies both environment and CLI overrides
func LoadConfigWithOverrides(path string, cliOverrides map[string]interface{}) (*SimulationConfig, error) {
	return LoadPresetWithOverrides(path, GetDefaultConfig, cliOverrides)
}

// LoadPresetWithOverrides is LoadConfigWithOverrides with a caller supplied default
func LoadPresetWithOverrides(path string, preset func() *SimulationConfig, cliOverrides map[string]interface{}) (*SimulationConfig, error) {
	config, err := LoadConfigOrPreset(path, preset)
	if err != nil {
		return nil, err
	}

	// Apply CLI overrides after environment variables
	if cliOverrides != nil {
		MergeWithCLIOverrides(config, cliOverrides)
	}

	for _, w := range config.Engine.Clamp() {
		logger.Warn(w)
	}

	// Final validation
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed after overrides: %w", err)
	}

	return config, nil
}

// MergeWithEnvironment merges config with environment variables. DRONESIM_*
// names win over the bare legacy names.
func MergeWithEnvironment(config *SimulationConfig) {
	if v, ok := lookupEnv("DRONESIM_NUM_AGENTS", "NUM_DRONES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.NumAgents = n
		}
	}

	if v, ok := lookupEnv("DRONESIM_DRONE_SIZE", "DRONE_SIZE"); ok {
		if size, err := strconv.ParseFloat(v, 64); err == nil {
			config.Engine.DroneSize = size
		}
	}

	if v, ok := lookupEnv("DRONESIM_MAX_COLLISIONS", "MAX_COLLISIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.MaxCollisions = n
		}
	}

	if v, ok := lookupEnv("DRONESIM_TIME_STEPS", "TIME_STEPS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.TimeSteps = n
		}
	}

	if v, ok := lookupEnv("DRONESIM_LOG_CAPACITY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.LogCapacity = n
		}
	}

	if v, ok := lookupEnv("DRONESIM_GRACE_PERIOD"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Engine.GracePeriod = d
		}
	}

	if v, ok := lookupEnv("DRONESIM_STEP_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			config.Engine.StepTimeout = d
		}
	}

	if v, ok := lookupEnv("DRONESIM_DATA_DIR"); ok && v != "" {
		config.Data.Dir = v
	}

	if v, ok := lookupEnv("DRONESIM_REPORT_PATH"); ok && v != "" {
		config.Report.OutputPath = v
	}

	if v, ok := lookupEnv("DRONESIM_REPORT_FORMATS"); ok {
		if formats := asFormats(v); len(formats) > 0 {
			config.Report.Formats = formats
		}
	}

	if v, ok := lookupEnv("DRONESIM_STORAGE_PATH"); ok && v != "" {
		config.Storage.Path = v
		config.Storage.Enabled = true
	}

	if v, ok := lookupEnv("DRONESIM_JOURNAL_PATH"); ok {
		config.Logging.JournalPath = v
	}

	if v, ok := lookupEnv("DRONESIM_METRICS_ADDR"); ok {
		config.Observability.MetricsAddr = v
	}

	if v, ok := lookupEnv("DRONESIM_TRACE"); ok {
		if enable, err := strconv.ParseBool(v); err == nil {
			config.Observability.Trace = enable
		}
	}

	// Override logging level
	if v, ok := lookupEnv("LOG_LEVEL"); ok && isValidLevel(v) {
		config.Logging.ConsoleLevel = strings.ToLower(v)
	}
}

func lookupEnv(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func isValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asDuration(v interface{}) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		parsed, err := time.ParseDuration(d)
		return parsed, err == nil
	}
	return 0, false
}

func asFormats(v interface{}) []string {
	var raw []string
	switch f := v.(type) {
	case []string:
		raw = f
	case string:
		raw = strings.Split(f, ",")
	}

	var formats []string
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if isValidFormat(s) {
			formats = append(formats, s)
		}
	}
	return formats
}
