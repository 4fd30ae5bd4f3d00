package simulation

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/config"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/controllers"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/observability"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/reporting"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/storage"
	"github.com/picogrid/drone-lockstep/pkg/logger"
	"github.com/picogrid/drone-lockstep/pkg/simulation"
)

//go:embed simulation.yaml
var standardManifest []byte

//go:embed minimal.yaml
var minimalManifest []byte

// ConfigFileParam names the parameter carrying an explicit config file path
const ConfigFileParam = "config_file"

// DroneLockstepSimulation runs one lockstep collision simulation per Run
type DroneLockstepSimulation struct {
	name        string
	description string
	preset      func() *config.SimulationConfig

	config   *config.SimulationConfig
	registry prometheus.Registerer
	provider core.TrajectoryProvider
	progress bool

	mu          sync.Mutex
	coordinator *controllers.Coordinator
	stopped     bool
}

// NewDroneLockstepSimulation creates the standard 10-drone preset
func NewDroneLockstepSimulation() simulation.Simulation {
	return newSimulation("drone-lockstep", config.GetDefaultConfig)
}

// NewMinimalSimulation creates the two-drone smoke preset
func NewMinimalSimulation() simulation.Simulation {
	return newSimulation("drone-lockstep-minimal", config.GetMinimalConfig)
}

func newSimulation(name string, preset func() *config.SimulationConfig) *DroneLockstepSimulation {
	return &DroneLockstepSimulation{
		name:        name,
		description: preset().Simulation.Description,
		preset:      preset,
		registry:    prometheus.DefaultRegisterer,
		progress:    logger.IsTerminal(os.Stdout),
	}
}

// Name returns the simulation name
func (s *DroneLockstepSimulation) Name() string {
	return s.name
}

// Description returns the simulation description
func (s *DroneLockstepSimulation) Description() string {
	return s.description
}

// ParameterDefaults resolves the config the run would use without overrides,
// so prompts start from file, info.csv and environment values
func (s *DroneLockstepSimulation) ParameterDefaults(configFile string) (map[string]interface{}, error) {
	cfg, err := config.LoadConfigOrPreset(configFile, s.preset)
	if err != nil {
		return nil, err
	}

	storagePath := ""
	if cfg.Storage.Enabled {
		storagePath = cfg.Storage.Path
	}

	return map[string]interface{}{
		"num_agents":     cfg.Engine.NumAgents,
		"drone_size":     cfg.Engine.DroneSize,
		"max_collisions": cfg.Engine.MaxCollisions,
		"time_steps":     cfg.Engine.TimeSteps,
		"log_capacity":   cfg.Engine.LogCapacity,
		"grace_period":   cfg.Engine.GracePeriod,
		"step_timeout":   cfg.Engine.StepTimeout,
		"data_dir":       cfg.Data.Dir,
		"enable_report":  cfg.Report.Enabled,
		"report_path":    cfg.Report.OutputPath,
		"report_formats": strings.Join(cfg.Report.Formats, ","),
		"storage_path":   storagePath,
		"journal_path":   cfg.Logging.JournalPath,
		"metrics_addr":   cfg.Observability.MetricsAddr,
		"trace":          cfg.Observability.Trace,
		"log_level":      cfg.Logging.ConsoleLevel,
	}, nil
}

// Configure sets up the simulation with provided parameters
func (s *DroneLockstepSimulation) Configure(params map[string]interface{}) error {
	configFile, _ := params[ConfigFileParam].(string)

	overrides := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k != ConfigFileParam {
			overrides[k] = v
		}
	}

	cfg, err := config.LoadPresetWithOverrides(configFile, s.preset, overrides)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// The preset name labels reports and storage even when a shared file was loaded
	cfg.Simulation.Name = s.name

	logger.SetLevel(logger.ParseLevel(cfg.Logging.ConsoleLevel))
	logger.Infof("Configuration: %d drones, size %.2f, max %d collisions, %d timesteps",
		cfg.Engine.NumAgents, cfg.Engine.DroneSize, cfg.Engine.MaxCollisions, cfg.Engine.TimeSteps)

	s.config = cfg
	return nil
}

// Config returns the resolved configuration, nil before Configure
func (s *DroneLockstepSimulation) Config() *config.SimulationConfig {
	return s.config
}

// Run executes one simulation to completion
func (s *DroneLockstepSimulation) Run(ctx context.Context) (result *simulation.Result, err error) {
	if s.config == nil {
		return nil, fmt.Errorf("simulation not configured")
	}
	cfg := s.config
	runID := uuid.NewString()
	log := logger.WithPrefix(s.name).WithField("run", runID[:8])

	tracer, shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.Trace,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() {
		err = multierr.Append(err, observability.ShutdownWithTimeout(context.Background(), shutdownTracing))
	}()

	metrics, err := observability.NewMetrics(s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.Observability.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Observability.MetricsAddr); err != nil {
				log.Warnf("Metrics endpoint stopped: %v", err)
			}
		}()
	}

	reporterOpts := []reporting.Option{
		reporting.WithSimulationLogger(reporting.NewSimulationLogger(runID)),
	}
	if cfg.Report.Enabled {
		reporterOpts = append(reporterOpts, reporting.WithArtifacts(cfg.Report.OutputPath, cfg.Report.Formats))
	}
	if cfg.Logging.JournalPath != "" {
		journal, err := reporting.OpenJournal(cfg.Logging.JournalPath, runID)
		if err != nil {
			log.Warnf("Event journal disabled: %v", err)
		} else {
			defer func() { _ = journal.Close() }()
			reporterOpts = append(reporterOpts, reporting.WithJournal(journal))
		}
	}
	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			log.Warnf("Run history disabled: %v", err)
		} else {
			defer func() { _ = store.Close() }()
			reporterOpts = append(reporterOpts, reporting.WithSink(store))
		}
	}
	reporter := reporting.NewReporter(reporterOpts...)

	provider := s.provider
	if provider == nil {
		provider = &core.CSVTrajectoryProvider{Dir: cfg.Data.Dir, Pattern: cfg.Data.TrajectoryPattern}
	}

	opts := []controllers.Option{
		controllers.WithReporter(reporter),
		controllers.WithMetrics(metrics),
		controllers.WithTracer(tracer),
		controllers.WithRunID(runID),
		controllers.WithSimulationName(s.name),
	}
	var bar *logger.ProgressBar
	if s.progress {
		bar = logger.NewProgressBar(cfg.Engine.TimeSteps, "Timesteps")
		opts = append(opts, controllers.WithStepHook(func(closed, _ int) { bar.Update(closed) }))
	}

	coord := controllers.NewCoordinator(cfg.Engine, provider, opts...)

	s.mu.Lock()
	s.coordinator = coord
	if s.stopped {
		coord.Stop()
	}
	s.mu.Unlock()

	log.Infof("Starting run with %d drones from %s", cfg.Engine.NumAgents, cfg.Data.Dir)
	if err := coord.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start simulation: %w", err)
	}

	res, waitErr := coord.Wait(ctx)
	if bar != nil {
		bar.Finish()
	}
	if res == nil {
		return nil, waitErr
	}

	result = &simulation.Result{
		RunID:     res.RunID,
		Outcome:   res.Outcome.String(),
		Verdict:   res.Verdict,
		Reason:    res.Reason,
		Passed:    res.Passed(),
		Artifacts: reporter.Artifacts(),
		Duration:  res.Duration,
	}
	if waitErr != nil {
		return result, fmt.Errorf("simulation ended with errors: %w", waitErr)
	}
	return result, nil
}

// Stop requests a stop of the current run. A Stop before Run makes the next
// run terminate at its first step.
func (s *DroneLockstepSimulation) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.coordinator != nil {
		s.coordinator.Stop()
	}
	return nil
}

// Manifests returns the parsed parameter manifests of both presets
func Manifests() ([]*simulation.SimulationConfig, error) {
	var out []*simulation.SimulationConfig
	for _, data := range [][]byte{standardManifest, minimalManifest} {
		m, err := simulation.ParseManifest(data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Register adds both presets to reg
func Register(reg *simulation.Registry) error {
	manifests, err := Manifests()
	if err != nil {
		return err
	}

	factories := map[string]func() simulation.Simulation{
		"drone-lockstep":         NewDroneLockstepSimulation,
		"drone-lockstep-minimal": NewMinimalSimulation,
	}
	for _, m := range manifests {
		factory, ok := factories[m.Name]
		if !ok {
			return fmt.Errorf("no simulation for manifest %s", m.Name)
		}
		if err := reg.Register(m.Name, factory, m); err != nil {
			return err
		}
	}
	return nil
}

// init registers the simulation
func init() {
	if err := Register(simulation.DefaultRegistry); err != nil {
		logger.Errorf("Failed to register drone-lockstep simulations: %v", err)
	}
}
