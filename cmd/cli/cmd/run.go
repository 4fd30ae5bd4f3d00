package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	dronesim "github.com/picogrid/drone-lockstep/cmd/drone-lockstep/simulation"
	"github.com/picogrid/drone-lockstep/pkg/logger"
	"github.com/picogrid/drone-lockstep/pkg/simulation"
	"github.com/picogrid/drone-lockstep/pkg/utils"
)

const defaultSimulation = "drone-lockstep"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation",
	Long: `Run a simulation interactively or with specified parameters.

Parameters not given in the parameters file are prompted for. Without a
terminal, or with DRONESIM_SKIP_PROMPTS=true, DRONESIM_<PARAM> environment
variables and the resolved config values are used instead.`,
	RunE: runSimulation,
}

func init() {
	runCmd.Flags().StringP("simulation", "s", "", "simulation name to run")
	runCmd.Flags().StringP("params", "p", "", "parameters file (YAML)")
	runCmd.Flags().String("sim-config", "", "simulation config file (default: drone-lockstep.yaml or config.yaml)")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().Bool("trace", false, "print OpenTelemetry spans to stdout")

	_ = viper.BindPFlag("simulation", runCmd.Flags().Lookup("simulation"))
	_ = viper.BindPFlag("sim_config", runCmd.Flags().Lookup("sim-config"))
	_ = viper.BindPFlag("metrics_addr", runCmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("trace", runCmd.Flags().Lookup("trace"))
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	simName, err := selectSimulation()
	if err != nil {
		return fmt.Errorf("failed to select simulation: %w", err)
	}

	sim, err := simulation.DefaultRegistry.Get(simName)
	if err != nil {
		return fmt.Errorf("failed to get simulation: %w", err)
	}

	manifest, ok := simulation.DefaultRegistry.Manifest(simName)
	if !ok {
		return fmt.Errorf("simulation configuration not found for %s", simName)
	}

	simConfig := viper.GetString("sim_config")
	if defaulter, ok := sim.(simulation.ParameterDefaulter); ok {
		defaults, err := defaulter.ParameterDefaults(simConfig)
		if err != nil {
			return fmt.Errorf("failed to resolve defaults: %w", err)
		}
		manifest = manifest.WithDefaults(defaults)
	}

	paramsFile, _ := cmd.Flags().GetString("params")
	provided, err := loadParamsFile(paramsFile)
	if err != nil {
		return err
	}

	params, err := utils.PromptForParameters(manifest.Parameters, provided)
	if err != nil {
		return fmt.Errorf("failed to get parameters: %w", err)
	}

	// Values outside the manifest still reach the config layer
	for k, v := range provided {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}
	params[dronesim.ConfigFileParam] = simConfig
	if addr := viper.GetString("metrics_addr"); addr != "" {
		params["metrics_addr"] = addr
	}
	if viper.GetBool("trace") {
		params["trace"] = true
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		params["log_level"] = logLevel
	}

	if err := sim.Configure(params); err != nil {
		return fmt.Errorf("failed to configure simulation: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		if _, ok := <-sigChan; !ok {
			return
		}
		logger.Warn("\nReceived interrupt signal, stopping simulation...")
		if err := sim.Stop(); err != nil {
			logger.Errorf("Failed to stop simulation: %v", err)
		}
		// A second signal abandons the shutdown protocol
		if _, ok := <-sigChan; ok {
			logger.Warn("Second interrupt, cancelling")
			cancel()
		}
	}()

	logger.LogSection(fmt.Sprintf("Starting %s", sim.Name()))
	result, err := sim.Run(ctx)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	if result.Passed {
		logger.Success("Simulation completed: PASS")
	} else {
		logger.Warnf("Simulation completed: %s", result.Verdict)
	}
	return nil
}

func printResult(r *simulation.Result) {
	logger.LogSubSection("Result")
	logger.LogKeyValue("Run ID", r.RunID)
	logger.LogKeyValue("Outcome", r.Outcome)
	logger.LogKeyValue("Reason", r.Reason)
	logger.LogKeyValue("Verdict", r.Verdict)
	logger.LogKeyValue("Duration", r.Duration.Round(time.Millisecond))
	if len(r.Artifacts) > 0 {
		logger.LogList("Artifacts", r.Artifacts)
	}
}

func loadParamsFile(path string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters file: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse parameters file: %w", err)
	}
	return params, nil
}

func selectSimulation() (string, error) {
	// Check if simulation is specified via flag or environment
	if simName := viper.GetString("simulation"); simName != "" {
		return simName, nil
	}

	simInfos, err := utils.DiscoverSimulations(simulation.DefaultRegistry)
	if err != nil {
		return "", err
	}

	if len(simInfos) == 0 {
		return "", fmt.Errorf("no simulations found")
	}

	if !utils.Interactive() {
		return defaultSimulation, nil
	}

	// Build options for selection
	options := make([]string, len(simInfos))
	descriptions := make(map[string]string)

	for i, info := range simInfos {
		options[i] = info.Name
		descriptions[info.Name] = info.Config.Description
	}

	// Interactive selection
	var selected string
	prompt := &survey.Select{
		Message: "Select simulation:",
		Options: options,
		Default: defaultSimulation,
		Description: func(value string, index int) string {
			return descriptions[value]
		},
	}

	if err := survey.AskOne(prompt, &selected); err != nil {
		return "", err
	}

	return selected, nil
}
