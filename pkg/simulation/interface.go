package simulation

import (
	"context"
	"time"
)

// Simulation defines the interface that all simulations must implement
type Simulation interface {
	// Name returns the name of the simulation
	Name() string

	// Description returns a brief description of what the simulation does
	Description() string

	// Configure sets up the simulation with the provided parameters
	Configure(params map[string]interface{}) error

	// Run executes the simulation until it terminates on its own or ctx is done
	Run(ctx context.Context) (*Result, error)

	// Stop gracefully shuts down the simulation
	Stop() error
}

// ParameterDefaulter is implemented by simulations whose parameter defaults
// depend on a config file rather than the manifest alone
type ParameterDefaulter interface {
	ParameterDefaults(configFile string) (map[string]interface{}, error)
}

// Result summarises a finished run
type Result struct {
	RunID     string
	Outcome   string
	Verdict   string
	Reason    string
	Passed    bool
	Artifacts []string
	Duration  time.Duration
}
