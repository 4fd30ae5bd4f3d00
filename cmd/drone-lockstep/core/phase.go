package core

import "fmt"

// Phase is the coordinator lifecycle state
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseNaturalCompletion
	PhaseCollisionAbort
	PhaseFaultAbort
	PhaseReporting
	PhaseTerminated
)

var phaseNames = map[Phase]string{
	PhaseInitializing:      "INITIALIZING",
	PhaseRunning:           "RUNNING",
	PhaseNaturalCompletion: "NATURAL_COMPLETION",
	PhaseCollisionAbort:    "COLLISION_ABORT",
	PhaseFaultAbort:        "FAULT_ABORT",
	PhaseReporting:         "REPORTING",
	PhaseTerminated:        "TERMINATED",
}

// String returns the upper-case phase name
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE(%d)", int(p))
}

// IsOutcome reports whether p is one of the three terminal run outcomes
func (p Phase) IsOutcome() bool {
	return p == PhaseNaturalCompletion || p == PhaseCollisionAbort || p == PhaseFaultAbort
}

// allowedTransitions is the coordinator state machine
var allowedTransitions = map[Phase][]Phase{
	PhaseInitializing:      {PhaseRunning},
	PhaseRunning:           {PhaseNaturalCompletion, PhaseCollisionAbort, PhaseFaultAbort},
	PhaseNaturalCompletion: {PhaseReporting},
	PhaseCollisionAbort:    {PhaseReporting},
	PhaseFaultAbort:        {PhaseReporting},
	PhaseReporting:         {PhaseTerminated},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
