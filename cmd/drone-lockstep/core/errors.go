package core

import "errors"

// Error classes shared by the engine. Callers wrap them with context using
// fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrConfig marks malformed or missing configuration; defaults are used instead
	ErrConfig = errors.New("configuration error")

	// ErrTrajectory marks malformed or short per-agent data; only the owning agent deactivates
	ErrTrajectory = errors.New("trajectory error")

	// ErrCapacityExceeded marks a collision that could not be logged because the log is full
	ErrCapacityExceeded = errors.New("collision log capacity exceeded")

	// ErrSyncPrimitive marks a failure to build synchronization state at startup
	ErrSyncPrimitive = errors.New("synchronization setup failed")

	// ErrStartup wraps every fatal startup failure. No agent runs and no report is produced.
	ErrStartup = errors.New("simulation startup failed")

	// ErrAgentUnresponsive marks an agent that did not exit within the grace period
	ErrAgentUnresponsive = errors.New("agent unresponsive")

	// ErrStepTimeout marks a barrier wait that did not complete in time
	ErrStepTimeout = errors.New("step barrier timed out")

	// ErrStepClosed is returned when detection is requested for a step whose dedup set was already cleared
	ErrStepClosed = errors.New("step already closed")

	// ErrInvalidTransition is returned for an illegal phase change
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrWriteRejected is returned when an agent writes outside the running window
	ErrWriteRejected = errors.New("position write rejected")
)
