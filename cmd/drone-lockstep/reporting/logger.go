package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// SimulationLogger prints simulation events to the console and keeps them
// for the end-of-run summary
type SimulationLogger struct {
	runID     string
	startTime time.Time
	out       io.Writer
	events    []SimulationEvent
	mu        sync.RWMutex
}

// SimulationEvent represents a logged simulation event
type SimulationEvent struct {
	Timestamp time.Time
	Type      string
	Severity  string
	Timestep  int
	Agents    []int
	Message   string
	Details   map[string]interface{}
}

// EventType constants
const (
	EventTypeStart        = "start"
	EventTypeCollision    = "collision"
	EventTypeDeactivation = "deactivation"
	EventTypeTermination  = "termination"
	EventTypeFault        = "fault"
)

// Severity constants
const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Color definitions
var (
	colorDebug    = color.New(color.FgHiBlack)
	colorInfo     = color.New(color.FgCyan)
	colorWarning  = color.New(color.FgYellow)
	colorError    = color.New(color.FgRed)
	colorCritical = color.New(color.FgRed, color.Bold)
	colorSuccess  = color.New(color.FgGreen)
)

const maxEvents = 10000

// NewSimulationLogger creates a simulation logger writing to stdout
func NewSimulationLogger(runID string) *SimulationLogger {
	return NewSimulationLoggerTo(runID, os.Stdout)
}

// NewSimulationLoggerTo creates a simulation logger writing to w
func NewSimulationLoggerTo(runID string, w io.Writer) *SimulationLogger {
	return &SimulationLogger{
		runID:     runID,
		startTime: time.Now(),
		out:       w,
		events:    make([]SimulationEvent, 0),
	}
}

// LogStart logs the run configuration
func (sl *SimulationLogger) LogStart(cfg core.StateConfig) {
	sl.logEvent(SimulationEvent{
		Timestamp: time.Now(),
		Type:      EventTypeStart,
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("%d drones, %d steps, threshold %d", cfg.NumAgents, cfg.TotalTimeSteps, cfg.MaxCollisions),
	})

	sl.logColoredMessage(SeverityInfo, "Simulation Started",
		fmt.Sprintf("ID: %s | Drones: %d | Steps: %d | Size: %g | Threshold: %d",
			shortID(sl.runID), cfg.NumAgents, cfg.TotalTimeSteps, cfg.DroneSize, cfg.MaxCollisions))
}

// LogCollision logs a detected intersection
func (sl *SimulationLogger) LogCollision(ev core.CollisionEvent, count int, recorded bool) {
	severity := SeverityWarning
	message := fmt.Sprintf("Drones %d and %d at timestep %d", ev.AgentA, ev.AgentB, ev.Timestep)
	if !recorded {
		severity = SeverityError
		message += " (log full, detail dropped)"
	}

	sl.logEvent(SimulationEvent{
		Timestamp: time.Now(),
		Type:      EventTypeCollision,
		Severity:  severity,
		Timestep:  ev.Timestep,
		Agents:    []int{ev.AgentA, ev.AgentB},
		Message:   message,
		Details: map[string]interface{}{
			"position_a": ev.PositionA,
			"position_b": ev.PositionB,
			"count":      count,
		},
	})

	sl.logColoredMessage(severity, "Collision",
		fmt.Sprintf("%s | %s vs %s | total %d", message, ev.PositionA, ev.PositionB, count))
}

// LogOutcome logs the terminal phase and verdict
func (sl *SimulationLogger) LogOutcome(r *Report) {
	severity := SeverityInfo
	if !r.Passed() {
		severity = SeverityCritical
	}

	sl.logEvent(SimulationEvent{
		Timestamp: time.Now(),
		Type:      EventTypeTermination,
		Severity:  severity,
		Timestep:  r.StepsCompleted,
		Message:   fmt.Sprintf("%s after %d steps: %s", r.Outcome, r.StepsCompleted, r.Verdict),
		Details: map[string]interface{}{
			"reason":          r.Reason,
			"collision_count": r.CollisionCount,
		},
	})

	for _, a := range r.Agents {
		if !a.Active && a.Reason != "" {
			sl.logEvent(SimulationEvent{
				Timestamp: time.Now(),
				Type:      EventTypeDeactivation,
				Severity:  SeverityDebug,
				Timestep:  a.LastStep,
				Agents:    []int{a.ID},
				Message:   a.Reason,
			})
		}
	}

	sl.logColoredMessage(severity, "Simulation Ended",
		fmt.Sprintf("Outcome: %s | Steps: %d | Collisions: %d/%d | Verdict: %s",
			r.Outcome, r.StepsCompleted, r.CollisionCount, r.MaxCollisions, r.Verdict))
}

// LogError logs an error event
func (sl *SimulationLogger) LogError(message string, err error, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["error"] = err.Error()

	sl.logEvent(SimulationEvent{
		Timestamp: time.Now(),
		Type:      EventTypeFault,
		Severity:  SeverityError,
		Message:   message,
		Details:   details,
	})

	logger.Errorf("%s: %v", message, err)
}

// GetEvents returns all logged events
func (sl *SimulationLogger) GetEvents() []SimulationEvent {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	events := make([]SimulationEvent, len(sl.events))
	copy(events, sl.events)
	return events
}

// SimulationSummary represents a summary of the simulation
type SimulationSummary struct {
	RunID       string
	StartTime   time.Time
	Duration    time.Duration
	TotalEvents int
	EventCounts map[string]int
}

// GetSummary returns a simulation summary
func (sl *SimulationLogger) GetSummary() SimulationSummary {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	eventCounts := make(map[string]int)
	for _, event := range sl.events {
		eventCounts[event.Type]++
	}

	return SimulationSummary{
		RunID:       sl.runID,
		StartTime:   sl.startTime,
		Duration:    time.Since(sl.startTime),
		TotalEvents: len(sl.events),
		EventCounts: eventCounts,
	}
}

// PrintSummary prints a formatted summary
func (sl *SimulationLogger) PrintSummary() {
	summary := sl.GetSummary()
	line := "================================================================"

	colorSuccess.Fprintln(sl.out, "\n"+line)
	colorSuccess.Fprintf(sl.out, "  SIMULATION SUMMARY - %s\n", shortID(summary.RunID))
	colorSuccess.Fprintln(sl.out, line)

	fmt.Fprintf(sl.out, "\nDuration: %v | Total Events: %d\n", summary.Duration.Round(time.Millisecond), summary.TotalEvents)

	types := make([]string, 0, len(summary.EventCounts))
	for t := range summary.EventCounts {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Fprintln(sl.out, "\nEvent Distribution:")
	for _, t := range types {
		fmt.Fprintf(sl.out, "   %-20s: %d\n", t, summary.EventCounts[t])
	}

	colorSuccess.Fprintln(sl.out, "\n"+line)
}

// logEvent adds an event to the log
func (sl *SimulationLogger) logEvent(event SimulationEvent) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.events = append(sl.events, event)

	if len(sl.events) > maxEvents {
		sl.events = sl.events[len(sl.events)-maxEvents:]
	}
}

// logColoredMessage logs a message with color based on severity
func (sl *SimulationLogger) logColoredMessage(severity, eventType, message string) {
	timestamp := time.Now().Format("15:04:05.000")

	var severityColor *color.Color
	switch severity {
	case SeverityDebug:
		severityColor = colorDebug
	case SeverityInfo:
		severityColor = colorInfo
	case SeverityWarning:
		severityColor = colorWarning
	case SeverityError:
		severityColor = colorError
	case SeverityCritical:
		severityColor = colorCritical
	default:
		severityColor = colorInfo
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	fmt.Fprintf(sl.out, "[%s] %s %s | %s\n",
		timestamp,
		severityColor.Sprint(fmt.Sprintf("%-8s", severity)),
		eventType,
		message)
}
