package reporting

import (
	"time"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
)

// Verdicts
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

const failRecommendation = "Revise flight paths to reduce collision risk"

// RunMeta carries the run facts the state snapshot does not hold
type RunMeta struct {
	RunID        string
	Simulation   string
	StartedAt    time.Time
	EndedAt      time.Time
	Reason       string
	TerminatedAt int
	Faults       []string
}

// ConfigSummary is the engine configuration echoed in the report
type ConfigSummary struct {
	NumAgents     int     `json:"num_agents"`
	DroneSize     float64 `json:"drone_size"`
	MaxCollisions int     `json:"max_collisions"`
	TimeSteps     int     `json:"time_steps"`
	LogCapacity   int     `json:"log_capacity"`
}

// AgentStatus is one drone's final state
type AgentStatus struct {
	ID           int            `json:"id"`
	LastPosition *core.Position `json:"last_position,omitempty"`
	LastStep     int            `json:"last_step"`
	Active       bool           `json:"active"`
	Reason       string         `json:"reason,omitempty"`
	Notices      int            `json:"collision_notices"`
	ForceStopped bool           `json:"force_stopped,omitempty"`
}

// Report is the final run artifact
type Report struct {
	RunID          string                `json:"run_id"`
	Simulation     string                `json:"simulation"`
	StartedAt      time.Time             `json:"started_at"`
	EndedAt        time.Time             `json:"ended_at"`
	DurationMS     int64                 `json:"duration_ms"`
	Config         ConfigSummary         `json:"config"`
	Outcome        string                `json:"outcome"`
	Reason         string                `json:"termination_reason"`
	TerminatedAt   int                   `json:"terminated_at_step"`
	StepsCompleted int                   `json:"steps_completed"`
	Agents         []AgentStatus         `json:"agents"`
	Collisions     []core.CollisionEvent `json:"collisions"`
	CollisionCount int                   `json:"collision_count"`
	MaxCollisions  int                   `json:"max_collisions"`
	Dropped        int                   `json:"dropped_collisions"`
	CollisionRate  float64               `json:"collision_rate"`
	Verdict        string                `json:"verdict"`
	Recommendation string                `json:"recommendation,omitempty"`
	Faults         []string              `json:"faults,omitempty"`
}

// BuildReport assembles the report from a final snapshot
func BuildReport(snap core.Snapshot, meta RunMeta) *Report {
	agents := make([]AgentStatus, len(snap.Agents))
	for i, a := range snap.Agents {
		status := AgentStatus{
			ID:           a.ID,
			LastStep:     a.Step,
			Active:       a.Active,
			Reason:       a.Reason,
			Notices:      a.Notices,
			ForceStopped: a.ForceStopped,
		}
		if a.HasPosition {
			pos := a.LastPosition
			status.LastPosition = &pos
		}
		agents[i] = status
	}

	collisions := make([]core.CollisionEvent, len(snap.Collisions))
	copy(collisions, snap.Collisions)

	r := &Report{
		RunID:      meta.RunID,
		Simulation: meta.Simulation,
		StartedAt:  meta.StartedAt,
		EndedAt:    meta.EndedAt,
		Config: ConfigSummary{
			NumAgents:     snap.Config.NumAgents,
			DroneSize:     snap.Config.DroneSize,
			MaxCollisions: snap.Config.MaxCollisions,
			TimeSteps:     snap.Config.TotalTimeSteps,
			LogCapacity:   snap.Config.LogCapacity,
		},
		Outcome:        snap.Outcome.String(),
		Reason:         meta.Reason,
		TerminatedAt:   meta.TerminatedAt,
		StepsCompleted: snap.CurrentTimestep,
		Agents:         agents,
		Collisions:     collisions,
		CollisionCount: len(collisions),
		MaxCollisions:  snap.Config.MaxCollisions,
		Dropped:        snap.Dropped,
		Verdict:        snap.Verdict(),
		Faults:         meta.Faults,
	}

	if !meta.EndedAt.IsZero() && !meta.StartedAt.IsZero() {
		r.DurationMS = meta.EndedAt.Sub(meta.StartedAt).Milliseconds()
	}
	if r.StepsCompleted > 0 {
		r.CollisionRate = float64(r.CollisionCount) / float64(r.StepsCompleted)
	}
	if r.Verdict == VerdictFail {
		r.Recommendation = failRecommendation
	}

	return r
}

// Passed reports whether the verdict is PASS
func (r *Report) Passed() bool {
	return r.Verdict == VerdictPass
}

// Duration is the wall time of the run
func (r *Report) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}
