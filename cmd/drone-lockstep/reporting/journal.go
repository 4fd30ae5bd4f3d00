package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
)

// Journal writes one JSON line per run event
type Journal struct {
	log    zerolog.Logger
	closer io.Closer
}

// NewJournal writes to w
func NewJournal(w io.Writer, runID string) *Journal {
	return &Journal{
		log: zerolog.New(w).With().
			Timestamp().
			Str("run_id", runID).
			Logger(),
	}
}

// OpenJournal appends to the file at path
func OpenJournal(path, runID string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening journal: %w", err)
	}
	j := NewJournal(f, runID)
	j.closer = f
	return j, nil
}

type position core.Position

func (p position) MarshalZerologObject(e *zerolog.Event) {
	e.Float64("x", p.X).Float64("y", p.Y).Float64("z", p.Z)
}

// RunStarted records the engine sizing
func (j *Journal) RunStarted(cfg core.StateConfig) {
	j.log.Info().
		Str("event", "run_started").
		Int("num_agents", cfg.NumAgents).
		Int("time_steps", cfg.TotalTimeSteps).
		Float64("drone_size", cfg.DroneSize).
		Int("max_collisions", cfg.MaxCollisions).
		Int("log_capacity", cfg.LogCapacity).
		Msg("run started")
}

// Collision records one intersection
func (j *Journal) Collision(ev core.CollisionEvent, count int, recorded bool) {
	e := j.log.Info()
	if !recorded {
		e = j.log.Warn()
	}
	e.Str("event", "collision").
		Int("timestep", ev.Timestep).
		Int("agent_a", ev.AgentA).
		Int("agent_b", ev.AgentB).
		Object("position_a", position(ev.PositionA)).
		Object("position_b", position(ev.PositionB)).
		Int("collision_count", count).
		Bool("recorded", recorded).
		Msg("collision detected")
}

// RunFinished records the outcome
func (j *Journal) RunFinished(r *Report) {
	e := j.log.Info()
	if !r.Passed() {
		e = j.log.Error()
	}
	e.Str("event", "run_finished").
		Str("outcome", r.Outcome).
		Str("verdict", r.Verdict).
		Str("reason", r.Reason).
		Int("steps_completed", r.StepsCompleted).
		Int("collision_count", r.CollisionCount).
		Int("dropped", r.Dropped).
		Strs("faults", r.Faults).
		Dur("duration", time.Duration(r.DurationMS)*time.Millisecond).
		Msg("run finished")
}

// Close closes the underlying file, if any
func (j *Journal) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}
