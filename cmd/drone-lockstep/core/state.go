package core

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Pair is an unordered agent pair stored with A < B
type Pair struct {
	A int
	B int
}

// NewPair orders the two ids
func NewPair(i, j int) Pair {
	if i > j {
		i, j = j, i
	}
	return Pair{A: i, B: j}
}

// CollisionEvent is one recorded intersection. Immutable once logged.
type CollisionEvent struct {
	Timestep  int      `json:"timestep"`
	AgentA    int      `json:"agent_a"`
	AgentB    int      `json:"agent_b"`
	PositionA Position `json:"position_a"`
	PositionB Position `json:"position_b"`
}

// Pair returns the agents involved
func (e CollisionEvent) Pair() Pair {
	return Pair{A: e.AgentA, B: e.AgentB}
}

// AgentState is the per-drone record. Only the owning worker mutates it
// (through State methods); everyone else reads copies.
type AgentState struct {
	ID           int
	Trajectory   []Position
	Step         int
	Active       bool
	LastPosition Position
	HasPosition  bool
	Reason       string
	Notices      int
	ForceStopped bool
}

// StateConfig sizes the shared state
type StateConfig struct {
	NumAgents      int
	TotalTimeSteps int
	DroneSize      float64
	MaxCollisions  int
	LogCapacity    int
}

type slot struct {
	pos   Position
	valid bool
}

// State is the shared simulation model. One RWMutex guards every field
// except the abort flag, which is read lock-free on every wakeup.
type State struct {
	mu sync.RWMutex

	cfg             StateConfig
	phase           Phase
	outcome         Phase
	currentTimestep int

	agents []AgentState
	slots  [][]slot // [step][agent]

	log     []CollisionEvent
	dropped int

	dedup         map[Pair]struct{}
	closedThrough int

	abort       *atomic.Bool
	abortStep   int
	abortReason string
}

// NewState allocates the shared state for a run
func NewState(cfg StateConfig) (*State, error) {
	if cfg.NumAgents <= 0 {
		return nil, fmt.Errorf("%w: agent count must be positive, got %d", ErrSyncPrimitive, cfg.NumAgents)
	}
	if cfg.TotalTimeSteps <= 0 {
		return nil, fmt.Errorf("%w: time step count must be positive, got %d", ErrSyncPrimitive, cfg.TotalTimeSteps)
	}
	if cfg.LogCapacity <= 0 {
		return nil, fmt.Errorf("%w: collision log capacity must be positive, got %d", ErrSyncPrimitive, cfg.LogCapacity)
	}
	if cfg.MaxCollisions <= 0 {
		return nil, fmt.Errorf("%w: collision threshold must be positive, got %d", ErrSyncPrimitive, cfg.MaxCollisions)
	}

	agents := make([]AgentState, cfg.NumAgents)
	for i := range agents {
		agents[i] = AgentState{ID: i, Active: true}
	}

	slots := make([][]slot, cfg.TotalTimeSteps)
	for t := range slots {
		slots[t] = make([]slot, cfg.NumAgents)
	}

	return &State{
		cfg:           cfg,
		phase:         PhaseInitializing,
		agents:        agents,
		slots:         slots,
		log:           make([]CollisionEvent, 0, cfg.LogCapacity),
		dedup:         make(map[Pair]struct{}),
		closedThrough: -1,
		abort:         atomic.NewBool(false),
		abortStep:     -1,
	}, nil
}

// Config returns the sizing the state was built with
func (s *State) Config() StateConfig {
	return s.cfg
}

// SetTrajectory installs an agent's trajectory before the run starts
func (s *State) SetTrajectory(id int, trajectory []Position, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseInitializing {
		return fmt.Errorf("trajectory for agent %d set in phase %s: %w", id, s.phase, ErrInvalidTransition)
	}
	if id < 0 || id >= len(s.agents) {
		return fmt.Errorf("unknown agent %d", id)
	}

	s.agents[id].Trajectory = trajectory
	s.agents[id].Reason = reason
	return nil
}

// Phase returns the current lifecycle phase
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Outcome returns the terminal outcome, or PhaseRunning while undecided
func (s *State) Outcome() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.outcome.IsOutcome() {
		return PhaseRunning
	}
	return s.outcome
}

// Transition moves the state machine forward
func (s *State) Transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanTransition(s.phase, to) {
		return fmt.Errorf("%s -> %s: %w", s.phase, to, ErrInvalidTransition)
	}
	s.phase = to
	if to.IsOutcome() {
		s.outcome = to
		s.abort.Store(true)
	}
	return nil
}

// Aborted reports whether the abort flag is set
func (s *State) Aborted() bool {
	return s.abort.Load()
}

// RequestAbort raises the abort flag. The first caller's step and reason win.
func (s *State) RequestAbort(step int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestAbortLocked(step, reason)
}

func (s *State) requestAbortLocked(step int, reason string) bool {
	first := s.abortStep < 0 && s.abortReason == ""
	if first {
		s.abortStep = step
		s.abortReason = reason
	}
	s.abort.Store(true)
	return first
}

// AbortInfo returns the step and reason recorded by the first abort request
func (s *State) AbortInfo() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.abortStep, s.abortReason
}

// CurrentTimestep returns the number of closed steps
func (s *State) CurrentTimestep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTimestep
}

// AdvanceTimestep closes the open step and returns its index
func (s *State) AdvanceTimestep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTimestep >= s.cfg.TotalTimeSteps {
		return 0, fmt.Errorf("timestep %d already at limit %d", s.currentTimestep, s.cfg.TotalTimeSteps)
	}
	closed := s.currentTimestep
	s.currentTimestep++
	return closed, nil
}

// WritePosition stores the agent's position for the open step
func (s *State) WritePosition(id, step int, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abort.Load() || s.phase != PhaseRunning {
		return fmt.Errorf("agent %d step %d after abort: %w", id, step, ErrWriteRejected)
	}
	if id < 0 || id >= len(s.agents) {
		return fmt.Errorf("agent %d out of range: %w", id, ErrWriteRejected)
	}
	agent := &s.agents[id]
	if !agent.Active || agent.ForceStopped {
		return fmt.Errorf("agent %d inactive: %w", id, ErrWriteRejected)
	}
	if step != s.currentTimestep || step >= s.cfg.TotalTimeSteps {
		return fmt.Errorf("agent %d wrote step %d while step %d is open: %w", id, step, s.currentTimestep, ErrWriteRejected)
	}

	s.slots[step][id] = slot{pos: pos, valid: true}
	agent.Step = step
	agent.LastPosition = pos
	agent.HasPosition = true
	return nil
}

// SlotWritten reports whether agent id wrote a position for step
func (s *State) SlotWritten(step, id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if step < 0 || step >= len(s.slots) || id < 0 || id >= len(s.agents) {
		return false
	}
	return s.slots[step][id].valid
}

// Deactivate marks the agent inactive. Returns false if it already was.
func (s *State) Deactivate(id, step int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id >= len(s.agents) || !s.agents[id].Active {
		return false
	}
	agent := &s.agents[id]
	agent.Active = false
	agent.Step = step
	if agent.Reason == "" || reason != "" {
		agent.Reason = reason
	}
	return true
}

// ForceStop revokes an unresponsive agent's access to the state
func (s *State) ForceStop(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id >= len(s.agents) {
		return
	}
	agent := &s.agents[id]
	agent.ForceStopped = true
	agent.Active = false
	agent.Reason = "force stopped after grace period"
}

// RecordNotices stores how many collision notices the agent observed
func (s *State) RecordNotices(id, notices int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= 0 && id < len(s.agents) {
		s.agents[id].Notices = notices
	}
}

// ActiveIDs returns the ids of active agents in ascending order
func (s *State) ActiveIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.agents))
	for _, a := range s.agents {
		if a.Active {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// ActiveCount returns the number of active agents
func (s *State) ActiveCount() int {
	return len(s.ActiveIDs())
}

// Agent returns a copy of one agent's state
func (s *State) Agent(id int) AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[id]
}

// Agents returns copies of every agent's state
func (s *State) Agents() []AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AgentState, len(s.agents))
	copy(out, s.agents)
	return out
}

// CollisionLog returns a copy of the recorded events in order
func (s *State) CollisionLog() []CollisionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CollisionEvent, len(s.log))
	copy(out, s.log)
	return out
}

// CollisionCount is the deduplicated log length, the threshold counter
func (s *State) CollisionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// Dropped counts intersections that could not be logged for lack of capacity
func (s *State) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Flagged reports whether the pair is in the current step's dedup set
func (s *State) Flagged(p Pair) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[p]
	return ok
}

// ClearDedup empties the dedup set and closes step for detection
func (s *State) ClearDedup(step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step != s.closedThrough+1 {
		return fmt.Errorf("clearing step %d after step %d: %w", step, s.closedThrough, ErrStepClosed)
	}
	s.dedup = make(map[Pair]struct{})
	s.closedThrough = step
	return nil
}

// Snapshot is a consistent copy of the state for reporting
type Snapshot struct {
	Config          StateConfig
	Phase           Phase
	Outcome         Phase
	CurrentTimestep int
	Agents          []AgentState
	Collisions      []CollisionEvent
	Dropped         int
	AbortStep       int
	AbortReason     string
}

// Verdict is PASS iff the collision count stays under the threshold
func (s Snapshot) Verdict() string {
	if len(s.Collisions) < s.Config.MaxCollisions {
		return "PASS"
	}
	return "FAIL"
}

// Snapshot copies everything under one read lock
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]AgentState, len(s.agents))
	copy(agents, s.agents)
	collisions := make([]CollisionEvent, len(s.log))
	copy(collisions, s.log)

	return Snapshot{
		Config:          s.cfg,
		Phase:           s.phase,
		Outcome:         s.outcome,
		CurrentTimestep: s.currentTimestep,
		Agents:          agents,
		Collisions:      collisions,
		Dropped:         s.dropped,
		AbortStep:       s.abortStep,
		AbortReason:     s.abortReason,
	}
}
