package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningState(t *testing.T, cfg StateConfig) *State {
	t.Helper()
	s, err := NewState(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Transition(PhaseRunning))
	return s
}

func TestNewStateRejectsBadSizing(t *testing.T) {
	cases := []StateConfig{
		{NumAgents: 0, TotalTimeSteps: 10, LogCapacity: 10, MaxCollisions: 1},
		{NumAgents: 2, TotalTimeSteps: 0, LogCapacity: 10, MaxCollisions: 1},
		{NumAgents: 2, TotalTimeSteps: 10, LogCapacity: 0, MaxCollisions: 1},
		{NumAgents: 2, TotalTimeSteps: 10, LogCapacity: 10, MaxCollisions: 0},
	}
	for _, cfg := range cases {
		_, err := NewState(cfg)
		assert.ErrorIs(t, err, ErrSyncPrimitive)
	}
}

func TestStateTransitions(t *testing.T) {
	s, err := NewState(StateConfig{NumAgents: 1, TotalTimeSteps: 1, LogCapacity: 1, MaxCollisions: 1})
	require.NoError(t, err)

	assert.Equal(t, PhaseInitializing, s.Phase())
	assert.ErrorIs(t, s.Transition(PhaseReporting), ErrInvalidTransition)

	require.NoError(t, s.Transition(PhaseRunning))
	assert.False(t, s.Aborted())
	assert.Equal(t, PhaseRunning, s.Outcome())

	require.NoError(t, s.Transition(PhaseNaturalCompletion))
	assert.True(t, s.Aborted(), "every outcome raises the abort flag")
	assert.Equal(t, PhaseNaturalCompletion, s.Outcome())

	require.NoError(t, s.Transition(PhaseReporting))
	require.NoError(t, s.Transition(PhaseTerminated))
	assert.Equal(t, PhaseNaturalCompletion, s.Outcome())
}

func TestWritePositionWindow(t *testing.T) {
	s := newRunningState(t, StateConfig{NumAgents: 2, TotalTimeSteps: 3, DroneSize: 1, LogCapacity: 5, MaxCollisions: 5})

	require.NoError(t, s.WritePosition(0, 0, Position{1, 1, 1}))
	assert.True(t, s.SlotWritten(0, 0))
	assert.False(t, s.SlotWritten(0, 1))

	// step 1 is not open until the coordinator closes step 0
	assert.ErrorIs(t, s.WritePosition(0, 1, Position{2, 2, 2}), ErrWriteRejected)

	closed, err := s.AdvanceTimestep()
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	assert.Equal(t, 1, s.CurrentTimestep())

	require.NoError(t, s.WritePosition(0, 1, Position{2, 2, 2}))
	agent := s.Agent(0)
	assert.Equal(t, Position{2, 2, 2}, agent.LastPosition)
	assert.Equal(t, 1, agent.Step)
	assert.True(t, agent.HasPosition)

	s.ForceStop(1)
	assert.ErrorIs(t, s.WritePosition(1, 1, Position{3, 3, 3}), ErrWriteRejected)
	assert.True(t, s.Agent(1).ForceStopped)

	s.RequestAbort(1, "test")
	assert.ErrorIs(t, s.WritePosition(0, 1, Position{4, 4, 4}), ErrWriteRejected)
}

func TestAdvanceTimestepStopsAtLimit(t *testing.T) {
	s := newRunningState(t, StateConfig{NumAgents: 1, TotalTimeSteps: 2, LogCapacity: 1, MaxCollisions: 1})

	for i := 0; i < 2; i++ {
		closed, err := s.AdvanceTimestep()
		require.NoError(t, err)
		assert.Equal(t, i, closed)
		assert.Equal(t, i+1, s.CurrentTimestep())
	}
	_, err := s.AdvanceTimestep()
	assert.Error(t, err)
	assert.Equal(t, 2, s.CurrentTimestep())
}

func TestDeactivateIsIsolated(t *testing.T) {
	s := newRunningState(t, StateConfig{NumAgents: 3, TotalTimeSteps: 5, LogCapacity: 1, MaxCollisions: 1})

	assert.True(t, s.Deactivate(1, 2, "sentinel reached"))
	assert.False(t, s.Deactivate(1, 3, "again"), "second deactivation is a no-op")

	assert.Equal(t, []int{0, 2}, s.ActiveIDs())
	assert.Equal(t, 2, s.ActiveCount())
	assert.Equal(t, "sentinel reached", s.Agent(1).Reason)
	assert.Equal(t, 2, s.Agent(1).Step)
	assert.True(t, s.Agent(0).Active)
	assert.True(t, s.Agent(2).Active)
}

func TestRequestAbortKeepsFirstReason(t *testing.T) {
	s := newRunningState(t, StateConfig{NumAgents: 1, TotalTimeSteps: 5, LogCapacity: 1, MaxCollisions: 1})

	assert.True(t, s.RequestAbort(3, "threshold"))
	assert.False(t, s.RequestAbort(4, "timeout"))

	step, reason := s.AbortInfo()
	assert.Equal(t, 3, step)
	assert.Equal(t, "threshold", reason)
	assert.True(t, s.Aborted())
}

func TestClearDedupOncePerStep(t *testing.T) {
	s := newRunningState(t, StateConfig{NumAgents: 2, TotalTimeSteps: 5, LogCapacity: 1, MaxCollisions: 1})

	require.NoError(t, s.ClearDedup(0))
	assert.ErrorIs(t, s.ClearDedup(0), ErrStepClosed)
	assert.ErrorIs(t, s.ClearDedup(2), ErrStepClosed)
	require.NoError(t, s.ClearDedup(1))
}

func TestSnapshotVerdict(t *testing.T) {
	snap := Snapshot{Config: StateConfig{MaxCollisions: 2}}
	assert.Equal(t, "PASS", snap.Verdict())

	snap.Collisions = make([]CollisionEvent, 2)
	assert.Equal(t, "FAIL", snap.Verdict())
}
