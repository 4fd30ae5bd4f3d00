package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/reporting"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs", "drone-lockstep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReport(runID string, started time.Time, collisions int) *reporting.Report {
	pos := core.Position{X: 10, Y: 10, Z: 10}
	r := &reporting.Report{
		RunID:      runID,
		Simulation: "drone-lockstep",
		StartedAt:  started,
		EndedAt:    started.Add(time.Second),
		DurationMS: 1000,
		Config: reporting.ConfigSummary{
			NumAgents: 2, DroneSize: 4, MaxCollisions: 5, TimeSteps: 20, LogCapacity: 50,
		},
		Outcome:        "NATURAL_COMPLETION",
		Reason:         "all 20 timesteps completed",
		TerminatedAt:   19,
		StepsCompleted: 20,
		Agents: []reporting.AgentStatus{
			{ID: 0, LastPosition: &pos, LastStep: 19, Reason: "run completed", Notices: collisions},
			{ID: 1, LastStep: 0, Reason: "sentinel reached"},
		},
		Verdict: reporting.VerdictPass,
		Faults:  []string{"agent 1: trajectory error: boom"},
	}
	for i := 0; i < collisions; i++ {
		r.Collisions = append(r.Collisions, core.CollisionEvent{
			Timestep: i, AgentA: 0, AgentB: 1,
			PositionA: pos, PositionB: core.Position{X: 11, Y: 10, Z: 10},
		})
	}
	r.CollisionCount = collisions
	return r
}

func TestSaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, testReport("run-a", started, 3)))

	run, err := store.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "NATURAL_COMPLETION", run.Outcome)
	assert.Equal(t, 3, run.CollisionCount)
	assert.Equal(t, "agent 1: trajectory error: boom", run.Faults)

	require.Len(t, run.Agents, 2)
	assert.True(t, run.Agents[0].HasPosition)
	assert.Equal(t, 10.0, run.Agents[0].X)
	assert.False(t, run.Agents[1].HasPosition)
	assert.Equal(t, "sentinel reached", run.Agents[1].Reason)

	require.Len(t, run.Collisions, 3)
	for i, c := range run.Collisions {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, i, c.Timestep)
		assert.Equal(t, 11.0, c.BX)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, testReport("old", base, 0)))
	require.NoError(t, store.SaveRun(ctx, testReport("new", base.Add(time.Hour), 1)))
	require.NoError(t, store.SaveRun(ctx, testReport("mid", base.Add(time.Minute), 2)))

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "mid", runs[1].RunID)
	assert.Empty(t, runs[0].Agents)
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	r := testReport("dup", time.Now(), 0)

	require.NoError(t, store.SaveRun(ctx, r))
	assert.Error(t, store.SaveRun(ctx, r))

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGetRunNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreIsAReporterSink(t *testing.T) {
	store := openTestStore(t)
	reporter := reporting.NewReporter(reporting.WithSink(store))

	snap := core.Snapshot{
		Config:          core.StateConfig{NumAgents: 1, TotalTimeSteps: 2, DroneSize: 4, MaxCollisions: 1, LogCapacity: 1},
		Outcome:         core.PhaseNaturalCompletion,
		CurrentTimestep: 2,
		Agents:          []core.AgentState{{ID: 0, Step: 1, Reason: "run completed"}},
	}
	report, err := reporter.Finalize(snap, reporting.RunMeta{RunID: "sink-run", StartedAt: time.Now()})
	require.NoError(t, err)

	run, err := store.GetRun(context.Background(), "sink-run")
	require.NoError(t, err)
	assert.Equal(t, report.Verdict, run.Verdict)
	assert.Equal(t, 2, run.StepsCompleted)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
