package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/reporting"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/storage"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

func TestLoadParamsFile(t *testing.T) {
	params, err := loadParamsFile("")
	require.NoError(t, err)
	assert.Empty(t, params)

	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_agents: 4\ndrone_size: 2.5\nstep_timeout: 3s\n"), 0644))

	params, err = loadParamsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, params["num_agents"])
	assert.Equal(t, 2.5, params["drone_size"])
	assert.Equal(t, "3s", params["step_timeout"])

	_, err = loadParamsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHistoryListsAndShowsRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.Open(dbPath)
	require.NoError(t, err)

	pos := core.Position{X: 1, Y: 2, Z: 3}
	report := &reporting.Report{
		RunID:      "run-history-1",
		Simulation: "drone-lockstep-minimal",
		StartedAt:  time.Now(),
		EndedAt:    time.Now(),
		Config:     reporting.ConfigSummary{NumAgents: 2, DroneSize: 4, MaxCollisions: 1, TimeSteps: 20, LogCapacity: 500},
		Outcome:    "COLLISION_ABORT",
		Reason:     "collision threshold 1 reached at timestep 3",
		Agents: []reporting.AgentStatus{
			{ID: 0, LastPosition: &pos, LastStep: 3, Reason: "stopped: COLLISION_ABORT"},
			{ID: 1, LastPosition: &pos, LastStep: 3, Reason: "stopped: COLLISION_ABORT"},
		},
		Collisions:     []core.CollisionEvent{{Timestep: 3, AgentA: 0, AgentB: 1, PositionA: pos, PositionB: pos}},
		CollisionCount: 1,
		Verdict:        reporting.VerdictFail,
	}
	require.NoError(t, store.SaveRun(context.Background(), report))
	require.NoError(t, store.Close())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	rootCmd.SetArgs([]string{"history", "--db", dbPath, "--no-color"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "run-history-1")
	assert.Contains(t, buf.String(), "COLLISION_ABORT")

	buf.Reset()
	rootCmd.SetArgs([]string{"history", "run-history-1", "--db", dbPath, "--no-color"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "collision threshold 1 reached at timestep 3")
	assert.Contains(t, buf.String(), "0-1")

	rootCmd.SetArgs([]string{"history", "no-such-run", "--db", dbPath})
	assert.ErrorIs(t, rootCmd.Execute(), storage.ErrRunNotFound)
}
