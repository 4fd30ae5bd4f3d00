package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/config"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/observability"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/reporting"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetLevel(logger.ErrorLevel)
	os.Exit(m.Run())
}

func testEngine(agents int, size float64, maxCollisions, steps int) config.Engine {
	return config.Engine{
		NumAgents:     agents,
		DroneSize:     size,
		MaxCollisions: maxCollisions,
		TimeSteps:     steps,
		LogCapacity:   50,
		GracePeriod:   2 * time.Second,
		StepTimeout:   5 * time.Second,
	}
}

// constant returns n copies of p
func constant(p core.Position, n int) []core.Position {
	out := make([]core.Position, n)
	for i := range out {
		out[i] = p
	}
	return out
}

// with returns traj with position p at step
func with(traj []core.Position, step int, p core.Position) []core.Position {
	traj[step] = p
	return traj
}

var (
	home = core.Position{X: 10, Y: 10, Z: 10}
	near = core.Position{X: 11, Y: 10, Z: 10}
	far  = core.Position{X: 50, Y: 50, Z: 50}
)

// stepLog records which steps each agent wrote
type stepLog struct {
	mu    sync.Mutex
	steps map[int][]int
}

func newStepLog() *stepLog {
	return &stepLog{steps: make(map[int][]int)}
}

func (l *stepLog) hook(id, step int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps[id] = append(l.steps[id], step)
}

func (l *stepLog) max() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	highest := -1
	for _, steps := range l.steps {
		for _, s := range steps {
			if s > highest {
				highest = s
			}
		}
	}
	return highest
}

func withAgentHook(fn func(id, step int)) Option {
	return func(c *Coordinator) { c.agentHook = fn }
}

func runToEnd(t *testing.T, c *Coordinator) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))
	return c.Wait(ctx)
}

func TestScenarioSentinelAtFirstStep(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 20),
		1: {core.Sentinel},
	}
	c := NewCoordinator(testEngine(2, 4, 5, 20), provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	assert.Equal(t, reporting.VerdictPass, res.Verdict)
	assert.Equal(t, 0, res.CollisionCount)
	assert.Equal(t, 20, res.StepsCompleted)
	assert.Equal(t, core.PhaseTerminated, c.State().Phase())

	a1 := c.State().Agent(1)
	assert.False(t, a1.Active)
	assert.Equal(t, ReasonSentinel, a1.Reason)
	assert.Equal(t, 0, a1.Step)
	assert.False(t, a1.HasPosition)
	assert.False(t, c.State().SlotWritten(0, 1))
}

func TestAllAgentsAtSentinelEndsAfterFirstStep(t *testing.T) {
	provider := core.StaticTrajectories{0: {core.Sentinel}, 1: nil}
	c := NewCoordinator(testEngine(2, 4, 5, 20), provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	assert.Equal(t, 1, res.StepsCompleted)
	assert.Equal(t, 0, res.TerminatedAt)
	assert.Equal(t, ReasonExhausted, c.State().Agent(1).Reason)
}

func TestScenarioSingleCollision(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 20),
		1: with(constant(far, 20), 5, near),
	}
	c := NewCoordinator(testEngine(2, 4, 5, 20), provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	assert.Equal(t, reporting.VerdictPass, res.Verdict)
	require.Equal(t, 1, res.CollisionCount)

	ev := c.State().CollisionLog()[0]
	assert.Equal(t, core.CollisionEvent{Timestep: 5, AgentA: 0, AgentB: 1, PositionA: home, PositionB: near}, ev)

	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.Agents[0].Notices)
	assert.Equal(t, 1, res.Report.Agents[1].Notices)
	for _, a := range res.Report.Agents {
		assert.False(t, a.Active)
		assert.Equal(t, ReasonCompleted, a.Reason)
	}
}

func TestScenarioThresholdAbortStopsWrites(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 20),
		1: with(constant(far, 20), 3, near),
	}
	steps := newStepLog()
	c := NewCoordinator(testEngine(2, 4, 1, 20), provider, withAgentHook(steps.hook))

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseCollisionAbort, res.Outcome)
	assert.Equal(t, reporting.VerdictFail, res.Verdict)
	assert.Equal(t, 1, res.CollisionCount)
	assert.Equal(t, 3, res.TerminatedAt)
	assert.Equal(t, 4, res.StepsCompleted)
	assert.Contains(t, res.Reason, "collision threshold 1")

	assert.Equal(t, 3, steps.max())
	for id := 0; id < 2; id++ {
		assert.False(t, c.State().SlotWritten(4, id), "agent %d wrote step 4", id)
		assert.Equal(t, "stopped: COLLISION_ABORT", c.State().Agent(id).Reason)
	}

	require.NotNil(t, res.Report)
	assert.Equal(t, reporting.VerdictFail, res.Report.Verdict)
	assert.NotEmpty(t, res.Report.Recommendation)
}

func TestCollisionIsLoggedOncePerPairAndStep(t *testing.T) {
	// three drones share a point for two steps
	provider := core.StaticTrajectories{
		0: constant(home, 2),
		1: constant(home, 2),
		2: constant(near, 2),
	}
	c := NewCoordinator(testEngine(3, 4, 50, 2), provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, 6, res.CollisionCount)
	seen := make(map[string]bool)
	for _, ev := range c.State().CollisionLog() {
		key := fmt.Sprintf("%d/%d/%d", ev.Timestep, ev.AgentA, ev.AgentB)
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
		assert.Less(t, ev.AgentA, ev.AgentB)
	}
}

func TestFullLogDropsDetailButKeepsCounting(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 3),
		1: constant(home, 3),
		2: constant(home, 3),
	}
	eng := testEngine(3, 4, 2, 3)
	eng.LogCapacity = 2
	c := NewCoordinator(eng, provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseCollisionAbort, res.Outcome)
	assert.Equal(t, 0, res.TerminatedAt)
	assert.Equal(t, 2, res.CollisionCount)
	assert.Equal(t, 1, res.Dropped)
}

func TestStepTimeoutIsFaultAbort(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 10),
		1: constant(far, 10),
	}
	eng := testEngine(2, 4, 5, 10)
	eng.StepTimeout = 50 * time.Millisecond

	slow := withAgentHook(func(id, step int) {
		if id == 1 && step == 2 {
			time.Sleep(300 * time.Millisecond)
		}
	})
	c := NewCoordinator(eng, provider, slow)

	res, err := runToEnd(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStepTimeout)
	assert.NotErrorIs(t, err, core.ErrAgentUnresponsive)

	assert.Equal(t, core.PhaseFaultAbort, res.Outcome)
	assert.Equal(t, 2, res.TerminatedAt)
	assert.Equal(t, 2, res.StepsCompleted)
	assert.False(t, c.State().Agent(1).ForceStopped)
	require.NotNil(t, res.Report)
	assert.Equal(t, "FAULT_ABORT", res.Report.Outcome)
}

func TestUnresponsiveAgentIsForceStopped(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 10),
		1: constant(far, 10),
	}
	eng := testEngine(2, 4, 5, 10)
	eng.StepTimeout = 50 * time.Millisecond
	eng.GracePeriod = 50 * time.Millisecond

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stuck := withAgentHook(func(id, step int) {
		if id == 1 && step == 1 {
			<-release
		}
	})
	c := NewCoordinator(eng, provider, stuck)

	res, err := runToEnd(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStepTimeout)
	assert.ErrorIs(t, err, core.ErrAgentUnresponsive)

	a1 := c.State().Agent(1)
	assert.True(t, a1.ForceStopped)
	assert.False(t, a1.Active)
	assert.False(t, c.State().Agent(0).ForceStopped)

	require.NotNil(t, res.Report)
	found := false
	for _, f := range res.Report.Faults {
		if strings.Contains(f, "agent 1") && strings.Contains(f, core.ErrAgentUnresponsive.Error()) {
			found = true
		}
	}
	assert.True(t, found, "faults: %v", res.Report.Faults)
	assert.ErrorIs(t, c.State().WritePosition(1, 2, far), core.ErrWriteRejected)
}

func TestAgentPanicDeactivatesOnlyThatAgent(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 10),
		1: constant(far, 10),
		2: constant(core.Position{X: 90, Y: 90, Z: 90}, 10),
	}
	boom := withAgentHook(func(id, step int) {
		if id == 1 && step == 2 {
			panic("corrupt waypoint")
		}
	})
	c := NewCoordinator(testEngine(3, 4, 5, 10), provider, boom)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	assert.Equal(t, 10, res.StepsCompleted)

	a1 := c.State().Agent(1)
	assert.False(t, a1.Active)
	assert.True(t, strings.HasPrefix(a1.Reason, "panic: corrupt waypoint"), a1.Reason)
	assert.False(t, c.State().SlotWritten(3, 1))
	assert.True(t, c.State().SlotWritten(9, 0))
	assert.True(t, c.State().SlotWritten(9, 2))

	require.NotNil(t, res.Report)
	require.Len(t, res.Report.Faults, 1)
	assert.Contains(t, res.Report.Faults[0], "agent 1")
}

type truncatedProvider struct {
	core.StaticTrajectories
	cut map[int]int
}

func (p truncatedProvider) Trajectory(ctx context.Context, id int) ([]core.Position, error) {
	traj, err := p.StaticTrajectories.Trajectory(ctx, id)
	if n, ok := p.cut[id]; ok && err == nil {
		return traj[:n], fmt.Errorf("%w: line %d: expected 3 fields", core.ErrTrajectory, n+1)
	}
	return traj, err
}

func TestTruncatedTrajectoryDeactivatesAtCut(t *testing.T) {
	provider := truncatedProvider{
		StaticTrajectories: core.StaticTrajectories{
			0: constant(home, 10),
			1: constant(far, 10),
		},
		cut: map[int]int{1: 4},
	}
	c := NewCoordinator(testEngine(2, 4, 5, 10), provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	a1 := c.State().Agent(1)
	assert.False(t, a1.Active)
	assert.Equal(t, 4, a1.Step)
	assert.Contains(t, a1.Reason, "line 5")
	assert.True(t, c.State().SlotWritten(3, 1))
	assert.False(t, c.State().SlotWritten(4, 1))
}

func TestMissingTrajectoryIsNotFatal(t *testing.T) {
	provider := core.StaticTrajectories{0: constant(home, 5)}
	c := NewCoordinator(testEngine(2, 4, 5, 5), provider)

	res, err := runToEnd(t, c)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	assert.Contains(t, c.State().Agent(1).Reason, "no trajectory for agent 1")
}

func TestStartRejectsInvalidEngine(t *testing.T) {
	eng := testEngine(0, 4, 5, 10)
	c := NewCoordinator(eng, core.StaticTrajectories{})

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrStartup)
	assert.ErrorIs(t, err, core.ErrConfig)
	assert.Nil(t, c.State())

	_, err = c.Wait(context.Background())
	assert.ErrorIs(t, err, core.ErrStartup)
}

func TestStartTwiceFails(t *testing.T) {
	c := NewCoordinator(testEngine(1, 4, 5, 2), core.StaticTrajectories{0: constant(home, 2)})
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.ErrorIs(t, c.Start(ctx), core.ErrStartup)
	_, err := c.Wait(ctx)
	require.NoError(t, err)
}

func TestStopRequestsFaultAbort(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 500),
		1: constant(far, 500),
	}
	var c *Coordinator
	c = NewCoordinator(testEngine(2, 4, 5, 500), provider,
		WithStepHook(func(closed, total int) {
			if closed == 3 {
				c.Stop()
			}
		}),
		withAgentHook(func(id, step int) { time.Sleep(time.Millisecond) }),
	)

	res, err := runToEnd(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.PhaseFaultAbort, res.Outcome)
	assert.Equal(t, "stop requested", res.Reason)
	assert.Less(t, res.StepsCompleted, 500)
	for _, a := range c.State().Agents() {
		assert.Equal(t, "stopped: FAULT_ABORT", a.Reason)
	}
}

func TestCallerCancellationIsFaultAbort(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 500),
		1: constant(far, 500),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCoordinator(testEngine(2, 4, 5, 500), provider,
		WithStepHook(func(closed, total int) {
			if closed == 2 {
				cancel()
			}
		}),
		withAgentHook(func(id, step int) { time.Sleep(time.Millisecond) }),
	)
	require.NoError(t, c.Start(ctx))

	res, err := c.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.PhaseFaultAbort, res.Outcome)
	require.NotNil(t, res.Report)
	assert.Equal(t, core.PhaseTerminated, c.State().Phase())
}

func TestReportArtifactMatchesCollisionLog(t *testing.T) {
	provider := core.StaticTrajectories{
		0: constant(home, 10),
		1: with(with(constant(far, 10), 2, near), 7, near),
		2: with(constant(core.Position{X: 90, Y: 90, Z: 90}, 10), 7, home),
	}
	dir := t.TempDir()
	reporter := reporting.NewReporter(reporting.WithArtifacts(dir, []string{reporting.FormatJSON}))
	c := NewCoordinator(testEngine(3, 4, 5, 10), provider, WithReporter(reporter), WithRunID("run-artifact-test"))

	res, err := runToEnd(t, c)
	require.NoError(t, err)
	require.Len(t, reporter.Artifacts(), 1)

	data, err := os.ReadFile(filepath.Join(dir, "simulation_report_run-arti.json"))
	require.NoError(t, err)
	var parsed reporting.Report
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, c.State().CollisionLog(), parsed.Collisions)
	assert.Equal(t, res.CollisionCount, parsed.CollisionCount)
	assert.Equal(t, 4, parsed.CollisionCount)
	assert.Equal(t, "run-artifact-test", parsed.RunID)
}

func TestMetricsAndTracing(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	exp := tracetest.NewInMemoryExporter()
	tp, err := observability.NewTracerProvider(context.Background(), "test", exp)
	require.NoError(t, err)

	var progress []int
	provider := core.StaticTrajectories{
		0: constant(home, 4),
		1: with(constant(far, 4), 1, near),
	}
	c := NewCoordinator(testEngine(2, 4, 5, 4), provider,
		WithMetrics(metrics),
		WithTracer(tp.Tracer(observability.TracerName)),
		WithStepHook(func(closed, total int) {
			assert.Equal(t, 4, total)
			progress = append(progress, closed)
		}),
	)

	_, err = runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.Steps))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Collisions))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Runs.WithLabelValues("NATURAL_COMPLETION", "PASS")))

	var runs, steps int
	for _, s := range exp.GetSpans() {
		switch s.Name {
		case "simulation.run":
			runs++
		case "simulation.step":
			steps++
		}
	}
	assert.Equal(t, 1, runs)
	assert.Equal(t, 4, steps)
}

func TestCSVTrajectoriesDriveARun(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("drone1_movement.csv", "10,10,10\n10,10,10\n10,10,10\n")
	write("drone2_movement.csv", "50,50,50\n\n11,10,10\n0,0,0\n")

	c := NewCoordinator(testEngine(2, 4, 5, 3), core.NewCSVTrajectoryProvider(dir))
	res, err := runToEnd(t, c)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseNaturalCompletion, res.Outcome)
	assert.Equal(t, 1, res.CollisionCount)
	assert.Equal(t, 1, c.State().CollisionLog()[0].Timestep)
}
