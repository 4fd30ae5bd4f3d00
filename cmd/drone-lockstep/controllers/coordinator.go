package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/config"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/observability"
	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/reporting"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// Result is the outcome of one run
type Result struct {
	RunID          string
	Outcome        core.Phase
	Verdict        string
	StepsCompleted int
	CollisionCount int
	Dropped        int
	TerminatedAt   int
	Reason         string
	Report         *reporting.Report
	Duration       time.Duration
}

// Passed reports whether the run finished with a PASS verdict
func (r *Result) Passed() bool {
	return r.Verdict == reporting.VerdictPass
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithReporter replaces the default console-only reporter
func WithReporter(r *reporting.Reporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

// WithMetrics records step and run metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer emits a span per run and per step
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithLogger sets the coordinator's console logger
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithRunID overrides the generated run id
func WithRunID(id string) Option {
	return func(c *Coordinator) { c.runID = id }
}

// WithSimulationName labels the report
func WithSimulationName(name string) Option {
	return func(c *Coordinator) { c.simulation = name }
}

// WithStepHook is called on the coordinator goroutine after every closed
// step with the number of closed steps and the total
func WithStepHook(fn func(closed, total int)) Option {
	return func(c *Coordinator) { c.stepHook = fn }
}

// Coordinator owns the shared state, the step barrier, the agent workers and
// the reporter for a single run
type Coordinator struct {
	cfg      config.Engine
	provider core.TrajectoryProvider

	state    *core.State
	barrier  *StepBarrier
	detector *core.Detector
	reporter *reporting.Reporter
	workers  []*AgentWorker

	group        conc.WaitGroup
	cancelAgents context.CancelFunc
	stopReporter context.CancelFunc

	faultsMu    sync.Mutex
	agentFaults error

	stopCtx context.Context
	stop    context.CancelFunc
	started *atomic.Bool

	metrics    *observability.Metrics
	tracer     trace.Tracer
	runCtx     context.Context
	runSpan    trace.Span
	log        logger.Logger
	stepHook   func(closed, total int)
	agentHook  func(id, step int)
	runID      string
	simulation string
	startedAt  time.Time

	capacityWarned bool
}

// NewCoordinator prepares a run. Nothing is allocated until Start.
func NewCoordinator(cfg config.Engine, provider core.TrajectoryProvider, opts ...Option) *Coordinator {
	stopCtx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		provider:   provider,
		stopCtx:    stopCtx,
		stop:       stop,
		started:    atomic.NewBool(false),
		tracer:     noop.NewTracerProvider().Tracer(observability.TracerName),
		log:        logger.WithPrefix("coordinator"),
		runID:      uuid.NewString(),
		simulation: "drone-lockstep",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = reporting.NewReporter()
	}
	return c
}

// RunID returns the id used for the report and storage
func (c *Coordinator) RunID() string {
	return c.runID
}

// State exposes the shared state. It is nil before Start.
func (c *Coordinator) State() *core.State {
	return c.state
}

// Start allocates the run, loads every trajectory and launches one worker per
// agent. Any error is fatal: no agent is running and no report is produced.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CAS(false, true) {
		return fmt.Errorf("%w: coordinator already started", core.ErrStartup)
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}
	if c.provider == nil {
		return fmt.Errorf("%w: %w: no trajectory provider", core.ErrStartup, core.ErrConfig)
	}

	stateCfg := core.StateConfig{
		NumAgents:      c.cfg.NumAgents,
		TotalTimeSteps: c.cfg.TimeSteps,
		DroneSize:      c.cfg.DroneSize,
		MaxCollisions:  c.cfg.MaxCollisions,
		LogCapacity:    c.cfg.LogCapacity,
	}
	state, err := core.NewState(stateCfg)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}
	barrier, err := NewStepBarrier(c.cfg.NumAgents)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStartup, err)
	}
	workers := make([]*AgentWorker, c.cfg.NumAgents)
	for id := range workers {
		trajectory, truncation := c.loadTrajectory(ctx, id)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: loading trajectories: %w", core.ErrStartup, err)
		}
		reason := ""
		if truncation != nil {
			reason = truncation.Error()
		}
		if err := state.SetTrajectory(id, trajectory, reason); err != nil {
			return fmt.Errorf("%w: %w", core.ErrStartup, err)
		}

		w := NewAgentWorker(id, trajectory, truncation, state, barrier)
		if c.agentHook != nil {
			hook, agent := c.agentHook, id
			w.onStep = func(step int) { hook(agent, step) }
		}
		workers[id] = w
	}
	c.workers = workers
	c.detector = core.NewDetector(state, c.reporter, core.ObserverFunc(c.notifyAgents))

	c.startedAt = time.Now()
	c.runCtx, c.runSpan = c.tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("run.id", c.runID),
		attribute.Int("engine.num_agents", c.cfg.NumAgents),
		attribute.Int("engine.time_steps", c.cfg.TimeSteps),
		attribute.Int("engine.max_collisions", c.cfg.MaxCollisions),
		attribute.Float64("engine.drone_size", c.cfg.DroneSize),
	))

	// the reporter outlives caller cancellation so the final report is still written
	reporterCtx, stopReporter := context.WithCancel(context.WithoutCancel(ctx))
	c.stopReporter = stopReporter
	c.reporter.Start(reporterCtx)
	c.reporter.RunStarted(stateCfg)

	if err := state.Transition(core.PhaseRunning); err != nil {
		stopReporter()
		c.runSpan.End()
		return fmt.Errorf("%w: %w: %w", core.ErrStartup, core.ErrSyncPrimitive, err)
	}
	c.state = state
	c.barrier = barrier

	agentCtx, cancelAgents := context.WithCancel(ctx)
	c.cancelAgents = cancelAgents
	for _, w := range workers {
		w := w
		c.group.Go(func() {
			if err := w.Run(agentCtx); err != nil {
				c.recordAgentFault(err)
			}
		})
	}

	c.log.Infof("Run %s started: %d drones, %d timesteps, threshold %d",
		c.runID, c.cfg.NumAgents, c.cfg.TimeSteps, c.cfg.MaxCollisions)
	return nil
}

// loadTrajectory returns the agent's positions and the error that cut them
// short, if any. Trajectory errors are not fatal: the agent replays what was
// read and deactivates at the cut.
func (c *Coordinator) loadTrajectory(ctx context.Context, id int) ([]core.Position, error) {
	trajectory, err := c.provider.Trajectory(ctx, id)
	if err == nil {
		return trajectory, nil
	}
	if !errors.Is(err, core.ErrTrajectory) {
		err = fmt.Errorf("%w: %w", core.ErrTrajectory, err)
	}
	c.log.Warnf("Drone %d: %v (replaying %d positions)", id, err, len(trajectory))
	return trajectory, err
}

func (c *Coordinator) notifyAgents(ev core.CollisionEvent, _ int, _ bool) {
	for _, id := range []int{ev.AgentA, ev.AgentB} {
		if id >= 0 && id < len(c.workers) {
			c.workers[id].Notify(ev)
		}
	}
}

func (c *Coordinator) recordAgentFault(err error) {
	c.faultsMu.Lock()
	defer c.faultsMu.Unlock()
	c.agentFaults = multierr.Append(c.agentFaults, err)
}

// Stop requests a FAULT_ABORT. It is safe to call at any time.
func (c *Coordinator) Stop() {
	c.stop()
}

// ending describes why the step loop stopped
type ending struct {
	outcome core.Phase
	step    int
	reason  string
	err     error
}

// Wait drives the lockstep cycle to a terminal phase, shuts the agents down
// and produces the report. The result is non-nil whenever Start succeeded.
// The error is non-nil for FAULT_ABORT and for agents that had to be force
// stopped.
func (c *Coordinator) Wait(ctx context.Context) (*Result, error) {
	if c.state == nil {
		return nil, fmt.Errorf("%w: coordinator not started", core.ErrStartup)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := context.AfterFunc(c.stopCtx, cancel)
	defer unregister()
	if c.stopCtx.Err() != nil {
		cancel()
	}

	end := c.drive(runCtx, ctx)
	return c.shutdown(end)
}

func (c *Coordinator) drive(runCtx, parent context.Context) ending {
	total := c.cfg.TimeSteps

	for {
		step := c.state.CurrentTimestep()
		expected := c.state.ActiveIDs()
		if err := runCtx.Err(); err != nil {
			return c.faultEnding(step, err, parent)
		}

		_, span := c.tracer.Start(c.runCtx, "simulation.step", trace.WithAttributes(
			attribute.Int("step", step),
			attribute.Int("agents.expected", len(expected)),
		))

		waitStart := time.Now()
		signals, err := c.barrier.Collect(runCtx, step, expected, c.cfg.StepTimeout)
		wait := time.Since(waitStart)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "barrier")
			span.End()
			return c.faultEnding(step, err, parent)
		}

		closed, err := c.state.AdvanceTimestep()
		if err != nil {
			span.End()
			return ending{outcome: core.PhaseFaultAbort, step: step, reason: err.Error(), err: err}
		}

		result, err := c.detector.Detect(closed)
		if err != nil {
			span.End()
			return ending{outcome: core.PhaseFaultAbort, step: closed, reason: err.Error(), err: err}
		}
		if result.CapacityExceeded() && !c.capacityWarned {
			c.capacityWarned = true
			c.log.Warnf("%v at timestep %d: further collisions are counted without detail", core.ErrCapacityExceeded, closed)
		}

		// dedup is cleared before any agent may write the next step
		if err := c.state.ClearDedup(closed); err != nil {
			span.End()
			return ending{outcome: core.PhaseFaultAbort, step: closed, reason: err.Error(), err: err}
		}

		active := c.state.ActiveIDs()
		c.metrics.ObserveStep(wait, len(result.Recorded), result.Dropped, len(active))
		if c.stepHook != nil {
			c.stepHook(closed+1, total)
		}
		span.SetAttributes(
			attribute.Int("collisions.new", result.Intersections),
			attribute.Int("collisions.count", result.CollisionCount),
			attribute.Int("agents.active", len(active)),
		)
		span.End()

		if result.ThresholdReached {
			_, reason := c.state.AbortInfo()
			return ending{outcome: core.PhaseCollisionAbort, step: closed, reason: reason}
		}
		if closed+1 >= total {
			return ending{outcome: core.PhaseNaturalCompletion, step: closed,
				reason: fmt.Sprintf("all %d timesteps completed", total)}
		}
		if len(active) == 0 {
			return ending{outcome: core.PhaseNaturalCompletion, step: closed,
				reason: "all drones finished their trajectories"}
		}

		for _, id := range active {
			if signals[id] != SignalReady {
				continue
			}
			if err := c.barrier.Release(id, closed); err != nil {
				return ending{outcome: core.PhaseFaultAbort, step: closed, reason: err.Error(), err: err}
			}
		}
	}
}

func (c *Coordinator) faultEnding(step int, err error, parent context.Context) ending {
	switch {
	case errors.Is(err, core.ErrStepTimeout):
		return ending{outcome: core.PhaseFaultAbort, step: step, reason: err.Error(), err: err}
	case c.stopCtx.Err() != nil:
		return ending{outcome: core.PhaseFaultAbort, step: step, reason: "stop requested",
			err: fmt.Errorf("step %d: stop requested: %w", step, context.Canceled)}
	case parent.Err() != nil:
		return ending{outcome: core.PhaseFaultAbort, step: step, reason: "cancelled: " + parent.Err().Error(),
			err: fmt.Errorf("step %d: %w", step, parent.Err())}
	default:
		return ending{outcome: core.PhaseFaultAbort, step: step, reason: err.Error(), err: err}
	}
}

func (c *Coordinator) shutdown(end ending) (*Result, error) {
	defer c.stop()
	defer c.stopReporter()

	var faults error
	if end.outcome == core.PhaseFaultAbort {
		c.state.RequestAbort(end.step, end.reason)
		faults = multierr.Append(faults, end.err)
	}
	if err := c.state.Transition(end.outcome); err != nil {
		faults = multierr.Append(faults, err)
	}
	c.log.Infof("Run ended with %s at timestep %d: %s", end.outcome, end.step, end.reason)

	c.cancelAgents()
	if !c.awaitAgents(c.gracePeriod()) {
		for _, w := range c.workers {
			if w.Exited() {
				continue
			}
			c.state.ForceStop(w.ID())
			c.log.Errorf("Drone %d did not stop within %s, force stopped", w.ID(), c.gracePeriod())
			faults = multierr.Append(faults, fmt.Errorf("agent %d: %w", w.ID(), core.ErrAgentUnresponsive))
		}
	}
	for _, w := range c.workers {
		c.state.RecordNotices(w.ID(), w.Notices())
	}

	var faultLines []string
	for _, err := range multierr.Errors(faults) {
		faultLines = append(faultLines, err.Error())
	}
	c.faultsMu.Lock()
	for _, err := range multierr.Errors(c.agentFaults) {
		faultLines = append(faultLines, err.Error())
	}
	c.faultsMu.Unlock()

	if err := c.state.Transition(core.PhaseReporting); err != nil {
		faults = multierr.Append(faults, err)
	}

	endedAt := time.Now()
	snap := c.state.Snapshot()
	report, reportErr := c.reporter.Finish(snap, reporting.RunMeta{
		RunID:        c.runID,
		Simulation:   c.simulation,
		StartedAt:    c.startedAt,
		EndedAt:      endedAt,
		Reason:       end.reason,
		TerminatedAt: end.step,
		Faults:       faultLines,
	})
	if reportErr != nil {
		c.log.Errorf("Report incomplete: %v", reportErr)
	}

	if err := c.state.Transition(core.PhaseTerminated); err != nil {
		faults = multierr.Append(faults, err)
	}

	result := &Result{
		RunID:          c.runID,
		Outcome:        end.outcome,
		Verdict:        snap.Verdict(),
		StepsCompleted: snap.CurrentTimestep,
		CollisionCount: len(snap.Collisions),
		Dropped:        snap.Dropped,
		TerminatedAt:   end.step,
		Reason:         end.reason,
		Report:         report,
		Duration:       endedAt.Sub(c.startedAt),
	}

	c.metrics.ObserveRun(end.outcome.String(), result.Verdict)
	c.runSpan.SetAttributes(
		attribute.String("run.outcome", end.outcome.String()),
		attribute.String("run.verdict", result.Verdict),
		attribute.Int("run.steps_completed", result.StepsCompleted),
		attribute.Int("run.collisions", result.CollisionCount),
	)
	if faults != nil {
		c.runSpan.RecordError(faults)
		c.runSpan.SetStatus(codes.Error, end.reason)
	}
	c.runSpan.End()

	return result, multierr.Append(faults, reportErr)
}

func (c *Coordinator) gracePeriod() time.Duration {
	if c.cfg.GracePeriod > 0 {
		return c.cfg.GracePeriod
	}
	return config.DefaultEngine().GracePeriod
}

// awaitAgents waits up to grace for every worker to return. A worker that
// never returns keeps the waiting goroutine alive; its state access is
// revoked by ForceStop.
func (c *Coordinator) awaitAgents(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.group.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
