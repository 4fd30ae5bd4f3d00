package controllers

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/atomic"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// Deactivation reasons recorded on the agent
const (
	ReasonSentinel  = "sentinel reached"
	ReasonExhausted = "trajectory exhausted"
	ReasonCompleted = "run completed"
)

// AgentWorker replays one drone's trajectory in lockstep with the others
type AgentWorker struct {
	id         int
	trajectory []core.Position
	truncation error

	state   *core.State
	barrier *StepBarrier

	notices     chan core.CollisionEvent
	noticeCount *atomic.Int64
	exited      *atomic.Bool

	step      int
	readySent bool

	// onStep runs after the position for a step is written. Tests use it to
	// inject faults.
	onStep func(step int)

	log logger.Logger
}

// NewAgentWorker creates the worker for agent id. truncation is the error
// that cut the trajectory short, if any.
func NewAgentWorker(id int, trajectory []core.Position, truncation error, state *core.State, barrier *StepBarrier) *AgentWorker {
	return &AgentWorker{
		id:          id,
		trajectory:  trajectory,
		truncation:  truncation,
		state:       state,
		barrier:     barrier,
		notices:     make(chan core.CollisionEvent, 1),
		noticeCount: atomic.NewInt64(0),
		exited:      atomic.NewBool(false),
		log:         logger.WithPrefix(fmt.Sprintf("drone-%d", id)),
	}
}

// ID returns the agent id
func (w *AgentWorker) ID() int { return w.id }

// Exited reports whether Run has returned
func (w *AgentWorker) Exited() bool { return w.exited.Load() }

// Notices returns how many collision notices were addressed to the agent
func (w *AgentWorker) Notices() int { return int(w.noticeCount.Load()) }

// Notify delivers a collision notice. Notices that arrive while one is
// already pending are counted but coalesced.
func (w *AgentWorker) Notify(ev core.CollisionEvent) {
	w.noticeCount.Inc()
	select {
	case w.notices <- ev:
	default:
	}
}

// Run executes the agent loop. A panic inside the loop deactivates this agent
// only and is returned as a trajectory error.
func (w *AgentWorker) Run(ctx context.Context) (err error) {
	defer w.exited.Store(true)
	defer func() {
		w.state.RecordNotices(w.id, w.Notices())
	}()

	var pc panics.Catcher
	pc.Try(func() {
		err = w.loop(ctx)
	})

	if r := pc.Recovered(); r != nil {
		w.state.Deactivate(w.id, w.step, fmt.Sprintf("panic: %v", r.Value))
		step := w.step
		if w.readySent {
			step++
		}
		_ = w.barrier.Deactivated(ctx, w.id, step)
		w.log.Errorf("Recovered from panic at step %d: %v", w.step, r.Value)
		return fmt.Errorf("agent %d: %w: %v", w.id, core.ErrTrajectory, r.AsError())
	}
	return err
}

func (w *AgentWorker) loop(ctx context.Context) error {
	for {
		w.drainNotices()

		if ctx.Err() != nil || w.state.Aborted() {
			w.stop()
			return nil
		}

		if reason, done := w.finished(); done {
			w.state.Deactivate(w.id, w.step, reason)
			w.log.Debugf("Deactivated at step %d: %s", w.step, reason)
			_ = w.barrier.Deactivated(ctx, w.id, w.step)
			return nil
		}

		pos := w.trajectory[w.step]
		if err := w.state.WritePosition(w.id, w.step, pos); err != nil {
			// rejected writes only happen once the run is over
			w.log.Debugf("Write rejected: %v", err)
			w.stop()
			return nil
		}
		if w.onStep != nil {
			w.onStep(w.step)
		}

		w.readySent = true
		if err := w.barrier.Ready(ctx, w.id, w.step); err != nil {
			w.stop()
			return nil
		}
		if err := w.barrier.AwaitContinue(ctx, w.id, w.step); err != nil {
			w.stop()
			return nil
		}
		w.readySent = false
		w.step++
	}
}

// finished reports whether the trajectory has no position for the current step
func (w *AgentWorker) finished() (string, bool) {
	if w.step >= len(w.trajectory) {
		if w.truncation != nil {
			return w.truncation.Error(), true
		}
		return ReasonExhausted, true
	}
	if w.trajectory[w.step].IsSentinel() {
		return ReasonSentinel, true
	}
	return "", false
}

// stop records why the agent left when the run ended around it
func (w *AgentWorker) stop() {
	var reason string
	switch outcome := w.state.Outcome(); outcome {
	case core.PhaseNaturalCompletion:
		reason = ReasonCompleted
	case core.PhaseRunning:
		reason = "stopped: cancelled"
	default:
		reason = "stopped: " + outcome.String()
	}
	w.state.Deactivate(w.id, w.step, reason)
}

func (w *AgentWorker) drainNotices() {
	for {
		select {
		case ev := <-w.notices:
			w.log.Debugf("Collision notice: timestep %d with drone %d", ev.Timestep, other(ev, w.id))
		default:
			return
		}
	}
}

func other(ev core.CollisionEvent, id int) int {
	if ev.AgentA == id {
		return ev.AgentB
	}
	return ev.AgentA
}
