package controllers

import (
	"context"
	"fmt"
	"time"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
)

// SignalKind says what an agent reported for a step
type SignalKind int

const (
	// SignalReady means the agent wrote its position for the step
	SignalReady SignalKind = iota
	// SignalDeactivated means the agent left the run at the step
	SignalDeactivated
)

func (k SignalKind) String() string {
	if k == SignalDeactivated {
		return "deactivated"
	}
	return "ready"
}

// Signal is one agent-to-coordinator message
type Signal struct {
	Agent int
	Step  int
	Kind  SignalKind
}

// StepBarrier is the two-phase rendezvous between agents and the
// coordinator. Agents fan in on one ready channel and each waits on its own
// continue channel. Every message carries the step it belongs to.
type StepBarrier struct {
	ready   chan Signal
	proceed []chan int
}

// NewStepBarrier allocates the channels for n agents
func NewStepBarrier(n int) (*StepBarrier, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: barrier needs at least one agent, got %d", core.ErrSyncPrimitive, n)
	}

	cont := make([]chan int, n)
	for i := range cont {
		cont[i] = make(chan int, 1)
	}

	// an agent has at most one current and one stale signal in flight
	return &StepBarrier{
		ready:   make(chan Signal, 2*n),
		proceed: cont,
	}, nil
}

// Size returns the number of agents the barrier was built for
func (b *StepBarrier) Size() int {
	return len(b.proceed)
}

func (b *StepBarrier) send(ctx context.Context, sig Signal) error {
	select {
	case b.ready <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports that agent id wrote its position for step
func (b *StepBarrier) Ready(ctx context.Context, id, step int) error {
	return b.send(ctx, Signal{Agent: id, Step: step, Kind: SignalReady})
}

// Deactivated reports that agent id left the run at step
func (b *StepBarrier) Deactivated(ctx context.Context, id, step int) error {
	return b.send(ctx, Signal{Agent: id, Step: step, Kind: SignalDeactivated})
}

// AwaitContinue blocks until the coordinator releases agent id past step
func (b *StepBarrier) AwaitContinue(ctx context.Context, id, step int) error {
	if id < 0 || id >= len(b.proceed) {
		return fmt.Errorf("agent %d outside barrier of %d", id, len(b.proceed))
	}
	for {
		select {
		case released := <-b.proceed[id]:
			if released == step {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release lets agent id continue past step. It never blocks.
func (b *StepBarrier) Release(id, step int) error {
	if id < 0 || id >= len(b.proceed) {
		return fmt.Errorf("agent %d outside barrier of %d", id, len(b.proceed))
	}
	select {
	case b.proceed[id] <- step:
		return nil
	default:
		return fmt.Errorf("%w: continue for agent %d step %d already pending", core.ErrSyncPrimitive, id, step)
	}
}

// Collect waits until every agent in expected has reported ready or
// deactivated for step. Signals for earlier steps and from agents outside
// expected are discarded, so a deactivation is never counted twice.
// A zero timeout waits indefinitely.
func (b *StepBarrier) Collect(ctx context.Context, step int, expected []int, timeout time.Duration) (map[int]SignalKind, error) {
	pending := make(map[int]struct{}, len(expected))
	for _, id := range expected {
		pending[id] = struct{}{}
	}
	got := make(map[int]SignalKind, len(expected))

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for len(pending) > 0 {
		select {
		case sig := <-b.ready:
			if sig.Step < step {
				continue
			}
			if _, ok := pending[sig.Agent]; !ok {
				continue
			}
			if sig.Kind == SignalReady && sig.Step != step {
				continue
			}
			delete(pending, sig.Agent)
			got[sig.Agent] = sig.Kind
		case <-expired:
			return got, fmt.Errorf("step %d: %d of %d agents did not report: %w",
				step, len(pending), len(expected), core.ErrStepTimeout)
		case <-ctx.Done():
			return got, ctx.Err()
		}
	}
	return got, nil
}
