package controllers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/core"
)

func TestNewStepBarrierRejectsEmpty(t *testing.T) {
	_, err := NewStepBarrier(0)
	assert.ErrorIs(t, err, core.ErrSyncPrimitive)
}

func TestCollectWaitsForEveryExpectedAgent(t *testing.T) {
	b, err := NewStepBarrier(3)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Ready(ctx, 0, 0))
	require.NoError(t, b.Deactivated(ctx, 2, 0))
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Ready(ctx, 1, 0)
	}()

	got, err := b.Collect(ctx, 0, []int{0, 1, 2}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[int]SignalKind{0: SignalReady, 1: SignalReady, 2: SignalDeactivated}, got)
}

func TestCollectDiscardsStaleAndUnexpectedSignals(t *testing.T) {
	b, err := NewStepBarrier(3)
	require.NoError(t, err)
	ctx := context.Background()

	// a deactivation left over from step 0 must not satisfy step 1
	require.NoError(t, b.Deactivated(ctx, 1, 0))
	// agent 2 is no longer expected
	require.NoError(t, b.Ready(ctx, 2, 1))
	require.NoError(t, b.Ready(ctx, 0, 1))

	got, err := b.Collect(ctx, 1, []int{0, 1}, 50*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrStepTimeout)
	assert.Equal(t, map[int]SignalKind{0: SignalReady}, got)
}

func TestCollectCountsDeactivationOnce(t *testing.T) {
	b, err := NewStepBarrier(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Deactivated(ctx, 0, 4))
	require.NoError(t, b.Deactivated(ctx, 0, 4))
	require.NoError(t, b.Ready(ctx, 1, 4))

	got, err := b.Collect(ctx, 4, []int{0, 1}, time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// the duplicate is stale for the next step and ignored
	require.NoError(t, b.Ready(ctx, 1, 5))
	got, err = b.Collect(ctx, 5, []int{1}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[int]SignalKind{1: SignalReady}, got)
}

func TestCollectHonoursContext(t *testing.T) {
	b, err := NewStepBarrier(1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.Collect(ctx, 0, []int{0}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReleaseAndAwaitContinue(t *testing.T) {
	b, err := NewStepBarrier(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Release(1, 3))
	assert.ErrorIs(t, b.Release(1, 3), core.ErrSyncPrimitive)
	require.NoError(t, b.AwaitContinue(ctx, 1, 3))

	// a stale release is skipped while waiting for the right step
	require.NoError(t, b.Release(0, 2))
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Release(0, 3)
	}()
	require.NoError(t, b.AwaitContinue(ctx, 0, 3))

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.AwaitContinue(timeout, 0, 4), context.DeadlineExceeded)
}
